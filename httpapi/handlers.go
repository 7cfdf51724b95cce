package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vinayprograms/orderclaim/errors"
	"github.com/vinayprograms/orderclaim/lifecycle"
	"github.com/vinayprograms/orderclaim/orders"
)

func (s *Server) submitOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireRole(w, r, lifecycle.RoleCustomer)
	if !ok {
		return
	}
	var in orders.NewOrder
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && in.IdempotencyKey == "" {
		in.IdempotencyKey = key
	}
	task, err := s.svc.Submit(r.Context(), caller.ID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// getOrder shows an order to its customer, the provider holding it, or
// an admin.
func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	task, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	claimable := caller.Role == lifecycle.RoleProvider && task.Status == orders.StatusPending
	if !involved(caller, task) && !claimable {
		s.writeError(w, r, errors.NotFound("order", task.ID))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// involved reports whether caller is the order's customer, the provider
// holding it, or an admin.
func involved(caller lifecycle.Caller, task *orders.Task) bool {
	switch caller.Role {
	case lifecycle.RoleAdmin:
		return true
	case lifecycle.RoleCustomer:
		return task.CustomerID == caller.ID
	case lifecycle.RoleProvider:
		return task.ProviderID != "" && task.ProviderID == caller.ID
	}
	return false
}

func (s *Server) listClaimable(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireRole(w, r, lifecycle.RoleProvider, lifecycle.RoleAdmin); !ok {
		return
	}
	tasks, err := s.svc.ListClaimable(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": nonNil(tasks)})
}

// listMine returns a provider's claims or a customer's orders.
func (s *Server) listMine(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	switch caller.Role {
	case lifecycle.RoleProvider:
		claims, err := s.svc.ListMyClaims(r.Context(), caller.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"claims": nonNil(claims)})
	case lifecycle.RoleCustomer:
		tasks, err := s.svc.ListCustomerOrders(r.Context(), caller.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"orders": nonNil(tasks)})
	default:
		s.requireRole(w, r, lifecycle.RoleProvider, lifecycle.RoleCustomer)
	}
}

type taskFunc func(ctx context.Context, taskID, callerID string) (*orders.Task, error)

func (s *Server) orderAction(action taskFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := s.requireRole(w, r, lifecycle.RoleProvider)
		if !ok {
			return
		}
		task, err := action(r.Context(), chi.URLParam(r, "id"), caller.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	task, err := s.svc.Cancel(r.Context(), chi.URLParam(r, "id"), callerFrom(r.Context()), req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) proposeQuote(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireRole(w, r, lifecycle.RoleProvider)
	if !ok {
		return
	}
	var in orders.NewQuote
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	q, err := s.svc.ProposeQuote(r.Context(), chi.URLParam(r, "id"), caller.ID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

// listQuotes hides quotes the same way getOrder hides the order, except
// that a Pending order's quotes are not shown to every provider.
func (s *Server) listQuotes(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	task, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !involved(caller, task) {
		s.writeError(w, r, errors.NotFound("order", task.ID))
		return
	}
	quotes, err := s.svc.ListQuotes(r.Context(), task.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"quotes": nonNil(quotes)})
}

type quoteFunc func(ctx context.Context, quoteID, callerID string) (*orders.Quote, error)

// quoteAction runs action for callers whose token carries role.
// Ownership is checked by the quote lifecycle.
func (s *Server) quoteAction(role lifecycle.Role, action quoteFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := s.requireRole(w, r, role)
		if !ok {
			return
		}
		q, err := action(r.Context(), chi.URLParam(r, "id"), caller.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

type confirmRequest struct {
	Intent string `json:"intent"`
}

func (s *Server) confirmPayment(w http.ResponseWriter, r *http.Request) {
	if !s.checkPaymentSecret(r) {
		s.writeError(w, r, errors.Unauthorized("payment callback secret mismatch"))
		return
	}
	var req confirmRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	q, err := s.svc.ConfirmPayment(r.Context(), req.Intent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) getProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Provider(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
