package httpapi

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/vinayprograms/orderclaim/errors"
	"github.com/vinayprograms/orderclaim/lifecycle"
	"github.com/vinayprograms/orderclaim/logging"
	"github.com/vinayprograms/orderclaim/orders"
	"github.com/vinayprograms/orderclaim/ratelimit"
	"github.com/vinayprograms/orderclaim/telemetry"
)

// PaymentSecretHeader carries the shared secret on payment callbacks.
const PaymentSecretHeader = "X-Payment-Secret"

// Server exposes orders.Service over HTTP.
type Server struct {
	svc           *orders.Service
	tokens        *TokenManager
	paymentSecret string
	limiter       *ratelimit.Limiter
	log           *logging.Logger
	tracer        *telemetry.Tracer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.log = l.WithComponent("http") }
}

// WithRateLimiter throttles authenticated callers.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithPaymentSecret enables POST /v1/payments/confirm for callers that
// present secret.
func WithPaymentSecret(secret string) Option {
	return func(s *Server) { s.paymentSecret = secret }
}

// WithTracer sets the tracer used for request spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// NewServer builds the HTTP front end.
func NewServer(svc *orders.Service, tokens *TokenManager, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		tokens: tokens,
		log:    logging.Nop(),
		tracer: telemetry.GetTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(chimw.Timeout(15 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/v1/payments/confirm", s.confirmPayment)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", s.submitOrder)
			r.Get("/claimable", s.listClaimable)
			r.Get("/mine", s.listMine)
			r.Get("/{id}", s.getOrder)
			r.Post("/{id}/claim", s.orderAction(s.svc.Claim))
			r.Post("/{id}/release", s.orderAction(s.svc.Release))
			r.Post("/{id}/accept", s.orderAction(s.svc.Accept))
			r.Post("/{id}/start", s.orderAction(s.svc.Start))
			r.Post("/{id}/complete", s.orderAction(s.svc.Complete))
			r.Post("/{id}/cancel", s.cancelOrder)
			r.Post("/{id}/quotes", s.proposeQuote)
			r.Get("/{id}/quotes", s.listQuotes)
		})
		r.Post("/quotes/{id}/approve", s.quoteAction(lifecycle.RoleCustomer, s.svc.ApproveQuote))
		r.Post("/quotes/{id}/decline", s.quoteAction(lifecycle.RoleCustomer, s.svc.DeclineQuote))
		r.Post("/quotes/{id}/cancel", s.quoteAction(lifecycle.RoleProvider, s.svc.CancelQuote))
		r.Get("/providers/{id}", s.getProvider)
	})
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractTokenFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		caller, err := s.tokens.Validate(token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			caller := callerFrom(r.Context())
			if !s.limiter.Allow(caller.ID) {
				w.Header().Set("Retry-After", fmt.Sprint(int(s.limiter.RetryAfter().Seconds()+0.999)))
				s.writeError(w, r, errors.New(errors.ErrCodeRateLimited, "too many requests",
					errors.WithActorID(caller.ID)))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := s.tracer.StartSpan(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		s.log.WithTraceID(telemetry.TraceID(ctx)).Info("request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  chimw.GetReqID(r.Context()),
		})
	})
}

func (s *Server) requireRole(w http.ResponseWriter, r *http.Request, roles ...lifecycle.Role) (lifecycle.Caller, bool) {
	caller := callerFrom(r.Context())
	for _, role := range roles {
		if caller.Role == role {
			return caller, true
		}
	}
	s.writeError(w, r, errors.New(errors.ErrCodeNotOwner,
		fmt.Sprintf("role %s may not call %s %s", caller.Role, r.Method, r.URL.Path),
		errors.WithActorID(caller.ID)))
	return caller, false
}

func (s *Server) checkPaymentSecret(r *http.Request) bool {
	if s.paymentSecret == "" {
		return false
	}
	got := r.Header.Get(PaymentSecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.paymentSecret)) == 1
}
