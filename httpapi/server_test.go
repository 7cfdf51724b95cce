package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/orderclaim/errors"
	"github.com/vinayprograms/orderclaim/lifecycle"
	"github.com/vinayprograms/orderclaim/orders"
	"github.com/vinayprograms/orderclaim/payments"
	"github.com/vinayprograms/orderclaim/ratelimit"
	"github.com/vinayprograms/orderclaim/records"
	"github.com/vinayprograms/orderclaim/state"
)

const (
	testSecret        = "test-signing-secret"
	testPaymentSecret = "whsec_test"
)

type harness struct {
	t      *testing.T
	srv    *httptest.Server
	tokens *TokenManager
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	svc := orders.NewService(records.NewKVBackend(state.NewMemoryStore(), "memory"),
		orders.WithPayments(payments.NewMemory()))
	tokens := NewTokenManager(testSecret, "orderclaim-test")
	opts = append([]Option{WithPaymentSecret(testPaymentSecret)}, opts...)
	srv := httptest.NewServer(NewServer(svc, tokens, opts...).Handler())
	t.Cleanup(srv.Close)
	return &harness{t: t, srv: srv, tokens: tokens}
}

func (h *harness) token(id string, role lifecycle.Role) string {
	h.t.Helper()
	tok, err := h.tokens.IssueToken(id, role, time.Hour)
	require.NoError(h.t, err)
	return tok
}

// do sends body as JSON with the given bearer token and decodes the
// response into out when out is not nil.
func (h *harness) do(method, path, token string, body, out interface{}) int {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(h.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type errorBody struct {
	Code      string            `json:"code"`
	Category  string            `json:"category"`
	Retryable bool              `json:"retryable"`
	Metadata  map[string]string `json:"metadata"`
}

var sampleOrder = orders.NewOrder{
	Items:    []orders.Item{{Name: "oil change", Quantity: 1, UnitPrice: 6000}},
	Location: orders.Location{Address: "1 Mill Lane"},
}

func (h *harness) submit(customer string) orders.Task {
	h.t.Helper()
	var task orders.Task
	status := h.do(http.MethodPost, "/v1/orders", h.token(customer, lifecycle.RoleCustomer), sampleOrder, &task)
	require.Equal(h.t, http.StatusCreated, status)
	return task
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", "", nil, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAuth(t *testing.T) {
	h := newHarness(t)

	var e errorBody
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/v1/orders/claimable", "", nil, &e))
	assert.Equal(t, "UNAUTHORIZED", e.Code)

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/v1/orders/claimable", "not-a-jwt", nil, nil))

	other := NewTokenManager("other-secret", "orderclaim-test")
	forged, err := other.IssueToken("p1", lifecycle.RoleProvider, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/v1/orders/claimable", forged, nil, nil))

	expired, err := h.tokens.IssueToken("p1", lifecycle.RoleProvider, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/v1/orders/claimable", expired, nil, nil))

	system, err := h.tokens.IssueToken("gw", lifecycle.RoleSystem, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/v1/orders/claimable", system, nil, nil))
}

func TestTokenManager_Validate(t *testing.T) {
	tm := NewTokenManager(testSecret, "")
	tok, err := tm.IssueToken("c1", lifecycle.RoleCustomer, time.Hour)
	require.NoError(t, err)

	caller, err := tm.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Caller{ID: "c1", Role: lifecycle.RoleCustomer}, caller)

	_, err = ExtractTokenFromHeader("Basic abc")
	assert.True(t, errors.Is(err, errors.ErrCodeUnauthorized))
	got, err := ExtractTokenFromHeader("bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}

func TestOrderFlow(t *testing.T) {
	h := newHarness(t)
	task := h.submit("c1")
	assert.Equal(t, orders.StatusPending, task.Status)

	p1 := h.token("p1", lifecycle.RoleProvider)
	p2 := h.token("p2", lifecycle.RoleProvider)

	var list struct {
		Orders []orders.Task `json:"orders"`
	}
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/orders/claimable", p1, nil, &list))
	require.Len(t, list.Orders, 1)

	var claimed orders.Task
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/orders/"+task.ID+"/claim", p1, nil, &claimed))
	assert.Equal(t, "p1", claimed.ProviderID)

	var e errorBody
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/v1/orders/"+task.ID+"/claim", p2, nil, &e))
	assert.Equal(t, "CLAIM_CONFLICT", e.Code)

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/v1/orders/"+task.ID+"/accept", p2, nil, &e))
	assert.Equal(t, "NOT_OWNER", e.Code)

	var mine struct {
		Claims []orders.ClaimView `json:"claims"`
	}
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/orders/mine", p1, nil, &mine))
	require.Len(t, mine.Claims, 1)
	assert.Positive(t, mine.Claims[0].RemainingSeconds)

	for _, action := range []string{"accept", "start", "complete"} {
		require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/orders/"+task.ID+"/"+action, p1, nil, nil), action)
	}

	assert.Equal(t, http.StatusUnprocessableEntity, h.do(http.MethodPost, "/v1/orders/"+task.ID+"/start", p1, nil, &e))
	assert.Equal(t, "TERMINAL_STATE", e.Code)

	var p orders.Provider
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/providers/p1", p1, nil, &p))
	assert.Equal(t, 1, p.AcceptedJobCount)
	assert.Equal(t, 1, p.CompletedJobCount)
}

func TestRoles(t *testing.T) {
	h := newHarness(t)
	task := h.submit("c1")

	c1 := h.token("c1", lifecycle.RoleCustomer)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/v1/orders/"+task.ID+"/claim", c1, nil, nil))
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/v1/orders", h.token("p1", lifecycle.RoleProvider), sampleOrder, nil))

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/orders/"+task.ID, c1, nil, nil))
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/orders/"+task.ID, h.token("c2", lifecycle.RoleCustomer), nil, nil))
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/orders/"+task.ID, h.token("ops", lifecycle.RoleAdmin), nil, nil))
}

func TestCustomerOrdersAndCancel(t *testing.T) {
	h := newHarness(t)
	task := h.submit("c1")
	c1 := h.token("c1", lifecycle.RoleCustomer)

	var list struct {
		Orders []orders.Task `json:"orders"`
	}
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/orders/mine", c1, nil, &list))
	require.Len(t, list.Orders, 1)

	var cancelled orders.Task
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/orders/"+task.ID+"/cancel", c1,
		map[string]string{"reason": "no longer needed"}, &cancelled))
	assert.Equal(t, orders.StatusCancelled, cancelled.Status)
	assert.Equal(t, "no longer needed", cancelled.CancelReason)
}

func TestSubmit_BadBody(t *testing.T) {
	h := newHarness(t)
	var e errorBody
	status := h.do(http.MethodPost, "/v1/orders", h.token("c1", lifecycle.RoleCustomer), map[string]int{"bogus": 1}, &e)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_INPUT", e.Code)
}

func TestQuoteAndPayment(t *testing.T) {
	h := newHarness(t)
	task := h.submit("c1")
	p1 := h.token("p1", lifecycle.RoleProvider)
	c1 := h.token("c1", lifecycle.RoleCustomer)

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/orders/"+task.ID+"/claim", p1, nil, nil))
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/orders/"+task.ID+"/accept", p1, nil, nil))

	var q orders.Quote
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/v1/orders/"+task.ID+"/quotes", p1,
		orders.NewQuote{Description: "new filter", Amount: 2500, Currency: "EUR"}, &q))

	var approved orders.Quote
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/quotes/"+q.ID+"/approve", c1, nil, &approved))
	require.NotEmpty(t, approved.PaymentIntent)

	body := map[string]string{"intent": approved.PaymentIntent}
	var e errorBody
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodPost, "/v1/payments/confirm", "", body, &e))

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/v1/payments/confirm",
		bytes.NewBufferString(fmt.Sprintf(`{"intent":%q}`, approved.PaymentIntent)))
	require.NoError(t, err)
	req.Header.Set(PaymentSecretHeader, testPaymentSecret)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Quotes []orders.Quote `json:"quotes"`
	}
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/orders/"+task.ID+"/quotes", c1, nil, &list))
	require.Len(t, list.Quotes, 1)
	assert.Equal(t, orders.QuoteAccepted, list.Quotes[0].Status)
}

// quotedOrder walks an order from submit to a proposed quote.
func (h *harness) quotedOrder(customer, provider string) (orders.Task, orders.Quote) {
	h.t.Helper()
	task := h.submit(customer)
	p := h.token(provider, lifecycle.RoleProvider)
	require.Equal(h.t, http.StatusOK, h.do(http.MethodPost, "/v1/orders/"+task.ID+"/claim", p, nil, nil))
	require.Equal(h.t, http.StatusOK, h.do(http.MethodPost, "/v1/orders/"+task.ID+"/accept", p, nil, nil))
	var q orders.Quote
	require.Equal(h.t, http.StatusCreated, h.do(http.MethodPost, "/v1/orders/"+task.ID+"/quotes", p,
		orders.NewQuote{Description: "new filter", Amount: 2500, Currency: "EUR"}, &q))
	return task, q
}

func TestListQuotes_Visibility(t *testing.T) {
	h := newHarness(t)
	task, _ := h.quotedOrder("c1", "p1")
	path := "/v1/orders/" + task.ID + "/quotes"

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"customer", h.token("c1", lifecycle.RoleCustomer), http.StatusOK},
		{"provider", h.token("p1", lifecycle.RoleProvider), http.StatusOK},
		{"admin", h.token("ops", lifecycle.RoleAdmin), http.StatusOK},
		{"other customer", h.token("c2", lifecycle.RoleCustomer), http.StatusNotFound},
		{"other provider", h.token("p2", lifecycle.RoleProvider), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var list struct {
				Quotes []orders.Quote `json:"quotes"`
				Code   string         `json:"code"`
			}
			assert.Equal(t, tt.status, h.do(http.MethodGet, path, tt.token, nil, &list))
			if tt.status == http.StatusOK {
				assert.Len(t, list.Quotes, 1)
			} else {
				assert.Empty(t, list.Quotes)
				assert.Equal(t, "NOT_FOUND", list.Code)
			}
		})
	}

	var e errorBody
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/orders/missing/quotes",
		h.token("ops", lifecycle.RoleAdmin), nil, &e))
}

func TestQuoteActions_RoleFromToken(t *testing.T) {
	h := newHarness(t)
	task, q := h.quotedOrder("c1", "p1")

	// A provider whose id happens to equal the customer's.
	impostor := h.token("c1", lifecycle.RoleProvider)
	var e errorBody
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/v1/quotes/"+q.ID+"/approve", impostor, nil, &e))
	assert.Equal(t, "NOT_OWNER", e.Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/v1/quotes/"+q.ID+"/decline", impostor, nil, nil))

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/v1/quotes/"+q.ID+"/cancel",
		h.token("p1", lifecycle.RoleCustomer), nil, nil))

	var list struct {
		Quotes []orders.Quote `json:"quotes"`
	}
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/orders/"+task.ID+"/quotes",
		h.token("c1", lifecycle.RoleCustomer), nil, &list))
	require.Len(t, list.Quotes, 1)
	assert.Equal(t, orders.QuotePendingApproval, list.Quotes[0].Status)

	var declined orders.Quote
	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/quotes/"+q.ID+"/decline",
		h.token("c1", lifecycle.RoleCustomer), nil, &declined))
	assert.Equal(t, orders.QuoteDeclinedByCustomer, declined.Status)
}

func TestRateLimit(t *testing.T) {
	limiter, err := ratelimit.NewLimiter(2, time.Minute)
	require.NoError(t, err)
	h := newHarness(t, WithRateLimiter(limiter))
	p1 := h.token("p1", lifecycle.RoleProvider)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/orders/claimable", p1, nil, nil))
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/orders/claimable", p1, nil, nil))

	var e errorBody
	assert.Equal(t, http.StatusTooManyRequests, h.do(http.MethodGet, "/v1/orders/claimable", p1, nil, &e))
	assert.Equal(t, "RATE_LIMITED", e.Code)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/orders/claimable", h.token("p2", lifecycle.RoleProvider), nil, nil))
}

func TestConcurrentClaimsOverHTTP(t *testing.T) {
	h := newHarness(t)
	task := h.submit("c1")

	const n = 8
	statuses := make([]int, n)
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = h.token(fmt.Sprintf("p%d", i), lifecycle.RoleProvider)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses[i] = h.do(http.MethodPost, "/v1/orders/"+task.ID+"/claim", tokens[i], nil, nil)
		}(i)
	}
	wg.Wait()

	won := 0
	for _, s := range statuses {
		switch s {
		case http.StatusOK:
			won++
		case http.StatusConflict:
		default:
			t.Errorf("unexpected status %d", s)
		}
	}
	assert.Equal(t, 1, won)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code errors.ErrorCode
		want int
	}{
		{errors.ErrCodeNotFound, http.StatusNotFound},
		{errors.ErrCodeClaimConflict, http.StatusConflict},
		{errors.ErrCodeConflict, http.StatusConflict},
		{errors.ErrCodeQuotaExceeded, http.StatusTooManyRequests},
		{errors.ErrCodeNotOwner, http.StatusForbidden},
		{errors.ErrCodeInvalidTransition, http.StatusUnprocessableEntity},
		{errors.ErrCodeTerminalState, http.StatusUnprocessableEntity},
		{errors.ErrCodeInvalidInput, http.StatusBadRequest},
		{errors.ErrCodeUnauthorized, http.StatusUnauthorized},
		{errors.ErrCodeUnavailable, http.StatusServiceUnavailable},
		{errors.ErrCodeCorruption, http.StatusInternalServerError},
		{errors.ErrCodeAssertion, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.code))
		})
	}
}
