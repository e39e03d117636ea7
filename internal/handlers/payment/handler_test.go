package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/addispay/telebirr-service/internal/config"
	"github.com/addispay/telebirr-service/internal/domain"
	"github.com/addispay/telebirr-service/internal/domain/ports"
	"github.com/addispay/telebirr-service/internal/middleware"
	"github.com/addispay/telebirr-service/internal/services/verification"
)

type fakeGateway struct {
	mu           sync.Mutex
	rawRequest   string
	createErr    error
	createdOrder ports.OrderData
	verifyResult domain.QueryResult
	queryResult  domain.QueryResult
	profile      *domain.Profile
	authErr      error
}

func (g *fakeGateway) CreateOrder(_ context.Context, order ports.OrderData) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createdOrder = order
	return g.rawRequest, g.createErr
}

func (g *fakeGateway) VerifyPayment(context.Context, map[string]string, string) domain.QueryResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifyResult
}

func (g *fakeGateway) QueryOrder(context.Context, map[string]string, string) domain.QueryResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queryResult
}

func (g *fakeGateway) GetAuthToken(context.Context, map[string]string, string) (*domain.Profile, error) {
	return g.profile, g.authErr
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
	last   map[string]interface{}
}

func (s *recordingSink) Emit(_ context.Context, event string, payload interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if s.last == nil {
		s.last = make(map[string]interface{})
	}
	s.last[event] = payload
}

func (s *recordingSink) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []*domain.VerificationJob
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, job *domain.VerificationJob) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, job)
	return true
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleWebhook_CompletedEnqueuesVerification(t *testing.T) {
	gateway := &fakeGateway{}
	sink := &recordingSink{}
	enqueuer := &recordingEnqueuer{}
	handler := NewHandler(gateway, sink, enqueuer, zap.NewNop())

	rec := postJSON(t, handler.HandleWebhook,
		`{"merch_order_id":"TXN1","trade_status":"Completed","total_amount":"100.00"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":"0","message":"Success"}`, rec.Body.String())

	require.Len(t, enqueuer.jobs, 1)
	assert.Equal(t, "TXN1", enqueuer.jobs[0].Reference)
	assert.Equal(t, "Completed", enqueuer.jobs[0].Webhook["trade_status"])
	assert.Equal(t, 1, sink.count(domain.EventWebhookReceived))
}

func TestHandleWebhook_NonCompletedIsAcknowledgedOnly(t *testing.T) {
	enqueuer := &recordingEnqueuer{}
	handler := NewHandler(&fakeGateway{}, &recordingSink{}, enqueuer, zap.NewNop())

	rec := postJSON(t, handler.HandleWebhook,
		`{"merch_order_id":"TXN1","trade_status":"Failure"}`)

	assert.JSONEq(t, `{"code":"0","message":"Success"}`, rec.Body.String())
	assert.Empty(t, enqueuer.jobs, "only Completed notifications trigger verification")
}

func TestHandleWebhook_MissingOrderID(t *testing.T) {
	handler := NewHandler(&fakeGateway{}, &recordingSink{}, &recordingEnqueuer{}, zap.NewNop())

	rec := postJSON(t, handler.HandleWebhook, `{"trade_status":"Completed"}`)

	assert.Equal(t, http.StatusOK, rec.Code, "the gateway must not redeliver an unfixable payload")
	assert.JSONEq(t, `{"code":"1","message":"Missing order id"}`, rec.Body.String())
}

func TestHandleWebhook_MalformedBody(t *testing.T) {
	handler := NewHandler(&fakeGateway{}, &recordingSink{}, &recordingEnqueuer{}, zap.NewNop())

	rec := postJSON(t, handler.HandleWebhook, `{not json`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":"1","message":"Malformed payload"}`, rec.Body.String())
}

func TestHandleCreateOrder(t *testing.T) {
	gateway := &fakeGateway{rawRequest: "appid=a&sign=x"}
	sink := &recordingSink{}
	handler := NewHandler(gateway, sink, nil, zap.NewNop())

	rec := postJSON(t, handler.HandleCreateOrder,
		`{"reference":"ab-12","subject":"Order","amount":"100"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"raw_request":"appid=a&sign=x"}`, rec.Body.String())
	assert.Equal(t, "100.00", gateway.createdOrder.Amount, "amounts are normalized to two decimals")
	assert.Equal(t, 1, sink.count(domain.EventPaymentInitiated))
}

func TestHandleCreateOrder_InvalidAmount(t *testing.T) {
	handler := NewHandler(&fakeGateway{}, &recordingSink{}, nil, zap.NewNop())

	for _, amount := range []string{"", "abc", "-5", "0"} {
		rec := postJSON(t, handler.HandleCreateOrder,
			`{"reference":"r1","amount":"`+amount+`"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "amount %q must be rejected", amount)
	}
}

func TestHandleCreateOrder_MerchantNotFound(t *testing.T) {
	gateway := &fakeGateway{createErr: domain.ErrMerchantNotFound}
	sink := &recordingSink{}
	handler := NewHandler(gateway, sink, nil, zap.NewNop())

	rec := postJSON(t, handler.HandleCreateOrder, `{"reference":"r1","amount":"5"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, sink.count(domain.EventPaymentInitiated))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "MERCHANT_NOT_FOUND", body["code"])
}

func TestHandleVerify_Outcomes(t *testing.T) {
	gateway := &fakeGateway{}
	handler := NewHandler(gateway, &recordingSink{}, nil, zap.NewNop())

	gateway.verifyResult = domain.SuccessResult(&domain.PaymentStatus{
		OrderStatus: domain.OrderStatusSuccess,
		TotalAmount: "100.00",
	})
	rec := postJSON(t, handler.HandleVerify, `{"reference":"TXN1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body["outcome"])

	gateway.verifyResult = domain.EmptyResult()
	rec = postJSON(t, handler.HandleVerify, `{"reference":"TXN1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"outcome":"empty"}`, rec.Body.String())

	gateway.verifyResult = domain.ErrorResult(domain.ErrMerchantNotFound)
	rec = postJSON(t, handler.HandleVerify, `{"reference":"TXN1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAuth(t *testing.T) {
	gateway := &fakeGateway{profile: &domain.Profile{
		OpenID: "open-1",
		Raw:    map[string]interface{}{"openId": "open-1", "nick_name": "Abebe"},
	}}
	handler := NewHandler(gateway, &recordingSink{}, nil, zap.NewNop())

	rec := postJSON(t, handler.HandleAuth, `{"access_token":"tok"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "open-1", body["open_id"])

	rec = postJSON(t, handler.HandleAuth, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestWebhookToVerifiedEvent drives the full inbound path: a signed Completed
// webhook is authenticated, acknowledged, verified against the gateway and
// ends in exactly one verified event.
func TestWebhookToVerifiedEvent(t *testing.T) {
	gateway := &fakeGateway{verifyResult: domain.SuccessResult(&domain.PaymentStatus{
		OrderStatus:  domain.OrderStatusSuccess,
		TotalAmount:  "100.00",
		MerchOrderID: "TXN1",
	})}
	sink := &recordingSink{}

	worker := verification.NewWorker(gateway, sink, config.VerifyConfig{
		Enabled:       true,
		Tries:         5,
		Timeout:       time.Second,
		RetrySchedule: []time.Duration{0},
	}, zap.NewNop())
	worker.Start(context.Background())
	defer worker.Stop()

	handler := NewHandler(gateway, sink, worker, zap.NewNop())
	auth := middleware.NewWebhookAuthenticator(config.WebhookConfig{
		Secret:    "hook-secret",
		Tolerance: 300 * time.Second,
	}, zap.NewNop())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, "/api/telebirr/webhook", auth)

	payload := []byte(`{"merch_order_id":"TXN1","trade_status":"Completed","total_amount":"100.00"}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write(payload)
	mac.Write([]byte(ts))

	req := httptest.NewRequest(http.MethodPost, "/api/telebirr/webhook", bytes.NewReader(payload))
	req.Header.Set(middleware.HeaderSignature, hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set(middleware.HeaderTimestamp, ts)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":"0","message":"Success"}`, rec.Body.String())

	require.Eventually(t, func() bool {
		return sink.count(domain.EventPaymentVerified) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	payload2, ok := sink.last[domain.EventPaymentVerified].(*domain.PaymentVerifiedPayload)
	sink.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, "TXN1", payload2.Reference)
	assert.Equal(t, "100.00", payload2.Status.TotalAmount)

	// An unsigned delivery of the same payload is rejected outright.
	req = httptest.NewRequest(http.MethodPost, "/api/telebirr/webhook", bytes.NewReader(payload))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
