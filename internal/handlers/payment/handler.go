package payment

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/addispay/telebirr-service/internal/domain"
	"github.com/addispay/telebirr-service/internal/domain/ports"
	"github.com/addispay/telebirr-service/internal/middleware"
)

// Enqueuer accepts verification jobs. The verification worker implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *domain.VerificationJob) bool
}

// Handler serves the payment HTTP surface: the inbound webhook plus the
// synchronous order, verify, query and auth endpoints.
type Handler struct {
	gateway ports.PaymentGateway
	events  ports.EventSink
	worker  Enqueuer
	logger  *zap.Logger
}

// NewHandler creates the payment handler. worker may be nil, in which case
// webhooks are acknowledged but never verified.
func NewHandler(gateway ports.PaymentGateway, events ports.EventSink, worker Enqueuer, logger *zap.Logger) *Handler {
	return &Handler{gateway: gateway, events: events, worker: worker, logger: logger}
}

// RegisterRoutes mounts the handler on a mux. The webhook path goes through
// the signature authenticator; the synchronous endpoints are for the host
// application and carry no gateway signature.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, webhookPath string, auth *middleware.WebhookAuthenticator) {
	mux.Handle(webhookPath, auth.Middleware(http.HandlerFunc(h.HandleWebhook)))
	mux.HandleFunc("/api/telebirr/order", h.HandleCreateOrder)
	mux.HandleFunc("/api/telebirr/verify", h.HandleVerify)
	mux.HandleFunc("/api/telebirr/query", h.HandleQuery)
	mux.HandleFunc("/api/telebirr/auth", h.HandleAuth)
}

type orderRequest struct {
	Reference string            `json:"reference"`
	Subject   string            `json:"subject"`
	Amount    string            `json:"amount"`
	Context   map[string]string `json:"context"`
}

// HandleCreateOrder opens a preorder and returns the raw request string for
// the mobile client.
func (h *Handler) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if req.Reference == "" || req.Amount == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reference and amount are required"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsNegative() || amount.IsZero() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be a positive decimal"})
		return
	}

	raw, err := h.gateway.CreateOrder(r.Context(), ports.OrderData{
		Reference: req.Reference,
		Subject:   req.Subject,
		Amount:    amount.StringFixed(2),
		Context:   req.Context,
	})
	if err != nil {
		h.logger.Error("create order failed",
			zap.String("reference", req.Reference),
			zap.Error(err),
		)
		writeError(w, err)
		return
	}

	h.events.Emit(r.Context(), domain.EventPaymentInitiated, map[string]interface{}{
		"reference": req.Reference,
		"amount":    amount.StringFixed(2),
	})
	writeJSON(w, http.StatusOK, map[string]string{"raw_request": raw})
}

type referenceRequest struct {
	Reference string            `json:"reference"`
	Context   map[string]string `json:"context"`
}

// HandleVerify queries a payment by transaction reference.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req referenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reference == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reference is required"})
		return
	}
	h.writeQueryResult(w, h.gateway.VerifyPayment(r.Context(), req.Context, req.Reference))
}

// HandleQuery queries an order by merchant order id.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req referenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reference == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reference is required"})
		return
	}
	h.writeQueryResult(w, h.gateway.QueryOrder(r.Context(), req.Context, req.Reference))
}

func (h *Handler) writeQueryResult(w http.ResponseWriter, result domain.QueryResult) {
	switch result.Outcome {
	case domain.OutcomeSuccess:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"outcome": result.Outcome.String(),
			"status": map[string]interface{}{
				"order_status":   result.Status.OrderStatus,
				"total_amount":   result.Status.TotalAmount,
				"trade_no":       result.Status.TradeNo,
				"merch_order_id": result.Status.MerchOrderID,
			},
		})
	case domain.OutcomeEmpty:
		writeJSON(w, http.StatusOK, map[string]interface{}{"outcome": result.Outcome.String()})
	default:
		writeError(w, result.Err)
	}
}

type authRequest struct {
	AccessToken string            `json:"access_token"`
	Context     map[string]string `json:"context"`
}

// HandleAuth exchanges a mini-app access token for the user's profile.
func (h *Handler) HandleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccessToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "access_token is required"})
		return
	}

	profile, err := h.gateway.GetAuthToken(r.Context(), req.Context, req.AccessToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"open_id": profile.OpenID,
		"profile": profile.Raw,
	})
}
