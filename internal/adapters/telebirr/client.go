package telebirr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/addispay/telebirr-service/internal/config"
	"github.com/addispay/telebirr-service/internal/domain"
	"github.com/addispay/telebirr-service/internal/domain/ports"
	"github.com/addispay/telebirr-service/internal/services/merchant"
	"github.com/addispay/telebirr-service/pkg/crypto"
	"github.com/addispay/telebirr-service/pkg/httpx"
	"github.com/addispay/telebirr-service/pkg/resilience"
)

const (
	pathToken      = "/payment/v1/token"
	pathPreorder   = "/payment/v1/merchant/preOrder"
	pathPayQuery   = "/v1/pay/query"
	pathQueryOrder = "/payment/v1/merchant/queryOrder"
	pathAuthToken  = "/payment/v1/auth/authToken"

	transportMaxTries = 3
	transportDelay    = 100 * time.Millisecond
)

var (
	gatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telebirr_gateway_requests_total",
		Help: "Total number of gateway HTTP requests by endpoint and result",
	}, []string{"endpoint", "result"}) // result: ok, http_error, transport_error

	gatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "telebirr_gateway_request_duration_seconds",
		Help:    "Gateway HTTP request duration by endpoint",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)

// TokenSource supplies a fabric token for a merchant identity. The token
// cache implements it; the client falls back to a direct fetch when none
// is wired.
type TokenSource interface {
	GetToken(ctx context.Context, creds *domain.MerchantCredentials) (string, error)
}

// Client is the payment gateway client. It implements ports.PaymentGateway
// for the handlers and worker, and token.Fetcher for the token cache.
type Client struct {
	baseURL    string
	notifyURL  string
	httpClient *http.Client
	signer     *crypto.Signer
	resolver   merchant.Resolver
	tokens     TokenSource
	logger     *zap.Logger
	backoff    resilience.BackoffStrategy

	now func() time.Time
}

// NewClient creates a gateway client. Wire the token cache afterwards with
// SetTokenSource; the cache needs this client as its fetcher, so the two are
// constructed in sequence.
func NewClient(api config.APIConfig, notifyURL string, signer *crypto.Signer, resolver merchant.Resolver, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    api.BaseURL,
		notifyURL:  notifyURL,
		httpClient: httpx.NewClient(httpx.GatewayClientConfig(!api.VerifySSL), api.Timeout),
		signer:     signer,
		resolver:   resolver,
		logger:     logger,
		backoff:    &resilience.FixedBackoff{Delay: transportDelay},
		now:        time.Now,
	}
}

// SetTokenSource installs the fabric token cache.
func (c *Client) SetTokenSource(tokens TokenSource) {
	c.tokens = tokens
}

// FetchToken acquires a fabric token directly from the gateway's token
// endpoint. The token cache calls this on a miss.
func (c *Client) FetchToken(ctx context.Context, creds *domain.MerchantCredentials) (string, error) {
	headers := map[string]string{"X-APP-Key": creds.FabricAppID}
	body := map[string]interface{}{"appSecret": creds.AppSecret}

	resp, err := c.postJSON(ctx, pathToken, headers, body)
	if err != nil {
		return "", err
	}

	token, _ := resp.body["token"].(string)
	if token == "" {
		return "", domain.NewError(domain.ErrorCodeGatewayError, "token endpoint returned no token").
			WithDetail("status", resp.status)
	}
	return token, nil
}

// CreateOrder opens a preorder with the gateway and returns the signed raw
// request string for the mobile client.
func (c *Client) CreateOrder(ctx context.Context, order ports.OrderData) (string, error) {
	creds, err := c.resolver.Resolve(ctx, order.Context)
	if err != nil {
		return "", err
	}

	token, err := c.fabricToken(ctx, creds)
	if err != nil {
		return "", err
	}

	fields := preorderFields(creds, c.notifyURL, order.Reference, order.Subject, order.Amount, c.now())
	sign, err := c.signer.SignFields(fields, creds.RSAPrivateKey)
	if err != nil {
		return "", domain.WrapError(domain.ErrorCodeSignatureInvalid, "sign preorder", err)
	}

	resp, err := c.postJSON(ctx, pathPreorder, c.merchantHeaders(creds, token), jsonBody(fields, sign, true))
	if err != nil {
		return "", err
	}

	prepayID := bizContentString(resp.body, "prepay_id")
	if prepayID == "" {
		c.logger.Warn("preorder declined",
			zap.String("merch_order_id", order.Reference),
			zap.Int("status", resp.status),
			zap.Any("response", resp.body),
		)
		return "", domain.NewError(domain.ErrorCodeGatewayError, "preorder returned no prepay_id").
			WithDetail("response", resp.body)
	}

	c.logger.Info("preorder created",
		zap.String("merch_order_id", order.Reference),
		zap.String("merch_code", creds.MerchantCode),
	)
	return c.buildRawRequest(creds, prepayID)
}

// buildRawRequest signs the prepay_id hand-off independently of the preorder
// request and encodes it for the mobile client.
func (c *Client) buildRawRequest(creds *domain.MerchantCredentials, prepayID string) (string, error) {
	fields := rawRequestFields(creds, prepayID, c.now())
	sign, err := c.signer.SignFields(fields, creds.RSAPrivateKey)
	if err != nil {
		return "", domain.WrapError(domain.ErrorCodeSignatureInvalid, "sign raw request", err)
	}
	return encodeRawRequest(fields, sign), nil
}

// VerifyPayment queries a payment by transaction reference. A definitive
// gateway answer comes back as a success result; non-success envelopes and
// transport failures after retries come back empty so the caller can retry;
// resolution and signing failures are hard errors.
func (c *Client) VerifyPayment(ctx context.Context, tenantCtx map[string]string, reference string) domain.QueryResult {
	creds, err := c.resolver.Resolve(ctx, tenantCtx)
	if err != nil {
		return domain.ErrorResult(err)
	}

	token, err := c.fabricToken(ctx, creds)
	if err != nil {
		return domain.EmptyResult()
	}

	fields := verifyFields(creds, reference, c.now())
	sign, err := c.signer.SignFields(fields, creds.RSAPrivateKey)
	if err != nil {
		return domain.ErrorResult(domain.WrapError(domain.ErrorCodeSignatureInvalid, "sign payment query", err))
	}

	resp, err := c.postJSON(ctx, pathPayQuery, c.merchantHeaders(creds, token), jsonBody(fields, sign, false))
	if err != nil {
		return domain.EmptyResult()
	}

	code, _ := resp.body["code"].(string)
	if code != "0" {
		c.logger.Debug("payment query had no result",
			zap.String("out_trade_no", reference),
			zap.String("code", code),
		)
		return domain.EmptyResult()
	}

	data, _ := resp.body["data"].(map[string]interface{})
	return domain.SuccessResult(statusFromEnvelope(data))
}

// QueryOrder queries an order by merchant order id.
func (c *Client) QueryOrder(ctx context.Context, tenantCtx map[string]string, orderID string) domain.QueryResult {
	creds, err := c.resolver.Resolve(ctx, tenantCtx)
	if err != nil {
		return domain.ErrorResult(err)
	}

	token, err := c.fabricToken(ctx, creds)
	if err != nil {
		return domain.EmptyResult()
	}

	fields := queryOrderFields(creds, orderID, c.now())
	sign, err := c.signer.SignFields(fields, creds.RSAPrivateKey)
	if err != nil {
		return domain.ErrorResult(domain.WrapError(domain.ErrorCodeSignatureInvalid, "sign order query", err))
	}

	resp, err := c.postJSON(ctx, pathQueryOrder, c.merchantHeaders(creds, token), jsonBody(fields, sign, true))
	if err != nil {
		return domain.EmptyResult()
	}

	result, _ := resp.body["result"].(string)
	if result != "SUCCESS" {
		c.logger.Debug("order query had no result",
			zap.String("merch_order_id", orderID),
			zap.String("result", result),
		)
		return domain.EmptyResult()
	}

	biz, _ := resp.body["biz_content"].(map[string]interface{})
	return domain.SuccessResult(statusFromEnvelope(biz))
}

// GetAuthToken exchanges a user access token for the user's profile. This
// path always fetches a fresh fabric token with the shared configuration
// credentials rather than going through the per-merchant cache.
func (c *Client) GetAuthToken(ctx context.Context, tenantCtx map[string]string, accessToken string) (*domain.Profile, error) {
	creds, err := c.resolver.Resolve(ctx, tenantCtx)
	if err != nil {
		return nil, err
	}

	token, err := c.FetchToken(ctx, creds)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeTokenUnavailable, "fabric token for auth exchange", err)
	}

	fields := authTokenFields(creds, accessToken, c.now())
	sign, err := c.signer.SignFields(fields, creds.RSAPrivateKey)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeSignatureInvalid, "sign auth exchange", err)
	}

	resp, err := c.postJSON(ctx, pathAuthToken, c.merchantHeaders(creds, token), jsonBody(fields, sign, true))
	if err != nil {
		return nil, err
	}

	code, _ := resp.body["code"].(string)
	if code != "0" {
		return nil, domain.NewError(domain.ErrorCodeGatewayError, "auth exchange rejected").
			WithDetail("code", code).
			WithDetail("response", resp.body)
	}

	biz, _ := resp.body["biz_content"].(map[string]interface{})
	openID, _ := biz["openId"].(string)
	return &domain.Profile{OpenID: openID, Raw: biz}, nil
}

// fabricToken returns a token from the cache when one is wired, otherwise
// fetches directly.
func (c *Client) fabricToken(ctx context.Context, creds *domain.MerchantCredentials) (string, error) {
	if c.tokens != nil {
		return c.tokens.GetToken(ctx, creds)
	}
	return c.FetchToken(ctx, creds)
}

// merchantHeaders are the headers every signed merchant call carries.
func (c *Client) merchantHeaders(creds *domain.MerchantCredentials, token string) map[string]string {
	return map[string]string{
		"X-APP-Key":     creds.FabricAppID,
		"Authorization": token,
	}
}

type gatewayResponse struct {
	status int
	body   map[string]interface{}
}

// postJSON posts a JSON body to the gateway with short fixed-delay retries.
// Connection failures and 5xx responses are retried; any other response is
// returned to the caller for endpoint-specific interpretation.
func (c *Client) postJSON(ctx context.Context, path string, headers map[string]string, body interface{}) (*gatewayResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeTransportFailed, "encode request", err)
	}

	url := c.baseURL + path
	var lastErr error

	for attempt := 0; attempt < transportMaxTries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, domain.WrapError(domain.ErrorCodeTransportFailed, "request cancelled", ctx.Err())
			case <-time.After(c.backoff.NextDelay(attempt - 1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, domain.WrapError(domain.ErrorCodeTransportFailed, "build request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		start := c.now()
		resp, err := c.httpClient.Do(req)
		gatewayDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		if err != nil {
			gatewayRequests.WithLabelValues(path, "transport_error").Inc()
			lastErr = err
			c.logger.Warn("gateway request failed",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			gatewayRequests.WithLabelValues(path, "transport_error").Inc()
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			gatewayRequests.WithLabelValues(path, "http_error").Inc()
			lastErr = fmt.Errorf("gateway returned %d", resp.StatusCode)
			c.logger.Warn("gateway server error",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			continue
		}

		parsed := make(map[string]interface{})
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &parsed); err != nil {
				gatewayRequests.WithLabelValues(path, "http_error").Inc()
				return nil, domain.WrapError(domain.ErrorCodeGatewayError, "decode response", err).
					WithDetail("status", resp.StatusCode)
			}
		}

		gatewayRequests.WithLabelValues(path, "ok").Inc()
		return &gatewayResponse{status: resp.StatusCode, body: parsed}, nil
	}

	return nil, domain.WrapError(domain.ErrorCodeTransportFailed,
		fmt.Sprintf("gateway unreachable after %d attempts", transportMaxTries), lastErr)
}

// statusFromEnvelope maps a gateway status envelope to a PaymentStatus. The
// two query endpoints use the same field names inside their envelopes.
func statusFromEnvelope(envelope map[string]interface{}) *domain.PaymentStatus {
	status := &domain.PaymentStatus{Raw: envelope}
	if envelope == nil {
		return status
	}
	status.OrderStatus = envelopeString(envelope, "trade_status", "tradeStatus", "order_status")
	status.TotalAmount = envelopeString(envelope, "total_amount", "totalAmount")
	status.TradeNo = envelopeString(envelope, "trade_no", "tradeNo")
	status.MerchOrderID = envelopeString(envelope, "merch_order_id", "merchOrderId")
	return status
}

// envelopeString returns the first present string field among aliases. The
// gateway mixes snake_case and camelCase between endpoints.
func envelopeString(envelope map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if value, ok := envelope[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

// bizContentString extracts a string field from a response's biz_content.
func bizContentString(body map[string]interface{}, key string) string {
	biz, ok := body["biz_content"].(map[string]interface{})
	if !ok {
		return ""
	}
	value, _ := biz[key].(string)
	return value
}
