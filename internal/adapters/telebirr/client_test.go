package telebirr

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/addispay/telebirr-service/internal/config"
	"github.com/addispay/telebirr-service/internal/domain"
	"github.com/addispay/telebirr-service/internal/domain/ports"
	"github.com/addispay/telebirr-service/internal/services/merchant"
	"github.com/addispay/telebirr-service/pkg/crypto"
)

func testPrivateKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyBytes, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes}))
}

func testResolver(t *testing.T) merchant.Resolver {
	t.Helper()
	resolver, err := merchant.NewStaticResolver(config.MerchantConfig{
		FabricAppID:   "fabric-app",
		MerchantAppID: "merchant-app",
		MerchantCode:  "80001",
		AppSecret:     "app-secret",
		RSAPrivateKey: testPrivateKeyPEM(t),
	})
	require.NoError(t, err)
	return resolver
}

// gatewayStub is a scripted fake gateway. Handlers are registered per path;
// every request body is recorded for assertions.
type gatewayStub struct {
	server   *httptest.Server
	requests map[string][]map[string]interface{}
	headers  map[string][]http.Header
}

func newGatewayStub(t *testing.T, handlers map[string]http.HandlerFunc) *gatewayStub {
	t.Helper()
	stub := &gatewayStub{
		requests: make(map[string][]map[string]interface{}),
		headers:  make(map[string][]http.Header),
	}
	mux := http.NewServeMux()
	for path, handler := range handlers {
		path, handler := path, handler
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			body := make(map[string]interface{})
			_ = json.NewDecoder(r.Body).Decode(&body)
			stub.requests[path] = append(stub.requests[path], body)
			stub.headers[path] = append(stub.headers[path], r.Header.Clone())
			handler(w, r)
		})
	}
	stub.server = httptest.NewServer(mux)
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *gatewayStub) lastRequest(path string) map[string]interface{} {
	reqs := s.requests[path]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

func respondJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func tokenHandler(token string) http.HandlerFunc {
	return respondJSON(`{"token":"` + token + `"}`)
}

func newTestClient(t *testing.T, stub *gatewayStub) *Client {
	t.Helper()
	api := config.APIConfig{BaseURL: stub.server.URL, Timeout: 5 * time.Second, VerifySSL: true}
	signer := crypto.NewSigner(zap.NewNop(), false)
	return NewClient(api, "https://merchant.example/webhook", signer, testResolver(t), zap.NewNop())
}

func TestFetchToken(t *testing.T) {
	stub := newGatewayStub(t, map[string]http.HandlerFunc{
		pathToken: tokenHandler("fabric-token-1"),
	})
	client := newTestClient(t, stub)

	creds, err := client.resolver.Resolve(context.Background(), nil)
	require.NoError(t, err)

	token, err := client.FetchToken(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "fabric-token-1", token)

	headers := stub.headers[pathToken][0]
	assert.Equal(t, "fabric-app", headers.Get("X-APP-Key"))
	assert.Equal(t, map[string]interface{}{"appSecret": "app-secret"}, stub.lastRequest(pathToken))
}

func TestFetchToken_EmptyResponse(t *testing.T) {
	stub := newGatewayStub(t, map[string]http.HandlerFunc{
		pathToken: respondJSON(`{"error":"invalid app"}`),
	})
	client := newTestClient(t, stub)

	creds, err := client.resolver.Resolve(context.Background(), nil)
	require.NoError(t, err)

	_, err = client.FetchToken(context.Background(), creds)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeGatewayError, domain.GetErrorCode(err))
}

func TestCreateOrder(t *testing.T) {
	stub := newGatewayStub(t, map[string]http.HandlerFunc{
		pathToken:    tokenHandler("fabric-token-1"),
		pathPreorder: respondJSON(`{"result":"SUCCESS","biz_content":{"prepay_id":"PP123"}}`),
	})
	client := newTestClient(t, stub)

	raw, err := client.CreateOrder(context.Background(), ports.OrderData{
		Reference: "ab-12-34",
		Subject:   "Order #42 <promo>!",
		Amount:    "100.00",
	})
	require.NoError(t, err)

	// Preorder body carries the signed envelope and the fixed biz fields.
	body := stub.lastRequest(pathPreorder)
	require.NotNil(t, body)
	assert.Equal(t, "payment.preorder", body["method"])
	assert.Equal(t, "1.0", body["version"])
	assert.Equal(t, "SHA256WithRSA", body["sign_type"])
	assert.NotEmpty(t, body["sign"])
	assert.NotEmpty(t, body["nonce_str"])

	biz, ok := body["biz_content"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ab1234", biz["merch_order_id"], "dashes are stripped from the reference")
	assert.Equal(t, "Order 42 promo", biz["title"], "forbidden characters are stripped from the title")
	assert.Equal(t, "100.00", biz["total_amount"])
	assert.Equal(t, "ETB", biz["trans_currency"])
	assert.Equal(t, "BuyGoods", biz["business_type"])
	assert.Equal(t, "InApp", biz["trade_type"])
	assert.Equal(t, "120m", biz["timeout_express"])
	assert.Equal(t, "80001", biz["payee_identifier"])
	assert.Equal(t, "04", biz["payee_identifier_type"])
	assert.Equal(t, "5000", biz["payee_type"])
	assert.Equal(t, "https://merchant.example/webhook", biz["notify_url"])

	// The preorder call authenticates with the fabric token.
	assert.Equal(t, "fabric-token-1", stub.headers[pathPreorder][0].Get("Authorization"))

	// The raw request is a separately signed k=v string in field order.
	assert.True(t, strings.HasPrefix(raw, "appid=merchant-app&merch_code=80001&nonce_str="), raw)
	assert.Contains(t, raw, "&prepay_id=PP123&")
	assert.Contains(t, raw, "&sign_type=SHA256WithRSA&sign=")

	// Its signature verifies against the merchant's public key.
	creds, err := client.resolver.Resolve(context.Background(), nil)
	require.NoError(t, err)
	fields, sign := parseRawRequest(t, raw)
	signer := crypto.NewSigner(zap.NewNop(), false)
	assert.True(t, signer.Verify(crypto.Canonicalize(fields), sign, creds.RSAPublicKey))
}

func parseRawRequest(t *testing.T, raw string) (*crypto.FieldSet, string) {
	t.Helper()
	fields := crypto.NewFieldSet()
	sign := ""
	for _, token := range strings.Split(raw, "&") {
		parts := strings.SplitN(token, "=", 2)
		require.Len(t, parts, 2)
		if parts[0] == "sign" {
			sign = parts[1]
			continue
		}
		fields.Set(parts[0], parts[1])
	}
	require.NotEmpty(t, sign)
	return fields, sign
}

func TestCreateOrder_Declined(t *testing.T) {
	stub := newGatewayStub(t, map[string]http.HandlerFunc{
		pathToken:    tokenHandler("fabric-token-1"),
		pathPreorder: respondJSON(`{"result":"FAIL","msg":"duplicate order"}`),
	})
	client := newTestClient(t, stub)

	_, err := client.CreateOrder(context.Background(), ports.OrderData{Reference: "r1", Subject: "s", Amount: "1.00"})
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeGatewayError, domain.GetErrorCode(err))
}

func TestVerifyPayment_Success(t *testing.T) {
	stub := newGatewayStub(t, map[string]http.HandlerFunc{
		pathToken: tokenHandler("fabric-token-1"),
		pathPayQuery: respondJSON(`{"code":"0","data":{
			"trade_status":"PAY_SUCCESS","total_amount":"100.00","trade_no":"T999","merch_order_id":"TXN1"}}`),
	})
	client := newTestClient(t, stub)

	result := client.VerifyPayment(context.Background(), nil, "TXN1")
	require.Equal(t, domain.OutcomeSuccess, result.Outcome)
	assert.Equal(t, domain.OrderStatusSuccess, result.Status.OrderStatus)
	assert.Equal(t, "100.00", result.Status.TotalAmount)
	assert.Equal(t, "T999", result.Status.TradeNo)

	// The flat query payload has no envelope and no sign_type.
	body := stub.lastRequest(pathPayQuery)
	assert.Equal(t, "merchant-app", body["merchantAppId"])
	assert.Equal(t, "TXN1", body["outTradeNo"])
	assert.NotEmpty(t, body["nonce"])
	assert.NotEmpty(t, body["sign"])
	assert.NotContains(t, body, "sign_type")
	assert.NotContains(t, body, "biz_content")
}

func TestVerifyPayment_NonZeroCodeIsEmpty(t *testing.T) {
	stub := newGatewayStub(t, map[string]http.HandlerFunc{
		pathToken:    tokenHandler("fabric-token-1"),
		pathPayQuery: respondJSON(`{"code":"404","msg":"order not found"}`),
	})
	client := newTestClient(t, stub)

	result := client.VerifyPayment(context.Background(), nil, "TXN1")
	assert.Equal(t, domain.OutcomeEmpty, result.Outcome)
	assert.Nil(t, result.Status)
	assert.NoError(t, result.Err)
}

func TestVerifyPayment_TransportFailureIsEmpty(t *testing.T) {
	stub := newGatewayStub(t, map[string]http.HandlerFunc{
		pathToken: tokenHandler("fabric-token-1"),
	})
	client := newTestClient(t, stub)
	// Prime the token via the cacheless direct path, then kill the server.
	creds, err := client.resolver.Resolve(context.Background(), nil)
	require.NoError(t, err)
	_, err = client.FetchToken(context.Background(), creds)
	require.NoError(t, err)

	stub.server.Close()
	client.backoff = noBackoff{}

	result := client.VerifyPayment(context.Background(), nil, "TXN1")
	assert.Equal(t, domain.OutcomeEmpty, result.Outcome)
}

type noBackoff struct{}

func (noBackoff) NextDelay(int) time.Duration { return 0 }

func TestQueryOrder(t *testing.T) {
	stub := newGatewayStub(t, map[string]http.HandlerFunc{
		pathToken: tokenHandler("fabric-token-1"),
		pathQueryOrder: respondJSON(`{"result":"SUCCESS","biz_content":{
			"order_status":"PAY_SUCCESS","total_amount":"55.50","merch_order_id":"ORD7"}}`),
	})
	client := newTestClient(t, stub)

	result := client.QueryOrder(context.Background(), nil, "ORD7")
	require.Equal(t, domain.OutcomeSuccess, result.Outcome)
	assert.Equal(t, domain.OrderStatusSuccess, result.Status.OrderStatus)
	assert.Equal(t, "ORD7", result.Status.MerchOrderID)

	body := stub.lastRequest(pathQueryOrder)
	assert.Equal(t, "payment.queryorder", body["method"])
	biz, ok := body["biz_content"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ORD7", biz["merch_order_id"])
}

func TestQueryOrder_FailResultIsEmpty(t *testing.T) {
	stub := newGatewayStub(t, map[string]http.HandlerFunc{
		pathToken:      tokenHandler("fabric-token-1"),
		pathQueryOrder: respondJSON(`{"result":"FAIL"}`),
	})
	client := newTestClient(t, stub)

	result := client.QueryOrder(context.Background(), nil, "ORD7")
	assert.Equal(t, domain.OutcomeEmpty, result.Outcome)
}

func TestGetAuthToken(t *testing.T) {
	stub := newGatewayStub(t, map[string]http.HandlerFunc{
		pathToken:     tokenHandler("fabric-token-1"),
		pathAuthToken: respondJSON(`{"code":"0","biz_content":{"openId":"open-1","nick_name":"Abebe"}}`),
	})
	client := newTestClient(t, stub)

	profile, err := client.GetAuthToken(context.Background(), nil, "user-access-token")
	require.NoError(t, err)
	assert.Equal(t, "open-1", profile.OpenID)
	assert.Equal(t, "Abebe", profile.Raw["nick_name"])

	body := stub.lastRequest(pathAuthToken)
	assert.Equal(t, "payment.authtoken", body["method"])
	biz, ok := body["biz_content"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "user-access-token", biz["access_token"])
	assert.Equal(t, "OpenId", biz["resource_type"])
	assert.Equal(t, "InApp", biz["trade_type"])
}

func TestGetAuthToken_Rejected(t *testing.T) {
	stub := newGatewayStub(t, map[string]http.HandlerFunc{
		pathToken:     tokenHandler("fabric-token-1"),
		pathAuthToken: respondJSON(`{"code":"1","msg":"invalid access token"}`),
	})
	client := newTestClient(t, stub)

	_, err := client.GetAuthToken(context.Background(), nil, "bad-token")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeGatewayError, domain.GetErrorCode(err))
}

func TestPostJSON_RetriesServerErrors(t *testing.T) {
	var hits int64
	stub := newGatewayStub(t, map[string]http.HandlerFunc{
		pathToken: func(w http.ResponseWriter, _ *http.Request) {
			if atomic.AddInt64(&hits, 1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"token":"recovered"}`))
		},
	})
	client := newTestClient(t, stub)
	client.backoff = noBackoff{}

	creds, err := client.resolver.Resolve(context.Background(), nil)
	require.NoError(t, err)

	token, err := client.FetchToken(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "recovered", token)
	assert.EqualValues(t, 3, atomic.LoadInt64(&hits))
}

func TestPostJSON_GivesUpAfterThreeTries(t *testing.T) {
	var hits int64
	stub := newGatewayStub(t, map[string]http.HandlerFunc{
		pathToken: func(w http.ResponseWriter, _ *http.Request) {
			atomic.AddInt64(&hits, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	})
	client := newTestClient(t, stub)
	client.backoff = noBackoff{}

	creds, err := client.resolver.Resolve(context.Background(), nil)
	require.NoError(t, err)

	_, err = client.FetchToken(context.Background(), creds)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeTransportFailed, domain.GetErrorCode(err))
	assert.EqualValues(t, 3, atomic.LoadInt64(&hits))
}

func TestVerifyPayment_ResolverErrorIsFatal(t *testing.T) {
	stub := newGatewayStub(t, map[string]http.HandlerFunc{})
	api := config.APIConfig{BaseURL: stub.server.URL, Timeout: time.Second, VerifySSL: true}
	resolver := merchant.NewStoreResolver(emptyStore{}, config.MerchantConfig{
		FabricAppID: "fabric-app",
		AppSecret:   "app-secret",
	}, config.ResolverConfig{KeyName: "merchant_id"}, zap.NewNop())
	client := NewClient(api, "", crypto.NewSigner(zap.NewNop(), false), resolver, zap.NewNop())

	result := client.VerifyPayment(context.Background(), map[string]string{"merchant_id": "missing"}, "TXN1")
	require.Equal(t, domain.OutcomeError, result.Outcome)
	assert.Equal(t, domain.ErrorCodeMerchantNotFound, domain.GetErrorCode(result.Err))
}

type emptyStore struct{}

func (emptyStore) FindByID(context.Context, string) (*ports.MerchantRecord, error) {
	return nil, nil
}

func (emptyStore) FindByOwner(context.Context, string, string) (*ports.MerchantRecord, error) {
	return nil, nil
}

func (emptyStore) FindByLegacyColumn(context.Context, string, string) (*ports.MerchantRecord, error) {
	return nil, nil
}
