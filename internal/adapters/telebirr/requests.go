package telebirr

import (
	"regexp"
	"strings"
	"time"

	"github.com/addispay/telebirr-service/internal/domain"
	"github.com/addispay/telebirr-service/pkg/crypto"
)

const (
	methodPreorder   = "payment.preorder"
	methodQueryOrder = "payment.queryorder"
	methodAuthToken  = "payment.authtoken"

	signType       = "SHA256WithRSA"
	apiVersion     = "1.0"
	tradeTypeInApp = "InApp"
)

// titleSanitizer strips the characters the gateway rejects in order titles.
var titleSanitizer = regexp.MustCompile("[~`!#$%^*()\\-+=|/<>?;:\"\\[\\]{}\\\\]")

// preorderFields builds the signed field set for the preorder call.
func preorderFields(creds *domain.MerchantCredentials, notifyURL, reference, subject, amount string, now time.Time) *crypto.FieldSet {
	return crypto.NewFieldSet().
		Set("nonce_str", crypto.GenerateNonce()).
		Set("method", methodPreorder).
		Set("timestamp", crypto.GenerateTimestamp(now)).
		Set("version", apiVersion).
		SetBiz("notify_url", notifyURL).
		SetBiz("business_type", "BuyGoods").
		SetBiz("trade_type", tradeTypeInApp).
		SetBiz("appid", creds.MerchantAppID).
		SetBiz("merch_code", creds.MerchantCode).
		SetBiz("merch_order_id", strings.ReplaceAll(reference, "-", "")).
		SetBiz("title", titleSanitizer.ReplaceAllString(subject, "")).
		SetBiz("total_amount", amount).
		SetBiz("trans_currency", "ETB").
		SetBiz("timeout_express", "120m").
		SetBiz("payee_identifier", creds.MerchantCode).
		SetBiz("payee_identifier_type", "04").
		SetBiz("payee_type", "5000")
}

// queryOrderFields builds the signed field set for the order query call.
func queryOrderFields(creds *domain.MerchantCredentials, merchOrderID string, now time.Time) *crypto.FieldSet {
	return crypto.NewFieldSet().
		Set("nonce_str", crypto.GenerateNonce()).
		Set("method", methodQueryOrder).
		Set("timestamp", crypto.GenerateTimestamp(now)).
		Set("version", apiVersion).
		SetBiz("appid", creds.MerchantAppID).
		SetBiz("merch_code", creds.MerchantCode).
		SetBiz("merch_order_id", merchOrderID)
}

// verifyFields builds the signed field set for the payment query call. This
// endpoint predates the enveloped ones: its fields are flat and it carries
// no sign_type.
func verifyFields(creds *domain.MerchantCredentials, outTradeNo string, now time.Time) *crypto.FieldSet {
	return crypto.NewFieldSet().
		Set("merchantAppId", creds.MerchantAppID).
		Set("outTradeNo", outTradeNo).
		Set("nonce", crypto.GenerateNonce()).
		Set("timestamp", crypto.GenerateTimestamp(now))
}

// authTokenFields builds the signed field set for the auth token exchange.
func authTokenFields(creds *domain.MerchantCredentials, accessToken string, now time.Time) *crypto.FieldSet {
	return crypto.NewFieldSet().
		Set("nonce_str", crypto.GenerateNonce()).
		Set("method", methodAuthToken).
		Set("timestamp", crypto.GenerateTimestamp(now)).
		Set("version", apiVersion).
		SetBiz("access_token", accessToken).
		SetBiz("trade_type", tradeTypeInApp).
		SetBiz("appid", creds.MerchantAppID).
		SetBiz("resource_type", "OpenId")
}

// rawRequestFields builds the second, smaller field set exchanged for a
// prepay_id. It is signed independently of the preorder itself.
func rawRequestFields(creds *domain.MerchantCredentials, prepayID string, now time.Time) *crypto.FieldSet {
	return crypto.NewFieldSet().
		Set("appid", creds.MerchantAppID).
		Set("merch_code", creds.MerchantCode).
		Set("nonce_str", crypto.GenerateNonce()).
		Set("prepay_id", prepayID).
		Set("timestamp", crypto.GenerateTimestamp(now)).
		Set("sign_type", signType)
}

// encodeRawRequest renders the mobile-client string: the signed fields in
// insertion order followed by the signature, joined as k=v pairs.
func encodeRawRequest(fields *crypto.FieldSet, sign string) string {
	var b strings.Builder
	for _, pair := range fields.Pairs() {
		b.WriteString(pair.Key)
		b.WriteByte('=')
		b.WriteString(pair.Value)
		b.WriteByte('&')
	}
	b.WriteString("sign=")
	b.WriteString(sign)
	return b.String()
}

// jsonBody renders a field set as the gateway's JSON request body, with
// biz_content nested and the signature fields appended. withSignType is
// false for the flat payment-query endpoint.
func jsonBody(fields *crypto.FieldSet, sign string, withSignType bool) map[string]interface{} {
	body := make(map[string]interface{}, len(fields.Pairs())+3)
	for _, pair := range fields.Pairs() {
		body[pair.Key] = pair.Value
	}
	if biz := fields.BizContent(); len(biz) > 0 {
		bizContent := make(map[string]interface{}, len(biz))
		for _, pair := range biz {
			bizContent[pair.Key] = pair.Value
		}
		body["biz_content"] = bizContent
	}
	body["sign"] = sign
	if withSignType {
		body["sign_type"] = signType
	}
	return body
}
