package ports

import (
	"context"

	"github.com/addispay/telebirr-service/internal/domain"
)

// OrderData describes the order to open with the gateway.
type OrderData struct {
	// Reference is the merchant-side transaction reference. Dashes are
	// stripped before it becomes the gateway's merch_order_id.
	Reference string
	Subject   string
	Amount    string
	// Context carries tenant resolution hints (merchant_id, branch_id, ...).
	Context map[string]string
}

// PaymentGateway is the surface the handlers and the verification worker
// consume. The concrete client composes signing, token caching and merchant
// resolution behind it.
type PaymentGateway interface {
	// CreateOrder opens a preorder and returns the signed raw request string
	// for the mobile client. Empty result means the gateway declined or was
	// unreachable.
	CreateOrder(ctx context.Context, order OrderData) (string, error)

	// VerifyPayment queries a payment by transaction reference.
	VerifyPayment(ctx context.Context, tenantCtx map[string]string, reference string) domain.QueryResult

	// QueryOrder queries an order by merchant order id.
	QueryOrder(ctx context.Context, tenantCtx map[string]string, orderID string) domain.QueryResult

	// GetAuthToken exchanges a user access token for profile data.
	GetAuthToken(ctx context.Context, tenantCtx map[string]string, accessToken string) (*domain.Profile, error)
}
