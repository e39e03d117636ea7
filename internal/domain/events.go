package domain

// Event names emitted to the host application. Delivery is the host's
// concern; the service only guarantees at-most-once emission per job for
// the verified event.
const (
	EventPaymentInitiated        = "payment.initiated"
	EventWebhookReceived         = "payment.webhook_received"
	EventPaymentVerified         = "payment.verified"
	EventVerificationGaveUp      = "payment.verification_gave_up"
)

// PaymentVerifiedPayload is the payload of EventPaymentVerified.
type PaymentVerifiedPayload struct {
	Reference string                 `json:"reference"`
	Status    *PaymentStatus         `json:"status"`
	Webhook   map[string]interface{} `json:"webhook"`
}
