package domain

// Gateway order status sentinels. Anything else is treated as pending.
const (
	OrderStatusSuccess = "PAY_SUCCESS"
	OrderStatusFailed  = "PAY_FAILED"
)

// Webhook trade_status value that triggers verification.
const TradeStatusCompleted = "Completed"

// Outcome discriminates the three results of a gateway query: a definite
// answer, no answer yet (non-success envelope or transport failure after
// retries), or a hard local error such as a signing failure.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeEmpty
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// PaymentStatus is a gateway status record from the verify/query endpoints.
type PaymentStatus struct {
	OrderStatus  string
	TotalAmount  string
	TradeNo      string
	MerchOrderID string

	// Raw keeps the full gateway envelope body for event payloads.
	Raw map[string]interface{}
}

// QueryResult is the discriminated result of verifyPayment/queryOrder.
// Status is non-nil only when Outcome is OutcomeSuccess; Err is non-nil only
// when Outcome is OutcomeError.
type QueryResult struct {
	Outcome Outcome
	Status  *PaymentStatus
	Err     error
}

// SuccessResult wraps a status record
func SuccessResult(status *PaymentStatus) QueryResult {
	return QueryResult{Outcome: OutcomeSuccess, Status: status}
}

// EmptyResult reports that the gateway had no definitive answer
func EmptyResult() QueryResult {
	return QueryResult{Outcome: OutcomeEmpty}
}

// ErrorResult wraps a hard failure
func ErrorResult(err error) QueryResult {
	return QueryResult{Outcome: OutcomeError, Err: err}
}

// Profile is the gateway's auth-token exchange response: the open id plus
// whatever personal fields the gateway chose to include.
type Profile struct {
	OpenID string
	Raw    map[string]interface{}
}
