package payment

import (
	"encoding/json"
	"net/http"

	"github.com/addispay/telebirr-service/internal/domain"
)

// gatewayAck is the acknowledgement shape the gateway expects for webhooks.
// Code "0" acknowledges; code "1" reports a malformed notification without
// asking for redelivery.
type gatewayAck struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a domain error to an HTTP status and error body.
func writeError(w http.ResponseWriter, err error) {
	code := domain.GetErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case domain.ErrorCodeMerchantNotFound:
		status = http.StatusNotFound
	case domain.ErrorCodeTransportFailed, domain.ErrorCodeGatewayError:
		status = http.StatusBadGateway
	case domain.ErrorCodeTokenUnavailable:
		status = http.StatusServiceUnavailable
	case domain.ErrorCodeAuthRejected:
		status = http.StatusUnauthorized
	}

	body := map[string]interface{}{"error": err.Error()}
	if code != "" {
		body["code"] = string(code)
	}
	writeJSON(w, status, body)
}
