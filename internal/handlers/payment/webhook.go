package payment

import (
	"encoding/json"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/addispay/telebirr-service/internal/domain"
)

// HandleWebhook receives payment notifications from the gateway.
//
// The gateway treats anything but a code "0" acknowledgement as a delivery
// failure, so malformed payloads that can never become valid are still
// acknowledged with code "1" to stop redelivery. Only notifications whose
// trade_status is Completed enqueue a verification job; the notification
// itself is never trusted as proof of payment.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload := make(map[string]interface{})
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("webhook with undecodable body", zap.Error(err))
		writeJSON(w, http.StatusOK, gatewayAck{Code: "1", Message: "Malformed payload"})
		return
	}

	h.events.Emit(r.Context(), domain.EventWebhookReceived, payload)

	reference, _ := payload["merch_order_id"].(string)
	if reference == "" {
		h.logger.Warn("webhook without order id")
		writeJSON(w, http.StatusOK, gatewayAck{Code: "1", Message: "Missing order id"})
		return
	}

	tradeStatus, _ := payload["trade_status"].(string)
	if tradeStatus == domain.TradeStatusCompleted && h.worker != nil {
		job := domain.NewVerificationJob(reference, payload, clientIP(r))
		h.worker.Enqueue(r.Context(), job)
		h.logger.Info("verification enqueued",
			zap.String("reference", reference),
			zap.String("job_id", job.ID.String()),
		)
	} else {
		h.logger.Info("webhook acknowledged without verification",
			zap.String("reference", reference),
			zap.String("trade_status", tradeStatus),
		)
	}

	writeJSON(w, http.StatusOK, gatewayAck{Code: "0", Message: "Success"})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
