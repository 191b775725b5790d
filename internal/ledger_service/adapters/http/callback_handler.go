package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/familysavings/golang_services/internal/ledger_service/adapters/paymentgateway"
	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

var callbackAccepted = CallbackAck{ResultCode: 0, ResultDesc: "Accepted"}

// MpesaCallback receives Daraja STK callbacks. Callbacks for unknown references
// are acknowledged; the poller fails such transactions on timeout.
func (h *Handler) MpesaCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", middleware.GetReqID(ctx))

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to read callback body", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large", "")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "error reading request body", "")
		return
	}
	signature := r.Header.Get(paymentgateway.SignatureHeader)
	logger.InfoContext(ctx, "Received M-Pesa callback", "payload_size", len(payload), "signature_present", signature != "")

	txn, err := h.ledger.HandleGatewayCallback(ctx, payload, signature)
	switch {
	case err == nil:
		if txn != nil {
			logger.InfoContext(ctx, "Callback applied", "transaction_id", txn.ID, "status", txn.Status)
		}
	case errors.Is(err, domain.ErrNotFound):
		logger.WarnContext(ctx, "Callback for unknown reference", "error", err)
	default:
		writeError(w, r, logger, "mpesa_callback", err)
		return
	}
	writeJSON(w, http.StatusOK, callbackAccepted)
}
