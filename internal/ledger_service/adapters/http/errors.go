package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error("Failed to encode response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg, field string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Field: field})
}

// writeError maps ledger errors onto HTTP statuses. Unexpected errors are logged
// and reported without internal detail.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	var (
		ve *domain.ValidationError
		ge *domain.GatewayError
	)
	switch {
	case errors.As(err, &ve):
		logger.WarnContext(r.Context(), "Request rejected", "op", op, "field", ve.Field, "error", ve.Message)
		writeJSONError(w, http.StatusBadRequest, ve.Message, ve.Field)
	case errors.Is(err, domain.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "resource not found", "")
	case errors.Is(err, domain.ErrConcurrencyConflict):
		logger.WarnContext(r.Context(), "Concurrent modification", "op", op, "error", err)
		writeJSONError(w, http.StatusConflict, "resource was modified concurrently, retry the request", "")
	case errors.Is(err, domain.ErrInvalidSignature):
		writeJSONError(w, http.StatusUnauthorized, "invalid signature", "")
	case errors.As(err, &ge):
		logger.ErrorContext(r.Context(), "Payment gateway error", "op", op, "error", err)
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "payment gateway error", Details: ge.Op})
	default:
		logger.ErrorContext(r.Context(), "Request failed", "op", op, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error", "")
	}
}
