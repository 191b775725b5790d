package http

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

func (h *Handler) registerTransactionRoutes(r chi.Router) {
	r.Post("/", h.CreateTransaction)
	r.Get("/", h.ListTransactions)
	r.Post("/mpesa/payment", h.CreateMobilePayment)
	r.Route("/{txnID}", func(r chi.Router) {
		r.Get("/", h.GetTransaction)
		r.Post("/cancel", h.CancelTransaction)
		r.Post("/confirm", h.ConfirmTransaction)
	})
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req CreateTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	txn, err := h.ledger.CreateTransaction(r.Context(), domain.NewTransactionParams{
		UserID:           userID,
		GoalID:           req.GoalID,
		Amount:           req.Amount,
		Type:             domain.TransactionType(req.Type),
		Method:           domain.TransactionMethod(req.Method),
		Description:      req.Description,
		PhoneNumber:      req.PhoneNumber,
		AccountReference: req.AccountReference,
	})
	if err != nil {
		writeError(w, r, h.logger, "create_transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// CreateMobilePayment records a mobile-money deposit and sends the STK push.
// 202 means the customer has been prompted; the outcome arrives later.
func (h *Handler) CreateMobilePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req MobilePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	txn, err := h.ledger.CreateMobilePayment(r.Context(), domain.NewTransactionParams{
		UserID:           userID,
		GoalID:           req.GoalID,
		Amount:           req.Amount,
		Type:             domain.TransactionTypeDeposit,
		PhoneNumber:      req.PhoneNumber,
		AccountReference: req.AccountReference,
		Description:      req.Description,
	})
	var ge *domain.GatewayError
	if errors.As(err, &ge) && txn != nil {
		h.logger.WarnContext(r.Context(), "Mobile payment failed at initiation", "transaction_id", txn.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, GatewayFailureResponse{Error: "payment gateway rejected the request", Transaction: txn})
		return
	}
	if err != nil {
		writeError(w, r, h.logger, "create_mobile_payment", err)
		return
	}
	writeJSON(w, http.StatusAccepted, txn)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	filter, err := transactionFilterFromQuery(r)
	if err != nil {
		writeError(w, r, h.logger, "list_transactions", err)
		return
	}
	txns, err := h.ledger.ListTransactions(r.Context(), userID, filter)
	if err != nil {
		writeError(w, r, h.logger, "list_transactions", err)
		return
	}
	if txns == nil {
		txns = []*domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

func transactionFilterFromQuery(r *http.Request) (domain.TransactionFilter, error) {
	var f domain.TransactionFilter
	q := r.URL.Query()
	if s := q.Get("goal_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return f, domain.NewValidationError("goal_id", "must be a uuid")
		}
		f.GoalID = &id
	}
	if s := q.Get("type"); s != "" {
		t, err := domain.ParseTransactionType(s)
		if err != nil {
			return f, err
		}
		f.Type = &t
	}
	if s := q.Get("method"); s != "" {
		m, err := domain.ParseTransactionMethod(s)
		if err != nil {
			return f, err
		}
		f.Method = &m
	}
	if s := q.Get("status"); s != "" {
		st, err := domain.ParseTransactionStatus(s)
		if err != nil {
			return f, err
		}
		f.Status = &st
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if s := q.Get(name); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return f, domain.NewValidationError(name, "must be an RFC 3339 timestamp")
			}
			*dst = t.UTC()
		}
	}
	var err error
	if f.Limit, err = queryInt(r, "limit", 0); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	txnID, ok := h.pathID(w, r, "txnID")
	if !ok {
		return
	}
	txn, err := h.ledger.GetTransaction(r.Context(), userID, txnID)
	if err != nil {
		writeError(w, r, h.logger, "get_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	txnID, ok := h.pathID(w, r, "txnID")
	if !ok {
		return
	}
	txn, err := h.ledger.Cancel(r.Context(), userID, txnID)
	if err != nil {
		writeError(w, r, h.logger, "cancel_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// ConfirmTransaction settles a cash, bank or card transaction. The body is optional.
func (h *Handler) ConfirmTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	txnID, ok := h.pathID(w, r, "txnID")
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBodySize))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	var req ConfirmTransactionRequest
	if len(bytes.TrimSpace(body)) > 0 {
		r.Body = io.NopCloser(bytes.NewReader(body))
		if !h.decode(w, r, &req) {
			return
		}
	}
	txn, err := h.ledger.ConfirmManualTransaction(r.Context(), userID, txnID, req.Receipt)
	if err != nil {
		writeError(w, r, h.logger, "confirm_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}
