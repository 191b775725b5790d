package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/familysavings/golang_services/internal/ledger_service/app"
	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

const MaxRequestBodySize = 1 << 20 // 1 MB

// LedgerAPI is the part of app.LedgerService the HTTP layer drives.
type LedgerAPI interface {
	CreateGoal(ctx context.Context, p domain.NewGoalParams) (*domain.Goal, error)
	GetGoal(ctx context.Context, userID, goalID uuid.UUID) (*domain.Goal, error)
	ListGoals(ctx context.Context, userID uuid.UUID, filter domain.GoalFilter) ([]*domain.Goal, error)
	UpdateGoal(ctx context.Context, userID, goalID uuid.UUID, update domain.GoalUpdate) (*domain.Goal, error)
	DeleteGoal(ctx context.Context, userID, goalID uuid.UUID) error
	CreateTransaction(ctx context.Context, p domain.NewTransactionParams) (*domain.Transaction, error)
	CreateMobilePayment(ctx context.Context, p domain.NewTransactionParams) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, userID, txnID uuid.UUID) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, filter domain.TransactionFilter) ([]*domain.Transaction, error)
	ConfirmManualTransaction(ctx context.Context, userID, txnID uuid.UUID, receipt string) (*domain.Transaction, error)
	Cancel(ctx context.Context, userID, txnID uuid.UUID) (*domain.Transaction, error)
	HandleGatewayCallback(ctx context.Context, payload []byte, signature string) (*domain.Transaction, error)
}

// AnalyticsAPI is the part of app.ProjectionEngine the HTTP layer drives.
type AnalyticsAPI interface {
	GoalProgress(ctx context.Context, userID, goalID uuid.UUID) (*app.GoalProgress, error)
	GoalProgressList(ctx context.Context, userID uuid.UUID) ([]app.GoalProgress, error)
	SavingsOverview(ctx context.Context, userID uuid.UUID) (*app.SavingsOverview, error)
	SpendingPatterns(ctx context.Context, userID uuid.UUID, periodDays int) (*domain.SpendingSummary, error)
	MonthlyTrendSeries(ctx context.Context, userID uuid.UUID, months int) ([]domain.MonthlyTotal, error)
	CategoryBreakdown(ctx context.Context, userID uuid.UUID) ([]domain.CategorySummary, error)
}

type Handler struct {
	ledger    LedgerAPI
	analytics AnalyticsAPI
	logger    *slog.Logger
	validate  *validator.Validate
}

func NewHandler(ledger LedgerAPI, analytics AnalyticsAPI, logger *slog.Logger, validate *validator.Validate) *Handler {
	if validate == nil {
		validate = validator.New()
	}
	return &Handler{
		ledger:    ledger,
		analytics: analytics,
		logger:    logger.With("component", "http_handler"),
		validate:  validate,
	}
}

// decode reads a JSON body into dst and validates it. It writes the 400 itself
// and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", "path", r.URL.Path, "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large", "")
			return false
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return false
	}
	if err := h.validate.StructCtx(r.Context(), dst); err != nil {
		h.logger.WarnContext(r.Context(), "Validation failed", "path", r.URL.Path, "error", err)
		resp := ErrorResponse{Error: "validation failed", Details: err.Error()}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			resp.Field = verrs[0].Field()
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := UserIDFromContext(r.Context())
	if !ok {
		h.logger.ErrorContext(r.Context(), "Authenticated user missing from context")
		writeJSONError(w, http.StatusUnauthorized, "authorization required", "")
	}
	return id, ok
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id", param)
		return uuid.Nil, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(name, "must be an integer")
	}
	return v, nil
}
