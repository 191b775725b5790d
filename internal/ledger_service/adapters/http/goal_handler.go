package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

func (h *Handler) registerGoalRoutes(r chi.Router) {
	r.Post("/", h.CreateGoal)
	r.Get("/", h.ListGoals)
	r.Route("/{goalID}", func(r chi.Router) {
		r.Get("/", h.GetGoal)
		r.Put("/", h.UpdateGoal)
		r.Delete("/", h.DeleteGoal)
		r.Get("/analytics", h.GoalAnalytics)
	})
}

func (h *Handler) CreateGoal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req CreateGoalRequest
	if !h.decode(w, r, &req) {
		return
	}
	goal, err := h.ledger.CreateGoal(r.Context(), domain.NewGoalParams{
		UserID:       userID,
		Title:        req.Title,
		Description:  req.Description,
		TargetAmount: req.TargetAmount,
		TargetDate:   req.TargetDate,
		Category:     domain.GoalCategory(req.Category),
		Priority:     domain.GoalPriority(req.Priority),
		AutoSave:     req.AutoSave.policy(),
	})
	if err != nil {
		writeError(w, r, h.logger, "create_goal", err)
		return
	}
	writeJSON(w, http.StatusCreated, toGoalResponse(goal))
}

func (h *Handler) ListGoals(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var filter domain.GoalFilter
	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		st, err := domain.ParseGoalStatus(s)
		if err != nil {
			writeError(w, r, h.logger, "list_goals", err)
			return
		}
		filter.Status = &st
	}
	if c := q.Get("category"); c != "" {
		cat, err := domain.ParseGoalCategory(c)
		if err != nil {
			writeError(w, r, h.logger, "list_goals", err)
			return
		}
		filter.Category = &cat
	}
	var err error
	if filter.Limit, err = queryInt(r, "limit", 0); err != nil {
		writeError(w, r, h.logger, "list_goals", err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeError(w, r, h.logger, "list_goals", err)
		return
	}

	goals, err := h.ledger.ListGoals(r.Context(), userID, filter)
	if err != nil {
		writeError(w, r, h.logger, "list_goals", err)
		return
	}
	writeJSON(w, http.StatusOK, toGoalResponses(goals))
}

func (h *Handler) GetGoal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	goalID, ok := h.pathID(w, r, "goalID")
	if !ok {
		return
	}
	goal, err := h.ledger.GetGoal(r.Context(), userID, goalID)
	if err != nil {
		writeError(w, r, h.logger, "get_goal", err)
		return
	}
	writeJSON(w, http.StatusOK, toGoalResponse(goal))
}

func (h *Handler) UpdateGoal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	goalID, ok := h.pathID(w, r, "goalID")
	if !ok {
		return
	}
	var req UpdateGoalRequest
	if !h.decode(w, r, &req) {
		return
	}
	goal, err := h.ledger.UpdateGoal(r.Context(), userID, goalID, req.toDomain())
	if err != nil {
		writeError(w, r, h.logger, "update_goal", err)
		return
	}
	writeJSON(w, http.StatusOK, toGoalResponse(goal))
}

func (h *Handler) DeleteGoal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	goalID, ok := h.pathID(w, r, "goalID")
	if !ok {
		return
	}
	if err := h.ledger.DeleteGoal(r.Context(), userID, goalID); err != nil {
		writeError(w, r, h.logger, "delete_goal", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GoalAnalytics(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	goalID, ok := h.pathID(w, r, "goalID")
	if !ok {
		return
	}
	progress, err := h.analytics.GoalProgress(r.Context(), userID, goalID)
	if err != nil {
		writeError(w, r, h.logger, "goal_analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}
