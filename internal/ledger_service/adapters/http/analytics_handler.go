package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) registerAnalyticsRoutes(r chi.Router) {
	r.Get("/savings-overview", h.SavingsOverview)
	r.Get("/goal-progress", h.GoalProgressList)
	r.Get("/spending-patterns", h.SpendingPatterns)
	r.Get("/monthly-trends", h.MonthlyTrends)
	r.Get("/categories", h.Categories)
}

func (h *Handler) SavingsOverview(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	overview, err := h.analytics.SavingsOverview(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, "savings_overview", err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (h *Handler) GoalProgressList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	progress, err := h.analytics.GoalProgressList(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, "goal_progress", err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *Handler) SpendingPatterns(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	days, err := queryInt(r, "period_days", 30)
	if err != nil {
		writeError(w, r, h.logger, "spending_patterns", err)
		return
	}
	summary, err := h.analytics.SpendingPatterns(r.Context(), userID, days)
	if err != nil {
		writeError(w, r, h.logger, "spending_patterns", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) MonthlyTrends(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	months, err := queryInt(r, "months", 12)
	if err != nil {
		writeError(w, r, h.logger, "monthly_trends", err)
		return
	}
	series, err := h.analytics.MonthlyTrendSeries(r.Context(), userID, months)
	if err != nil {
		writeError(w, r, h.logger, "monthly_trends", err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	cats, err := h.analytics.CategoryBreakdown(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, "categories", err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}
