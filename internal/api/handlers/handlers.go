package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/dvloznov/spend-forecaster/internal/advisor"
	"github.com/dvloznov/spend-forecaster/internal/api/middleware"
	"github.com/dvloznov/spend-forecaster/internal/budgets"
	"github.com/dvloznov/spend-forecaster/internal/domain"
	"github.com/dvloznov/spend-forecaster/internal/forecast"
	"github.com/dvloznov/spend-forecaster/internal/jobs"
	"github.com/dvloznov/spend-forecaster/internal/logger"
	"github.com/rs/zerolog"
)

// Forecaster produces a single next-day risk report.
type Forecaster interface {
	PredictNextDay(ctx context.Context, req forecast.Request) (*forecast.Prediction, error)
}

// BudgetPredictor runs and reads stored budget predictions.
type BudgetPredictor interface {
	GenerateForUser(ctx context.Context, userID string, horizon budgets.Horizon) (*budgets.Result, error)
	Latest(ctx context.Context, userID string) ([]domain.DailyPrediction, error)
}

// Adviser answers spending questions.
type Adviser interface {
	Advise(ctx context.Context, userID, question string) (*advisor.Advice, error)
}

// requestLog returns the request-scoped logger set by the Logger middleware,
// or fallback when the request did not pass through it.
func requestLog(r *http.Request, fallback zerolog.Logger) *zerolog.Logger {
	if l, ok := r.Context().Value(logger.LoggerKey).(zerolog.Logger); ok {
		return &l
	}
	return &fallback
}

// PredictionsHandler handles forecast endpoints.
type PredictionsHandler struct {
	forecaster Forecaster
	budgets    BudgetPredictor
	log        zerolog.Logger
}

// NewPredictionsHandler creates a new predictions handler.
func NewPredictionsHandler(forecaster Forecaster, budgets BudgetPredictor, log zerolog.Logger) *PredictionsHandler {
	return &PredictionsHandler{
		forecaster: forecaster,
		budgets:    budgets,
		log:        log,
	}
}

// Predict handles GET /api/predict
func (h *PredictionsHandler) Predict(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	req := forecast.Request{
		EntityID: strings.TrimSpace(query.Get("entity_id")),
		Category: strings.TrimSpace(query.Get("category")),
	}
	if req.EntityID == "" || req.Category == "" {
		middleware.WriteError(w, http.StatusBadRequest, "entity_id and category are required")
		return
	}

	remaining, err := strconv.ParseFloat(query.Get("budget_remaining"), 64)
	if err != nil || math.IsNaN(remaining) || math.IsInf(remaining, 0) {
		middleware.WriteError(w, http.StatusBadRequest, "budget_remaining must be a finite number")
		return
	}
	req.BudgetRemaining = remaining

	if s := query.Get("look_back"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			middleware.WriteError(w, http.StatusBadRequest, "look_back must be a positive integer")
			return
		}
		req.LookBack = n
	}

	if s := query.Get("mode"); s != "" {
		mode, err := forecast.ParseMode(s)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Mode = mode
	}

	pred, err := h.forecaster.PredictNextDay(r.Context(), req)
	if errors.Is(err, forecast.ErrNotTrained) {
		middleware.WriteError(w, http.StatusNotFound, "no forecast available")
		return
	}
	if err != nil {
		requestLog(r, h.log).Error().Err(err).
			Str("entity_id", req.EntityID).
			Str("category", req.Category).
			Msg("Failed to predict")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to predict")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, pred)
}

// PredictBudgets handles GET /api/predict/budgets
func (h *PredictionsHandler) PredictBudgets(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	userID := strings.TrimSpace(query.Get("user_id"))
	if userID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	horizon, err := budgets.ParseHorizon(query.Get("horizon"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.budgets.GenerateForUser(r.Context(), userID, horizon)
	if errors.Is(err, budgets.ErrNoBudgets) {
		middleware.WriteError(w, http.StatusNotFound, "No budgets found for this user")
		return
	}
	if err != nil {
		requestLog(r, h.log).Error().Err(err).Str("user_id", userID).Msg("Failed to generate budget predictions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to generate predictions")
		return
	}

	predictions := res.Predictions()
	if len(predictions) == 0 {
		middleware.WriteError(w, http.StatusNotFound, "Could not generate any predictions for this user")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":      res.UserID,
		"time_horizon": res.Horizon,
		"predictions":  predictions,
		"outcomes":     res.Outcomes,
		"count":        len(predictions),
	})
}

// Latest handles GET /api/predictions/latest
func (h *PredictionsHandler) Latest(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	predictions, err := h.budgets.Latest(r.Context(), userID)
	if err != nil {
		requestLog(r, h.log).Error().Err(err).Str("user_id", userID).Msg("Failed to load latest predictions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load predictions")
		return
	}
	if predictions == nil {
		predictions = []domain.DailyPrediction{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"predictions": predictions,
		"count":       len(predictions),
	})
}

// TrainingHandler enqueues training jobs.
type TrainingHandler struct {
	publisher  jobs.Publisher
	maxRetries int
	log        zerolog.Logger
}

// NewTrainingHandler creates a new training handler. maxRetries applies to
// every job it enqueues.
func NewTrainingHandler(publisher jobs.Publisher, maxRetries int, log zerolog.Logger) *TrainingHandler {
	return &TrainingHandler{
		publisher:  publisher,
		maxRetries: maxRetries,
		log:        log,
	}
}

// Train handles POST /api/train
func (h *TrainingHandler) Train(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityID string `json:"entity_id"`
		Category string `json:"category"`
		LookBack int    `json:"look_back"`
		Horizon  int    `json:"horizon"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Category = strings.TrimSpace(req.Category)
	if req.Category == "" {
		middleware.WriteError(w, http.StatusBadRequest, "category is required")
		return
	}
	if req.LookBack < 0 || req.Horizon < 0 {
		middleware.WriteError(w, http.StatusBadRequest, "look_back and horizon must not be negative")
		return
	}

	job := &jobs.TrainJob{
		EntityID:   strings.TrimSpace(req.EntityID),
		Category:   req.Category,
		LookBack:   req.LookBack,
		Horizon:    req.Horizon,
		MaxRetries: h.maxRetries,
	}

	if err := h.publisher.PublishTrain(r.Context(), job); err != nil {
		requestLog(r, h.log).Error().Err(err).Msg("Failed to enqueue training job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue training job")
		return
	}

	requestLog(r, h.log).Info().Str("job_id", job.JobID).Str("prefix", job.Prefix()).Msg("Training job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"prefix": job.Prefix(),
		"status": string(job.Status),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	job, err := h.store.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		requestLog(r, h.log).Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Prefix: query.Get("prefix"),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		requestLog(r, h.log).Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// AdviceHandler handles the advice endpoint.
type AdviceHandler struct {
	adviser Adviser
	log     zerolog.Logger
}

// NewAdviceHandler creates a new advice handler.
func NewAdviceHandler(adviser Adviser, log zerolog.Logger) *AdviceHandler {
	return &AdviceHandler{adviser: adviser, log: log}
}

// Advise handles POST /api/advice
func (h *AdviceHandler) Advise(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		Question string `json:"question"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		middleware.WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	advice, err := h.adviser.Advise(r.Context(), req.UserID, req.Question)
	if errors.Is(err, advisor.ErrNoQuestion) {
		middleware.WriteError(w, http.StatusBadRequest, "question is required")
		return
	}
	if err != nil {
		requestLog(r, h.log).Error().Err(err).Str("user_id", req.UserID).Msg("Failed to generate advice")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to generate advice")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, advice)
}
