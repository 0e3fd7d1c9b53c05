// Package api assembles the HTTP surface of the forecaster.
package api

import (
	"net/http"
	"time"

	"github.com/dvloznov/spend-forecaster/internal/api/handlers"
	"github.com/dvloznov/spend-forecaster/internal/api/middleware"
	"github.com/dvloznov/spend-forecaster/internal/jobs"
	"github.com/rs/zerolog"
)

// Services are the backends the routes call. Publisher, Jobs and Adviser may
// be nil, in which case their routes answer 503.
type Services struct {
	Forecaster     handlers.Forecaster
	Budgets        handlers.BudgetPredictor
	Publisher      jobs.Publisher
	Jobs           jobs.JobStore
	Adviser        handlers.Adviser
	JobMaxRetries  int
	AllowedOrigins []string
}

// NewRouter registers every route and wraps the mux in the middleware chain.
func NewRouter(s Services, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	predictions := handlers.NewPredictionsHandler(s.Forecaster, s.Budgets, log)
	mux.HandleFunc("GET /api/predict", predictions.Predict)
	mux.HandleFunc("GET /api/predict/budgets", predictions.PredictBudgets)
	mux.HandleFunc("GET /api/predictions/latest", predictions.Latest)

	if s.Publisher != nil {
		training := handlers.NewTrainingHandler(s.Publisher, s.JobMaxRetries, log)
		mux.HandleFunc("POST /api/train", training.Train)
	} else {
		mux.HandleFunc("POST /api/train", unavailable("training is not configured"))
	}

	if s.Jobs != nil {
		jobsHandler := handlers.NewJobsHandler(s.Jobs, log)
		mux.HandleFunc("GET /api/jobs", jobsHandler.ListJobs)
		mux.HandleFunc("GET /api/jobs/{id}", jobsHandler.GetJob)
	} else {
		mux.HandleFunc("GET /api/jobs", unavailable("job tracking is not configured"))
		mux.HandleFunc("GET /api/jobs/{id}", unavailable("job tracking is not configured"))
	}

	if s.Adviser != nil {
		advice := handlers.NewAdviceHandler(s.Adviser, log)
		mux.HandleFunc("POST /api/advice", advice.Advise)
	} else {
		mux.HandleFunc("POST /api/advice", unavailable("advice is not configured"))
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	origins := s.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(origins)(mux),
			),
		),
	)
}

func unavailable(msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusServiceUnavailable, msg)
	}
}
