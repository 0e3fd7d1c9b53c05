package jobs

import (
	"context"
	"errors"

	"github.com/dvloznov/spend-forecaster/internal/forecast"
	"github.com/dvloznov/spend-forecaster/internal/logger"
)

// Trainer trains one unit.
type Trainer interface {
	TrainModels(ctx context.Context, req forecast.TrainRequest) (*forecast.TrainReport, error)
}

// TrainHandler returns the handler that runs training jobs. Jobs for the same
// prefix never train concurrently. Errors caused by the data rather than the
// environment are marked permanent.
func TrainHandler(trainer Trainer, locker *PrefixLocker) JobHandler {
	return func(ctx context.Context, job *TrainJob) error {
		log := logger.FromContext(ctx).With().
			Str("job_id", job.JobID).
			Str("prefix", job.Prefix()).
			Int("attempt", job.RetryCount+1).
			Logger()

		unlock := locker.Lock(job.Prefix())
		defer unlock()

		log.Info().Msg("Training job started")
		report, err := trainer.TrainModels(ctx, job.Request())
		if err != nil {
			log.Error().Err(err).Msg("Training job failed")
			if errors.Is(err, forecast.ErrNoData) ||
				errors.Is(err, forecast.ErrUnknownCategory) ||
				errors.Is(err, forecast.ErrInsufficientHistory) {
				return Permanent(err)
			}
			return err
		}

		job.Report = report
		log.Info().Str("generation", report.Generation).Msg("Training job completed")
		return nil
	}
}
