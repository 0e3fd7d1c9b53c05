package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/spend-forecaster/internal/app"
	"github.com/dvloznov/spend-forecaster/internal/forecast"
	"github.com/dvloznov/spend-forecaster/internal/jobs"
	"github.com/dvloznov/spend-forecaster/internal/jobs/amqp"
	"github.com/dvloznov/spend-forecaster/internal/jobs/inmemory"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newTrainCommand(log zerolog.Logger) *cobra.Command {
	var req forecast.TrainRequest

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train and publish the model set for one category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, log, func(ctx context.Context, a *app.App) error {
				report, err := a.Trainer.TrainModels(ctx, req)
				if err != nil {
					return err
				}
				printReport(cmd, report)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.Category, "category", "", "spend category to train (required)")
	_ = cmd.MarkFlagRequired("category")
	cmd.Flags().StringVar(&req.EntityID, "entity", "", "train a per-user set for this entity instead of the global set")
	cmd.Flags().IntVar(&req.LookBack, "look-back", 0, "window length in days (default from the training profile)")
	cmd.Flags().IntVar(&req.Horizon, "horizon", 0, "forecast horizon in days (default from the training profile)")

	return cmd
}

func printReport(cmd *cobra.Command, r *forecast.TrainReport) {
	printf(cmd, "Trained %s (%s mode, generation %s)\n", r.Prefix, r.Mode, r.Generation)
	printf(cmd, "  days: %d, windows: %d train / %d validation\n", r.Days, r.TrainWindows, r.ValidationWindows)
	printf(cmd, "  loss: train %.4f, validation %.4f\n", r.TrainLoss, r.ValidationLoss)
	printf(cmd, "  classifier: %d rows, %d trees, depth %d", r.ClassifierRows, r.ClassifierParams.NEstimators, r.ClassifierParams.MaxDepth)
	if r.Searched {
		printf(cmd, ", search F1 %.3f", r.SearchScore)
	}
	if r.InjectedMinority {
		printf(cmd, ", minority label injected")
	}
	printf(cmd, "\n")
}

func newTrainAllCommand(log zerolog.Logger) *cobra.Command {
	var (
		modeFlag string
		publish  bool
	)

	cmd := &cobra.Command{
		Use:   "train-all",
		Short: "Train every category found in the transaction source",
		Long: "Train every category found in the transaction source. Units that cannot be trained\n" +
			"are reported and skipped. With --publish the jobs go to RabbitMQ for the worker instead.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, log, func(ctx context.Context, a *app.App) error {
				mode := a.Config.Mode()
				if modeFlag != "" {
					m, err := forecast.ParseMode(modeFlag)
					if err != nil {
						return err
					}
					mode = m
				}

				units, err := a.TrainingUnits(ctx, mode)
				if err != nil {
					return err
				}
				if len(units) == 0 {
					return fmt.Errorf("no categories with spend in the transaction source")
				}

				if publish {
					return publishUnits(ctx, cmd, a, units, log)
				}
				return trainUnits(ctx, cmd, a, units, log)
			})
		},
	}

	cmd.Flags().StringVar(&modeFlag, "mode", "", "user, global or auto (default PREDICTION_MODE)")
	cmd.Flags().BoolVar(&publish, "publish", false, "enqueue the jobs on AMQP_URL instead of training here")

	return cmd
}

func newJob(req forecast.TrainRequest, maxRetries int) *jobs.TrainJob {
	return &jobs.TrainJob{
		EntityID:   req.EntityID,
		Category:   req.Category,
		LookBack:   req.LookBack,
		Horizon:    req.Horizon,
		MaxRetries: maxRetries,
	}
}

func publishUnits(ctx context.Context, cmd *cobra.Command, a *app.App, units []forecast.TrainRequest, log zerolog.Logger) error {
	if a.Config.AMQPURL == "" {
		return errors.New("--publish needs AMQP_URL")
	}
	client, err := amqp.NewClient(a.Config.AMQPURL, a.Config.AMQPExchange, a.Config.AMQPQueue, amqp.WithLogger(log))
	if err != nil {
		return err
	}
	defer client.Close()

	for _, u := range units {
		job := newJob(u, a.Config.JobMaxRetries)
		if err := client.PublishTrain(ctx, job); err != nil {
			return err
		}
		printf(cmd, "queued %s as %s\n", job.Prefix(), job.JobID)
	}
	return nil
}

// trainUnits runs every unit through an in-process queue and waits for all of
// them to settle. Failures are reported and do not stop the others.
func trainUnits(ctx context.Context, cmd *cobra.Command, a *app.App, units []forecast.TrainRequest, log zerolog.Logger) error {
	store := inmemory.NewStore()
	queue := inmemory.NewQueue(len(units), store,
		inmemory.WithWorkers(a.Config.TrainWorkers),
		inmemory.WithLogger(log))
	if err := queue.Start(ctx, jobs.TrainHandler(a.Trainer, jobs.NewPrefixLocker())); err != nil {
		return err
	}
	defer queue.Close()

	ids := make([]string, 0, len(units))
	for _, u := range units {
		job := newJob(u, a.Config.JobMaxRetries)
		if err := queue.PublishTrain(ctx, job); err != nil {
			return err
		}
		ids = append(ids, job.JobID)
	}

	done, err := waitForJobs(ctx, store, ids, 100*time.Millisecond)
	if err != nil {
		return err
	}

	var failed int
	for _, job := range done {
		if job.Status == jobs.JobStatusCompleted {
			printReport(cmd, job.Report)
			continue
		}
		failed++
		printf(cmd, "Skipped %s: %s\n", job.Prefix(), job.Error)
	}
	printf(cmd, "%d trained, %d skipped\n", len(done)-failed, failed)
	if failed == len(done) {
		return errors.New("no unit could be trained")
	}
	return nil
}

// waitForJobs polls store until every job has completed or failed.
func waitForJobs(ctx context.Context, store jobs.JobStore, ids []string, every time.Duration) ([]*jobs.TrainJob, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		done := make([]*jobs.TrainJob, 0, len(ids))
		for _, id := range ids {
			job, err := store.GetJob(ctx, id)
			if err != nil {
				return nil, err
			}
			if job.Status != jobs.JobStatusCompleted && job.Status != jobs.JobStatusFailed {
				break
			}
			done = append(done, job)
		}
		if len(done) == len(ids) {
			return done, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
