package commands

import (
	"context"
	"errors"

	"github.com/dvloznov/spend-forecaster/internal/app"
	"github.com/dvloznov/spend-forecaster/internal/budgets"
	"github.com/dvloznov/spend-forecaster/internal/forecast"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newPredictCommand(log zerolog.Logger) *cobra.Command {
	var (
		req      forecast.Request
		modeFlag string
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Print the next-day risk report for one entity and category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if modeFlag != "" {
				m, err := forecast.ParseMode(modeFlag)
				if err != nil {
					return err
				}
				req.Mode = m
			}
			return withApp(cmd, log, func(ctx context.Context, a *app.App) error {
				pred, err := a.Predictor.PredictNextDay(ctx, req)
				if errors.Is(err, forecast.ErrNotTrained) {
					return errors.New("no forecast available: train the category first")
				}
				if err != nil {
					return err
				}
				printPrediction(cmd, req, pred)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.EntityID, "entity", "", "entity (account or user) to forecast (required)")
	_ = cmd.MarkFlagRequired("entity")
	cmd.Flags().StringVar(&req.Category, "category", "", "spend category (required)")
	_ = cmd.MarkFlagRequired("category")
	cmd.Flags().Float64Var(&req.BudgetRemaining, "budget-remaining", 0, "remaining budget for the category")
	cmd.Flags().IntVar(&req.LookBack, "look-back", 0, "inference window in days (default: the trained window)")
	cmd.Flags().StringVar(&modeFlag, "mode", "", "user, global or auto (default PREDICTION_MODE)")

	return cmd
}

func printPrediction(cmd *cobra.Command, req forecast.Request, p *forecast.Prediction) {
	printf(cmd, "Next-day forecast for %s / %s (%s)\n", req.EntityID, req.Category, p.Prefix)
	printf(cmd, "  date:             %s (%s)\n", p.NextDayDate, p.DayName)
	printf(cmd, "  predicted spend:  %.2f\n", p.PredictedAmount)
	printf(cmd, "  budget remaining: %.2f\n", req.BudgetRemaining)
	printf(cmd, "  risk probability: %.3f\n", p.RiskProbability)
	printf(cmd, "  risk level:       %s\n", p.RiskLevel)
	printf(cmd, "  7-day mean/std:   %.2f / %.2f\n", p.Rolling7Mean, p.Rolling7Std)
	if p.Degenerate {
		printf(cmd, "  (no history in the window; zero forecast)\n")
	}
}

func newPredictBudgetsCommand(log zerolog.Logger) *cobra.Command {
	var userID, horizonFlag string

	cmd := &cobra.Command{
		Use:   "predict-budgets",
		Short: "Predict and store the next day for every budget of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			horizon, err := budgets.ParseHorizon(horizonFlag)
			if err != nil {
				return err
			}
			return withApp(cmd, log, func(ctx context.Context, a *app.App) error {
				svc, err := a.RequireBudgets()
				if err != nil {
					return err
				}
				res, err := svc.GenerateForUser(ctx, userID, horizon)
				if err != nil {
					return err
				}

				for _, out := range res.Outcomes {
					switch out.Status {
					case budgets.StatusOK:
						p := out.Prediction
						printf(cmd, "%-20s %s  predicted %8.2f of %8.2f  risk %.3f %s\n",
							out.Category, p.PredictionDate, p.PredictedAmount, p.BudgetRemaining, p.RiskProbability, p.RiskLevel)
					case budgets.StatusNotTrained:
						printf(cmd, "%-20s not trained\n", out.Category)
					default:
						printf(cmd, "%-20s failed: %s\n", out.Category, out.Error)
					}
				}
				if len(res.Predictions()) == 0 {
					return errors.New("could not generate any predictions for this user")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user whose budgets to predict (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().StringVar(&horizonFlag, "horizon", "30d", "7d, 30d, 90d or calendar_month")

	return cmd
}
