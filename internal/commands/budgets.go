package commands

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-forecaster/internal/app"
	"github.com/dvloznov/spend-forecaster/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newBudgetsCommand(log zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budgets",
		Short: "Manage category budgets",
	}
	cmd.AddCommand(newBudgetsSetCommand(log), newBudgetsListCommand(log))
	return cmd
}

func newBudgetsSetCommand(log zerolog.Logger) *cobra.Command {
	var userID, category, amount, remaining, start, end string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Create or update the budget of a category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := parseBudget(userID, category, amount, remaining, start, end, civil.DateOf(time.Now()))
			if err != nil {
				return err
			}
			return withApp(cmd, log, func(ctx context.Context, a *app.App) error {
				svc, err := a.RequireBudgets()
				if err != nil {
					return err
				}
				saved, err := svc.SetBudget(ctx, b)
				if err != nil {
					return err
				}
				printf(cmd, "Budget %s: %s %s %s from %s to %s\n",
					saved.ID, saved.UserID, saved.Category, saved.Amount.StringFixed(2), saved.StartDate, saved.EndDate)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "budget owner (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().StringVar(&category, "category", "", "spend category (required)")
	_ = cmd.MarkFlagRequired("category")
	cmd.Flags().StringVar(&amount, "amount", "", "budget amount (required)")
	_ = cmd.MarkFlagRequired("amount")
	cmd.Flags().StringVar(&remaining, "remaining", "", "remaining amount (default: the full amount)")
	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&end, "end", "", "last day, YYYY-MM-DD (default start + 30 days)")

	return cmd
}

// parseBudget converts the flag values of budgets set into a budget.
func parseBudget(userID, category, amount, remaining, start, end string, today civil.Date) (domain.Budget, error) {
	b := domain.Budget{UserID: userID, Category: category}

	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return b, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	b.Amount = amt

	if remaining != "" {
		rem, err := decimal.NewFromString(remaining)
		if err != nil {
			return b, fmt.Errorf("invalid remaining %q: %w", remaining, err)
		}
		b.Remaining = &rem
	}

	b.StartDate = today
	if start != "" {
		if b.StartDate, err = civil.ParseDate(start); err != nil {
			return b, fmt.Errorf("invalid start date %q: %w", start, err)
		}
	}
	b.EndDate = b.StartDate.AddDays(30)
	if end != "" {
		if b.EndDate, err = civil.ParseDate(end); err != nil {
			return b, fmt.Errorf("invalid end date %q: %w", end, err)
		}
	}
	return b, nil
}

func newBudgetsListCommand(log zerolog.Logger) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the budgets of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, log, func(ctx context.Context, a *app.App) error {
				if _, err := a.RequireBudgets(); err != nil {
					return err
				}
				list, err := a.BudgetStore.ListBudgets(ctx, userID)
				if err != nil {
					return err
				}
				for _, b := range list {
					printf(cmd, "%-20s %10s remaining %10s  %s..%s\n",
						b.Category, b.Amount.StringFixed(2), b.RemainingOrAmount().StringFixed(2), b.StartDate, b.EndDate)
				}
				if len(list) == 0 {
					printf(cmd, "no budgets for %s\n", userID)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "budget owner (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
