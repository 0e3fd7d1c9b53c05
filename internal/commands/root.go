// Package commands implements the forecaster CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/dvloznov/spend-forecaster/internal/app"
	"github.com/dvloznov/spend-forecaster/internal/config"
	"github.com/dvloznov/spend-forecaster/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand(log zerolog.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "forecaster",
		Short: "Next-day spend forecasts and budget risk",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newTrainCommand(log),
		newTrainAllCommand(log),
		newPredictCommand(log),
		newPredictBudgetsCommand(log),
		newBudgetsCommand(log),
	)

	return rootCmd
}

// withApp builds the components from the environment, runs fn and releases
// them again.
func withApp(cmd *cobra.Command, log zerolog.Logger, fn func(ctx context.Context, a *app.App) error) error {
	ctx := logger.WithContext(cmd.Context(), log)
	a, err := app.New(ctx, config.Load(), log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to release resources")
		}
	}()
	return fn(ctx, a)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
