package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/spend-forecaster/internal/domain"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

const predictionsTable = "daily_predictions"

// PredictionRepository stores daily predictions in finance.daily_predictions.
type PredictionRepository struct {
	client  *bigquery.Client
	dataset string
}

// NewPredictionRepository creates a repository with its own client.
func NewPredictionRepository(ctx context.Context, projectID, dataset string) (*PredictionRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewPredictionRepository: creating client: %w", err)
	}
	return NewPredictionRepositoryWithClient(client, dataset), nil
}

// NewPredictionRepositoryWithClient creates a repository over a shared client.
func NewPredictionRepositoryWithClient(client *bigquery.Client, dataset string) *PredictionRepository {
	return &PredictionRepository{client: client, dataset: dataset}
}

// Close closes the BigQuery client connection.
func (r *PredictionRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// EnsureTable creates the predictions table, partitioned by prediction date,
// when it does not exist yet.
func (r *PredictionRepository) EnsureTable(ctx context.Context) error {
	schema, err := bigquery.InferSchema(PredictionRow{})
	if err != nil {
		return fmt.Errorf("EnsureTable: inferring schema: %w", err)
	}
	meta := &bigquery.TableMetadata{
		Schema:           schema,
		TimePartitioning: &bigquery.TimePartitioning{Field: "prediction_date"},
	}
	err = r.client.Dataset(r.dataset).Table(predictionsTable).Create(ctx, meta)
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
		return nil
	}
	if err != nil {
		return fmt.Errorf("EnsureTable: creating %s.%s: %w", r.dataset, predictionsTable, err)
	}
	return nil
}

// replaceScript deletes the row for the same user, category, date and horizon
// and inserts the new one in a single transaction.
func replaceScript(dataset string) string {
	table := dataset + "." + predictionsTable
	return fmt.Sprintf(`
		BEGIN TRANSACTION;

		DELETE FROM %s
		WHERE user_id = @user_id
		  AND category = @category
		  AND prediction_date = @prediction_date
		  AND time_horizon = @time_horizon;

		INSERT INTO %s (
			id, user_id, prediction_date, category,
			day_of_week, day_of_week_id, rolling_7_day_avg,
			budget_remaining, predicted_amount, risk_probability,
			risk_level, time_horizon, created_at
		)
		VALUES (
			@id, @user_id, @prediction_date, @category,
			@day_of_week, @day_of_week_id, @rolling_7_day_avg,
			@budget_remaining, @predicted_amount, @risk_probability,
			@risk_level, @time_horizon, @created_at
		);

		COMMIT TRANSACTION;
	`, table, table)
}

func replaceParams(row *PredictionRow) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "id", Value: row.ID},
		{Name: "user_id", Value: row.UserID},
		{Name: "prediction_date", Value: row.PredictionDate},
		{Name: "category", Value: row.Category},
		{Name: "day_of_week", Value: row.DayOfWeek},
		{Name: "day_of_week_id", Value: row.DayOfWeekID},
		{Name: "rolling_7_day_avg", Value: row.Rolling7DayAvg},
		{Name: "budget_remaining", Value: row.BudgetRemaining},
		{Name: "predicted_amount", Value: row.PredictedAmount},
		{Name: "risk_probability", Value: row.RiskProbability},
		{Name: "risk_level", Value: row.RiskLevel},
		{Name: "time_horizon", Value: row.TimeHorizon},
		{Name: "created_at", Value: row.CreatedAt},
	}
}

// Replace stores p, replacing any row with the same user, category,
// prediction date and time horizon. Uses DML to avoid streaming buffer issues.
func (r *PredictionRepository) Replace(ctx context.Context, p domain.DailyPrediction) error {
	q := r.client.Query(replaceScript(r.dataset))
	q.Parameters = replaceParams(newPredictionRow(p))

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("ReplacePrediction: running script: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("ReplacePrediction: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("ReplacePrediction: job error: %w", err)
	}
	return nil
}

func latestQuery(dataset string) string {
	return fmt.Sprintf(`
		SELECT *
		FROM %s.%s
		WHERE user_id = @user_id
		QUALIFY RANK() OVER (PARTITION BY category ORDER BY prediction_date DESC) = 1
		ORDER BY category, time_horizon
	`, dataset, predictionsTable)
}

// LatestForUser returns, for every category, the rows with the most recent
// prediction date.
func (r *PredictionRepository) LatestForUser(ctx context.Context, userID string) ([]domain.DailyPrediction, error) {
	q := r.client.Query(latestQuery(r.dataset))
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("LatestForUser: query read: %w", err)
	}

	var out []domain.DailyPrediction
	for {
		var row PredictionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("LatestForUser: iter next: %w", err)
		}
		out = append(out, row.toDomain())
	}
	return out, nil
}
