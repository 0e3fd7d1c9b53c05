// Package storage keeps budgets and stored predictions in SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-forecaster/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// UpsertBudget creates the user's budget for the category or updates the
// existing one, and returns the stored row.
func (r *SQLiteRepository) UpsertBudget(ctx context.Context, b domain.Budget) (domain.Budget, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	var remaining decimal.NullDecimal
	if b.Remaining != nil {
		remaining = decimal.NewNullDecimal(*b.Remaining)
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO budgets (id, user_id, category, amount, remaining, start_date, end_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, category) DO UPDATE SET
			amount = excluded.amount,
			remaining = excluded.remaining,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			updated_at = excluded.updated_at
		RETURNING id`,
		b.ID, b.UserID, b.Category, b.Amount.String(), remaining,
		b.StartDate.String(), b.EndDate.String(), b.UpdatedAt.Format(timeLayout),
	).Scan(&b.ID)
	if err != nil {
		return domain.Budget{}, fmt.Errorf("upsert budget: %w", err)
	}
	return b, nil
}

// ListBudgets returns the user's budgets ordered by category.
func (r *SQLiteRepository) ListBudgets(ctx context.Context, userID string) ([]domain.Budget, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, category, amount, remaining, start_date, end_date, updated_at
		FROM budgets
		WHERE user_id = ?
		ORDER BY category`, userID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []domain.Budget
	for rows.Next() {
		var (
			b                  domain.Budget
			remaining          decimal.NullDecimal
			start, end, update string
		)
		if err := rows.Scan(&b.ID, &b.UserID, &b.Category, &b.Amount, &remaining, &start, &end, &update); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		if remaining.Valid {
			b.Remaining = &remaining.Decimal
		}
		if b.StartDate, err = civil.ParseDate(start); err != nil {
			return nil, fmt.Errorf("budget %s start date: %w", b.ID, err)
		}
		if b.EndDate, err = civil.ParseDate(end); err != nil {
			return nil, fmt.Errorf("budget %s end date: %w", b.ID, err)
		}
		if b.UpdatedAt, err = time.Parse(timeLayout, update); err != nil {
			return nil, fmt.Errorf("budget %s updated_at: %w", b.ID, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Replace stores p, replacing any row for the same user, category,
// prediction date and time horizon.
func (r *SQLiteRepository) Replace(ctx context.Context, p domain.DailyPrediction) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM daily_predictions
		WHERE user_id = ? AND category = ? AND prediction_date = ? AND time_horizon = ?`,
		p.UserID, p.Category, p.PredictionDate.String(), p.TimeHorizon); err != nil {
		return fmt.Errorf("delete prediction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO daily_predictions (
			id, user_id, prediction_date, category, day_of_week, day_of_week_id,
			rolling_7_day_avg, budget_remaining, predicted_amount, risk_probability,
			risk_level, time_horizon, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.PredictionDate.String(), p.Category, p.DayOfWeek, p.DayOfWeekID,
		p.Rolling7DayAvg, p.BudgetRemaining, p.PredictedAmount, p.RiskProbability,
		p.RiskLevel, p.TimeHorizon, p.CreatedAt.Format(timeLayout)); err != nil {
		return fmt.Errorf("insert prediction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit prediction: %w", err)
	}
	return nil
}

// LatestForUser returns, for every category, the rows with the most recent
// prediction date.
func (r *SQLiteRepository) LatestForUser(ctx context.Context, userID string) ([]domain.DailyPrediction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.user_id, p.prediction_date, p.category, p.day_of_week, p.day_of_week_id,
		       p.rolling_7_day_avg, p.budget_remaining, p.predicted_amount, p.risk_probability,
		       p.risk_level, p.time_horizon, p.created_at
		FROM daily_predictions p
		JOIN (
			SELECT category, MAX(prediction_date) AS max_date
			FROM daily_predictions
			WHERE user_id = ?
			GROUP BY category
		) latest ON latest.category = p.category AND latest.max_date = p.prediction_date
		WHERE p.user_id = ?
		ORDER BY p.category, p.time_horizon`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("latest predictions: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyPrediction
	for rows.Next() {
		var (
			p             domain.DailyPrediction
			date, created string
		)
		if err := rows.Scan(&p.ID, &p.UserID, &date, &p.Category, &p.DayOfWeek, &p.DayOfWeekID,
			&p.Rolling7DayAvg, &p.BudgetRemaining, &p.PredictedAmount, &p.RiskProbability,
			&p.RiskLevel, &p.TimeHorizon, &created); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		if p.PredictionDate, err = civil.ParseDate(date); err != nil {
			return nil, fmt.Errorf("prediction %s date: %w", p.ID, err)
		}
		if p.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("prediction %s created_at: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
