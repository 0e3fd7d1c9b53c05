// Package advisor asks a language model for spending advice grounded in the
// user's recent transactions and latest risk predictions.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-forecaster/internal/domain"
	"github.com/dvloznov/spend-forecaster/internal/forecast"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrNoQuestion is returned when Advise is called with a blank question.
var ErrNoQuestion = errors.New("question is required")

// OverviewDays is the length of the transaction window summarized for the model.
const OverviewDays = 7

// Generator turns a prompt into model text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// PredictionReader returns the latest stored predictions for a user.
type PredictionReader interface {
	Latest(ctx context.Context, userID string) ([]domain.DailyPrediction, error)
}

// Advice is the advisor's answer.
type Advice struct {
	Summary        string `json:"summary"`
	Advice         string `json:"advice"`
	RawModelOutput string `json:"raw_model_output"`
}

// CategoryTotal is the spend of one category over the overview window.
type CategoryTotal struct {
	Category string
	Amount   decimal.Decimal
}

// Overview summarizes a user's recent cash flow.
type Overview struct {
	From, To   civil.Date
	Income     decimal.Decimal
	Expenses   decimal.Decimal
	Highlights []CategoryTotal // by amount, largest first
	Empty      bool
}

// SavingsDelta is income minus expenses.
func (o Overview) SavingsDelta() decimal.Decimal {
	return o.Income.Sub(o.Expenses)
}

// Summarize builds the overview of txns dated within [from, to].
func Summarize(txns []domain.Transaction, from, to civil.Date) Overview {
	o := Overview{From: from, To: to, Empty: true}
	byCategory := map[string]decimal.Decimal{}
	for _, t := range txns {
		if t.Date.Before(from) || t.Date.After(to) {
			continue
		}
		o.Empty = false
		amount := decimal.NewFromFloat(t.Amount).Abs()
		if !t.IsDebit() {
			o.Income = o.Income.Add(amount)
			continue
		}
		o.Expenses = o.Expenses.Add(amount)
		if t.Category != "" {
			byCategory[t.Category] = byCategory[t.Category].Add(amount)
		}
	}
	for c, a := range byCategory {
		o.Highlights = append(o.Highlights, CategoryTotal{Category: c, Amount: a})
	}
	sort.Slice(o.Highlights, func(i, j int) bool {
		a, b := o.Highlights[i], o.Highlights[j]
		if !a.Amount.Equal(b.Amount) {
			return a.Amount.GreaterThan(b.Amount)
		}
		return a.Category < b.Category
	})
	return o
}

// String renders the overview as the text block given to the model.
func (o Overview) String() string {
	if o.Empty {
		return fmt.Sprintf("No transactions found for the last %d days.", OverviewDays)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Total Income: %s\n", o.Income.StringFixed(2))
	fmt.Fprintf(&sb, "Total Expenses: %s\n", o.Expenses.StringFixed(2))
	fmt.Fprintf(&sb, "Savings Delta: %s\n", o.SavingsDelta().StringFixed(2))
	sb.WriteString("Spending Highlights (by category):\n")
	for _, h := range o.Highlights {
		fmt.Fprintf(&sb, "- %s: %s\n", h.Category, h.Amount.StringFixed(2))
	}
	return sb.String()
}

func riskSection(preds []domain.DailyPrediction) string {
	if len(preds) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Next-day spending risk by budget:\n")
	for _, p := range preds {
		fmt.Fprintf(&sb, "- %s on %s (%s horizon): predicted %.2f against %.2f remaining, risk %s (probability %.2f)\n",
			p.Category, p.PredictionDate, p.TimeHorizon, p.PredictedAmount, p.BudgetRemaining, p.RiskLevel, p.RiskProbability)
	}
	return sb.String()
}

// BuildPrompt assembles the coaching prompt around the data block.
func BuildPrompt(overview, risks, question string) string {
	var sb strings.Builder
	sb.WriteString("You are a friendly and encouraging financial coach. Your goal is to provide simple, actionable, and easy-to-understand financial advice. ")
	sb.WriteString("Do not use complex jargon. Always address the user directly using 'you' and 'your'.\n\n")
	sb.WriteString("Based on the user's financial overview and their question, please do the following:\n\n")
	sb.WriteString("1. Rephrase the User's Question: Restate their question to be more specific from your perspective as their advisor. ")
	sb.WriteString("Start this section with 'A better way to frame your question might be:'.\n\n")
	sb.WriteString("2. Provide Financial Insight: Give 3 to 5 concise, friendly, and practical bullet points as advice. ")
	sb.WriteString("Start this section with 'Here are a few friendly suggestions:'.\n\n")
	sb.WriteString("---BEGIN DATA---\n")
	fmt.Fprintf(&sb, "User's financial overview (last %d days):\n%s\n", OverviewDays, overview)
	if risks != "" {
		sb.WriteString(risks)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Original User Question:\n%s\n", question)
	sb.WriteString("---END DATA---")
	return sb.String()
}

type Advisor struct {
	source      forecast.Source
	predictions PredictionReader
	gen         Generator
	log         zerolog.Logger
	now         func() time.Time
}

// New creates an advisor. predictions may be nil.
func New(source forecast.Source, predictions PredictionReader, gen Generator, log zerolog.Logger) *Advisor {
	return &Advisor{source: source, predictions: predictions, gen: gen, log: log, now: time.Now}
}

// Advise answers the user's question.
func (a *Advisor) Advise(ctx context.Context, userID, question string) (*Advice, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("Advise: %w", ErrNoQuestion)
	}
	txns, err := a.source.Load(ctx, forecast.Query{EntityID: userID})
	if err != nil {
		return nil, fmt.Errorf("Advise: loading transactions: %w", err)
	}
	today := civil.DateOf(a.now())
	overview := Summarize(txns, today.AddDays(-(OverviewDays - 1)), today).String()

	var risks string
	if a.predictions != nil {
		preds, err := a.predictions.Latest(ctx, userID)
		if err != nil {
			// Advice without the risk block is still useful.
			a.log.Warn().Err(err).Str("user_id", userID).Msg("Could not load latest predictions for advice")
		}
		risks = riskSection(preds)
	}

	raw, err := a.gen.Generate(ctx, BuildPrompt(overview, risks, question))
	if err != nil {
		return nil, fmt.Errorf("Advise: generating advice: %w", err)
	}
	return &Advice{
		Summary:        overview,
		Advice:         cleanModelText(raw),
		RawModelOutput: raw,
	}, nil
}

// cleanModelText strips Markdown fences the model sometimes wraps output in.
func cleanModelText(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
