package forecast

// RiskLevel is the coarse over-spend risk for the next day.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskModerate RiskLevel = "MODERATE"
	RiskHigh     RiskLevel = "HIGH"
)

// ModerateProbability is the classifier probability above which risk is MODERATE.
const ModerateProbability = 0.6

// Classify applies the risk policy. A forecast above the remaining budget is
// HIGH regardless of probability; otherwise a probability strictly above
// ModerateProbability is MODERATE.
func Classify(predicted, budgetRemaining, probability float64) RiskLevel {
	switch {
	case predicted > budgetRemaining:
		return RiskHigh
	case probability > ModerateProbability:
		return RiskModerate
	default:
		return RiskLow
	}
}
