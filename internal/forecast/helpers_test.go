package forecast

import (
	"math/rand"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-forecaster/internal/domain"
)

var testStart = civil.Date{Year: 2024, Month: 1, Day: 1}

// spendHistory generates a weekly-seasonal spend pattern with noise for each
// entity and category, one transaction per active day.
func spendHistory(entities, categories []string, days int, seed int64) []domain.Transaction {
	rng := rand.New(rand.NewSource(seed))
	var txns []domain.Transaction
	for ei, e := range entities {
		for ci, c := range categories {
			for d := 0; d < days; d++ {
				date := testStart.AddDays(d)
				if rng.Float64() < 0.15 {
					continue
				}
				base := 20 + 5*float64(ei) + 3*float64(ci)
				if DayIndex(date) >= 5 {
					base *= 2
				}
				txns = append(txns, domain.Transaction{
					EntityID: e,
					Date:     date,
					Amount:   base + rng.Float64()*10,
					Category: c,
				})
			}
		}
	}
	return txns
}

func testTrainConfig() TrainConfig {
	cfg := DefaultTrainConfig()
	cfg.LookBack = 7
	cfg.Hidden = 6
	cfg.Epochs = 2
	cfg.Grid = Grid{
		NEstimators:  []int{5, 10},
		MaxDepth:     []int{2, 3},
		LearningRate: []float64{0.3, 0.1},
	}
	cfg.Fallback.NEstimators = 10
	cfg.Fallback.MaxDepth = 3
	return cfg
}
