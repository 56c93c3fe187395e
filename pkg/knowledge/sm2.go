package knowledge

import (
	"math"
	"time"

	"github.com/majordome-ai/majordome/pkg/models"
)

// minEasiness is the SM-2 floor for the easiness factor.
const minEasiness = 1.3

// NextReview applies the SuperMemo-2 update to a review state for quality q
// in 0..5 and returns the new state. A failed recall (q < 3) resets the
// schedule to one day; successful recalls grow the interval by the easiness
// factor.
func NextReview(state models.ReviewState, q int, now time.Time) models.ReviewState {
	ef := state.Easiness
	if ef == 0 {
		ef = 2.5
	}

	ef = ef + 0.1 - float64(5-q)*(0.08+float64(5-q)*0.02)
	ef = math.Max(minEasiness, ef)

	next := models.ReviewState{Easiness: ef}
	if q < 3 {
		next.IntervalDays = 1
		next.Repetition = 0
	} else {
		switch state.Repetition {
		case 0:
			next.IntervalDays = 1
		case 1:
			next.IntervalDays = 6
		default:
			next.IntervalDays = int(math.Round(float64(state.IntervalDays) * ef))
		}
		if next.IntervalDays < 1 {
			next.IntervalDays = 1
		}
		next.Repetition = state.Repetition + 1
	}

	next.NextReview = now.Add(time.Duration(next.IntervalDays) * 24 * time.Hour)
	return next
}
