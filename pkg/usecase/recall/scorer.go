package recall

import (
	"math"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
)

// Scorer blends raw similarity with exponential recency decay:
//
//	decay   = max(floor, 0.5^(age_days / half_life_days))
//	blended = alpha*raw + (1-alpha)*raw*decay
//
// alpha = 1 disables recency entirely.
type Scorer struct {
	halfLifeDays float64
	alpha        float64
	floor        float64
}

func NewScorer(halfLifeDays, alpha, floor float64) (*Scorer, error) {
	if halfLifeDays <= 0 || math.IsNaN(halfLifeDays) {
		return nil, goerr.New("half-life must be positive",
			goerr.V("half_life_days", halfLifeDays),
			goerr.T(model.ErrTagConfig))
	}
	if alpha < 0 || alpha > 1 || math.IsNaN(alpha) {
		return nil, goerr.New("alpha must be within [0, 1]",
			goerr.V("alpha", alpha),
			goerr.T(model.ErrTagConfig))
	}
	if floor < 0 || floor > 1 || math.IsNaN(floor) {
		return nil, goerr.New("decay floor must be within [0, 1]",
			goerr.V("floor", floor),
			goerr.T(model.ErrTagConfig))
	}

	return &Scorer{halfLifeDays: halfLifeDays, alpha: alpha, floor: floor}, nil
}

// Decay returns the recency factor in [floor, 1]. A zero createdAt yields 1 and a
// createdAt after now counts as age zero.
func (s *Scorer) Decay(createdAt, now time.Time) float64 {
	if createdAt.IsZero() {
		return 1.0
	}

	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays <= 0 {
		return 1.0
	}

	return math.Max(s.floor, math.Pow(0.5, ageDays/s.halfLifeDays))
}

// Score returns the blended relevance of a memory
func (s *Scorer) Score(raw float64, createdAt, now time.Time) float64 {
	return s.alpha*raw + (1-s.alpha)*raw*s.Decay(createdAt, now)
}

func (s *Scorer) HalfLifeDays() float64 { return s.halfLifeDays }
func (s *Scorer) Alpha() float64        { return s.alpha }
func (s *Scorer) Floor() float64        { return s.floor }
