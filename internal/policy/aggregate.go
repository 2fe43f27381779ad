package policy

import (
	"fmt"
	"math"
	"sort"

	"ArticleReview/internal/domain"
)

// WeightScale is the fixed-point denominator of category weights: a weight of
// 3000 is 0.30. Integer weights keep rounding exact.
const WeightScale = 10000

// Weights maps every category to its fixed-point weight.
type Weights map[domain.Category]int

// DefaultWeights returns the standard editorial weighting.
func DefaultWeights() Weights {
	return Weights{
		domain.CategoryMedicalAccuracy: 3000,
		domain.CategoryLanguageQuality: 2000,
		domain.CategorySEOCompliance:   1500,
		domain.CategoryEthics:          2000,
		domain.CategoryContentQuality:  1500,
	}
}

// WeightsFromFractions converts fractional weights (0.30) to fixed point.
func WeightsFromFractions(fractions map[string]float64) (Weights, error) {
	w := Weights{}
	for name, f := range fractions {
		c := domain.Category(name)
		if !knownCategory(c) {
			return nil, fmt.Errorf("policy: unknown category %q in weights", name)
		}
		if f < 0 || f > 1 || math.IsNaN(f) {
			return nil, fmt.Errorf("policy: weight for %s out of range: %v", name, f)
		}
		w[c] = int(math.Round(f * WeightScale))
	}
	return w, w.validate()
}

func (w Weights) validate() error {
	sum := 0
	for _, c := range domain.Categories {
		v, ok := w[c]
		if !ok {
			return fmt.Errorf("policy: missing weight for %s", c)
		}
		if v < 0 {
			return fmt.Errorf("policy: negative weight for %s", c)
		}
		sum += v
	}
	if sum != WeightScale {
		return fmt.Errorf("policy: weights sum to %d/%d, want 1.0", sum, WeightScale)
	}
	return nil
}

// Ordered returns categories by weight descending, ties kept in declared order.
func (w Weights) Ordered() []domain.Category {
	out := append([]domain.Category(nil), domain.Categories...)
	sort.SliceStable(out, func(i, j int) bool {
		return w[out[i]] > w[out[j]]
	})
	return out
}

// Aggregate computes the weighted score rounded half-up and clamped to [0,100].
func Aggregate(eval domain.EvaluationResult, w Weights) int {
	sum := 0
	for _, c := range domain.Categories {
		sum += eval.Score(c) * w[c]
	}
	return clamp((sum+WeightScale/2)/WeightScale, 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func knownCategory(c domain.Category) bool {
	for _, known := range domain.Categories {
		if known == c {
			return true
		}
	}
	return false
}
