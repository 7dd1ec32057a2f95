package query

import "math"

// Weights is the lexical/semantic fusion weight pair.
type Weights struct {
	Lexical  float64 `json:"lexical"`
	Semantic float64 `json:"semantic"`
}

// Weighting holds the tunable table that maps query shape to fusion
// weights and RRF k. The zero value is not useful; start from
// DefaultWeighting.
type Weighting struct {
	// Adaptive disables the table when false: Static and BaseK are used.
	Adaptive bool
	Static   Weights

	Phrase Weights
	Short  Weights
	Medium Weights
	Long   Weights

	ShortMaxTokens  int
	MediumMaxTokens int

	BaseK            float64
	MinK             int
	MaxK             int
	ShortMultiplier  float64
	LongMultiplier   float64
	PhraseMultiplier float64
}

// DefaultWeighting returns the empirically tuned defaults.
func DefaultWeighting() Weighting {
	return Weighting{
		Adaptive:         true,
		Static:           Weights{Lexical: 0.5, Semantic: 0.5},
		Phrase:           Weights{Lexical: 0.70, Semantic: 0.30},
		Short:            Weights{Lexical: 0.60, Semantic: 0.40},
		Medium:           Weights{Lexical: 0.50, Semantic: 0.50},
		Long:             Weights{Lexical: 0.35, Semantic: 0.65},
		ShortMaxTokens:   2,
		MediumMaxTokens:  5,
		BaseK:            20,
		MinK:             8,
		MaxK:             40,
		ShortMultiplier:  0.7,
		LongMultiplier:   1.3,
		PhraseMultiplier: 0.6,
	}
}

// Select returns the weight pair and RRF k for a query shape. Quoting takes
// precedence over length for both the weights and the k multiplier.
func (w Weighting) Select(tokens int, quoted bool) (Weights, int) {
	if !w.Adaptive {
		return w.Static, w.clampK(w.BaseK)
	}

	switch {
	case quoted:
		return w.Phrase, w.clampK(w.BaseK * w.PhraseMultiplier)
	case tokens == 0:
		return w.Medium, w.clampK(w.BaseK)
	case tokens <= w.ShortMaxTokens:
		return w.Short, w.clampK(w.BaseK * w.ShortMultiplier)
	case tokens <= w.MediumMaxTokens:
		return w.Medium, w.clampK(w.BaseK)
	default:
		return w.Long, w.clampK(w.BaseK * w.LongMultiplier)
	}
}

func (w Weighting) clampK(k float64) int {
	rounded := int(math.Round(k))
	if w.MinK > 0 && rounded < w.MinK {
		return w.MinK
	}
	if w.MaxK > 0 && rounded > w.MaxK {
		return w.MaxK
	}
	return rounded
}
