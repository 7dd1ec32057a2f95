package semantic

import (
	"fmt"
	"math"
	"strings"
)

// RecallProfile trades ANN accuracy for latency.
type RecallProfile string

const (
	ProfileFast       RecallProfile = "fast"
	ProfileBalanced   RecallProfile = "balanced"
	ProfileHigh       RecallProfile = "high"
	ProfileExhaustive RecallProfile = "exhaustive"
)

// ParseRecallProfile validates a profile name. The empty string means
// balanced.
func ParseRecallProfile(s string) (RecallProfile, error) {
	switch p := RecallProfile(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProfileBalanced, nil
	case ProfileFast, ProfileBalanced, ProfileHigh, ProfileExhaustive:
		return p, nil
	}
	return "", fmt.Errorf("unknown recall profile %q (use fast, balanced, high or exhaustive)", s)
}

// BaseEf is the ef_search used for a corpus of up to 10,000 vectors.
func (p RecallProfile) BaseEf() int {
	switch p {
	case ProfileFast:
		return 20
	case ProfileHigh:
		return 100
	case ProfileExhaustive:
		return 200
	default:
		return 40
	}
}

// TargetRecall is the nominal recall the profile aims for.
func (p RecallProfile) TargetRecall() float64 {
	switch p {
	case ProfileFast:
		return 0.85
	case ProfileHigh:
		return 0.96
	case ProfileExhaustive:
		return 0.99
	default:
		return 0.92
	}
}

// referenceCorpus is the corpus size the base ef values were tuned on.
const referenceCorpus = 10000

// Tuning computes ef_search from the corpus size.
type Tuning struct {
	Profile     RecallProfile
	ScaleFactor float64
	MinEf       int
	MaxEf       int
}

// DefaultTuning returns the balanced profile clamped to [10, 500].
func DefaultTuning() Tuning {
	return Tuning{Profile: ProfileBalanced, ScaleFactor: 1.0, MinEf: 10, MaxEf: 500}
}

// Ef returns base_ef * max(1, log2(n/10000) * scale), clamped to
// [MinEf, MaxEf] and never below k.
func (t Tuning) Ef(corpusSize, k int) int {
	scale := t.ScaleFactor
	if scale <= 0 {
		scale = 1
	}
	mult := 1.0
	if corpusSize > referenceCorpus {
		mult = math.Max(1, math.Log2(float64(corpusSize)/referenceCorpus)*scale)
	}
	ef := int(math.Round(float64(t.Profile.BaseEf()) * mult))
	if t.MinEf > 0 && ef < t.MinEf {
		ef = t.MinEf
	}
	if t.MaxEf > 0 && ef > t.MaxEf {
		ef = t.MaxEf
	}
	if ef < k {
		ef = k
	}
	return ef
}

// EstimatedRecall is a rough recall figure for an ef value.
func EstimatedRecall(ef int) float64 {
	return 1 - 1/(1+float64(ef)/20)
}

// EstimatedLatencyMs is a rough traversal cost for ef over n vectors.
func EstimatedLatencyMs(ef, n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(ef) / 40 * math.Sqrt(float64(n)/referenceCorpus) * 4
}
