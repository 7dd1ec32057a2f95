package embed

import (
	"fmt"
	"math"
	"slices"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// Normalize returns v scaled to unit length. A zero vector is returned
// unchanged.
func Normalize(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = float32(float64(val) / magnitude)
	}
	return out
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// MRL truncates embeddings to dimensions a model was trained for.
type MRL struct {
	full      int
	supported []int
}

// NewMRL validates that every target is a supported truncation of a full
// embedding. Unsupported targets fail with ErrCodeUnsupportedDimension.
func NewMRL(full int, supported []int, targets ...int) (*MRL, error) {
	if full <= 0 {
		return nil, amanerrors.New(amanerrors.ErrCodeUnsupportedDimension,
			fmt.Sprintf("full dimension must be positive, got %d", full), nil)
	}
	if len(supported) == 0 {
		supported = []int{full}
	}
	for _, t := range targets {
		if t == full {
			continue
		}
		if t <= 0 || t > full || !slices.Contains(supported, t) {
			return nil, amanerrors.New(amanerrors.ErrCodeUnsupportedDimension,
				fmt.Sprintf("dimension %d is not a trained truncation of %d (supported %v)", t, full, supported), nil).
				WithSuggestion("pick a dimension from embeddings.mrl_dimensions")
		}
	}
	return &MRL{full: full, supported: slices.Clone(supported)}, nil
}

// Full returns the untruncated size.
func (m *MRL) Full() int { return m.full }

// Truncate keeps the first dim components of v and renormalizes.
func (m *MRL) Truncate(v []float32, dim int) ([]float32, error) {
	if len(v) != m.full {
		return nil, amanerrors.New(amanerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected %d-dim embedding, got %d", m.full, len(v)), nil)
	}
	if dim == m.full {
		return Normalize(v), nil
	}
	if !slices.Contains(m.supported, dim) || dim > m.full || dim <= 0 {
		return nil, amanerrors.New(amanerrors.ErrCodeUnsupportedDimension,
			fmt.Sprintf("dimension %d is not a trained truncation", dim), nil)
	}
	return Normalize(v[:dim]), nil
}
