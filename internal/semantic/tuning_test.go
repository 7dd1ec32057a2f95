package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecallProfile(t *testing.T) {
	tests := []struct {
		in      string
		want    RecallProfile
		base    int
		wantErr bool
	}{
		{"fast", ProfileFast, 20, false},
		{"", ProfileBalanced, 40, false},
		{"High", ProfileHigh, 100, false},
		{"exhaustive", ProfileExhaustive, 200, false},
		{"turbo", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParseRecallProfile(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p)
			assert.Equal(t, tt.base, p.BaseEf())
		})
	}
}

func TestTuning_Ef(t *testing.T) {
	tests := []struct {
		name   string
		tuning Tuning
		n, k   int
		want   int
	}{
		{"small corpus uses base", DefaultTuning(), 5000, 10, 40},
		{"never below k", DefaultTuning(), 5000, 100, 100},
		{"log growth", DefaultTuning(), 80000, 10, 120},
		{"multiplier floor of one", DefaultTuning(), 15000, 10, 40},
		{"scale factor", Tuning{Profile: ProfileBalanced, ScaleFactor: 0.5, MinEf: 10, MaxEf: 500}, 160000, 10, 80},
		{"clamped to max", Tuning{Profile: ProfileExhaustive, ScaleFactor: 1, MinEf: 10, MaxEf: 500}, 1000000, 10, 500},
		{"clamped to min", Tuning{Profile: ProfileFast, ScaleFactor: 1, MinEf: 50, MaxEf: 500}, 100, 10, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tuning.Ef(tt.n, tt.k))
		})
	}
}

func TestEstimates(t *testing.T) {
	assert.InDelta(t, 0.5, EstimatedRecall(20), 1e-12)
	assert.InDelta(t, 0.9, EstimatedRecall(180), 1e-12)
	assert.Greater(t, EstimatedRecall(200), EstimatedRecall(40))

	assert.InDelta(t, 4.0, EstimatedLatencyMs(40, 10000), 1e-12)
	assert.InDelta(t, 16.0, EstimatedLatencyMs(80, 40000), 1e-12)
	assert.Zero(t, EstimatedLatencyMs(40, 0))
}

func TestRecallProfile_TargetRecall(t *testing.T) {
	assert.Less(t, ProfileFast.TargetRecall(), ProfileBalanced.TargetRecall())
	assert.Less(t, ProfileHigh.TargetRecall(), ProfileExhaustive.TargetRecall())
}
