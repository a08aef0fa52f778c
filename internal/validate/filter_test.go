package validate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmarchjr/MLtune/internal/config"
	"github.com/mmarchjr/MLtune/internal/domain/model"
)

func testFilterConfig() config.FilterConfig {
	return config.FilterConfig{
		MinDistanceM:   0.5,
		MaxDistanceM:   16.0,
		MinPitchRad:    0.0,
		MaxPitchRad:    1.4,
		MinVelocityMPS: 1.0,
		MaxVelocityMPS: 30.0,
	}
}

func goodSample(ts float64) *model.ShotSample {
	return &model.ShotSample{
		Timestamp:    ts,
		Hit:          true,
		Distance:     3.5,
		Pitch:        0.6,
		ExitVelocity: 12.0,
		Yaw:          0.1,
		Coefficients: map[string]float64{"dragCoefficient": 0.45},
	}
}

func TestFilter_AcceptsPlausibleSample(t *testing.T) {
	f := NewFilter(testFilterConfig())
	assert.Nil(t, f.Check(goodSample(100)))
}

func TestFilter_RejectsDuplicateTimestamp(t *testing.T) {
	f := NewFilter(testFilterConfig())
	require.Nil(t, f.Check(goodSample(100)))

	rej := f.Check(goodSample(100))
	require.NotNil(t, rej)
	assert.Equal(t, ReasonDuplicateTimestamp, rej.Reason)

	// A different timestamp is still fine.
	assert.Nil(t, f.Check(goodSample(101)))
}

func TestFilter_RejectedTimestampStaysBurned(t *testing.T) {
	f := NewFilter(testFilterConfig())

	bad := goodSample(200)
	bad.Distance = 99.0
	rej := f.Check(bad)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonOutOfRange, rej.Reason)

	// Replaying the same timestamp with fixed values must not succeed.
	rej = f.Check(goodSample(200))
	require.NotNil(t, rej)
	assert.Equal(t, ReasonDuplicateTimestamp, rej.Reason)
}

func TestFilter_RejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.ShotSample)
	}{
		{"distance too small", func(s *model.ShotSample) { s.Distance = 0.1 }},
		{"distance too large", func(s *model.ShotSample) { s.Distance = 20.0 }},
		{"pitch negative", func(s *model.ShotSample) { s.Pitch = -0.2 }},
		{"pitch beyond vertical range", func(s *model.ShotSample) { s.Pitch = 1.6 }},
		{"velocity too low", func(s *model.ShotSample) { s.ExitVelocity = 0.2 }},
		{"velocity too high", func(s *model.ShotSample) { s.ExitVelocity = 45.0 }},
	}

	ts := 1000.0
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(testFilterConfig())
			s := goodSample(ts)
			ts++
			tt.mutate(s)

			rej := f.Check(s)
			require.NotNil(t, rej)
			assert.Equal(t, ReasonOutOfRange, rej.Reason)
		})
	}
}

func TestFilter_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.ShotSample)
	}{
		{"zero timestamp", func(s *model.ShotSample) { s.Timestamp = 0 }},
		{"negative timestamp", func(s *model.ShotSample) { s.Timestamp = -5 }},
		{"nan distance", func(s *model.ShotSample) { s.Distance = math.NaN() }},
		{"inf velocity", func(s *model.ShotSample) { s.ExitVelocity = math.Inf(1) }},
		{"nan coefficient", func(s *model.ShotSample) { s.Coefficients["dragCoefficient"] = math.NaN() }},
	}

	ts := 2000.0
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(testFilterConfig())
			s := goodSample(ts)
			ts++
			tt.mutate(s)

			rej := f.Check(s)
			require.NotNil(t, rej)
			assert.Equal(t, ReasonMalformed, rej.Reason)
		})
	}
}

func TestFilter_Reset(t *testing.T) {
	f := NewFilter(testFilterConfig())
	require.Nil(t, f.Check(goodSample(100)))
	require.NotNil(t, f.Check(goodSample(100)))

	f.Reset()
	assert.Nil(t, f.Check(goodSample(100)))
}
