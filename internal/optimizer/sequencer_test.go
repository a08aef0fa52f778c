package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmarchjr/MLtune/internal/domain/model"
)

func testSpecs() []model.CoefficientSpec {
	return []model.CoefficientSpec{
		{Name: "dragCoefficient", Min: 0, Max: 1, Initial: 0.5, TelemetryKey: "Tuning/Coefficients/dragCoefficient"},
		{Name: "exitVelocityScale", Min: 0.8, Max: 1.2, Initial: 1.0, TelemetryKey: "Tuning/Coefficients/exitVelocityScale"},
		{Name: "pitchOffset", Min: -0.1, Max: 0.1, Initial: 0, TelemetryKey: "Tuning/Coefficients/pitchOffset"},
	}
}

func newTestSequencer(t *testing.T) *Sequencer {
	t.Helper()
	scorer := mustScorer(t)
	return NewSequencer(testSpecs(), func(spec model.CoefficientSpec) *CoefficientOptimizer {
		return NewCoefficientOptimizer(spec, &stubStrategy{value: spec.Initial}, scorer, 1, Params{})
	})
}

func TestSequencer_WalksInDeclarationOrder(t *testing.T) {
	s := newTestSequencer(t)
	assert.Equal(t, []string{"dragCoefficient", "exitVelocityScale", "pitchOffset"}, s.Names())

	require.NotNil(t, s.Current())
	assert.Equal(t, "dragCoefficient", s.Current().Spec().Name)

	require.True(t, s.Advance())
	assert.Equal(t, "exitVelocityScale", s.Current().Spec().Name)

	require.True(t, s.Advance())
	assert.Equal(t, "pitchOffset", s.Current().Spec().Name)

	assert.False(t, s.Advance())
	assert.True(t, s.Complete())
	assert.Nil(t, s.Current())
}

func TestSequencer_Position(t *testing.T) {
	s := newTestSequencer(t)
	i, n := s.Position()
	assert.Equal(t, 0, i)
	assert.Equal(t, 3, n)

	s.Advance()
	i, _ = s.Position()
	assert.Equal(t, 1, i)
}

func TestSequencer_BacktrackRestartsOptimizer(t *testing.T) {
	s := newTestSequencer(t)

	s.Current().Observe(0.4, shots(true, false))
	require.True(t, s.Advance())

	require.NoError(t, s.Backtrack("dragCoefficient"))
	assert.Equal(t, "dragCoefficient", s.Current().Spec().Name)
	assert.Empty(t, s.Current().Observations(), "backtrack discards prior history")
}

func TestSequencer_BacktrackCurrentByEmptyName(t *testing.T) {
	s := newTestSequencer(t)
	s.Current().Observe(0.4, shots(true))

	require.NoError(t, s.Backtrack(""))
	assert.Equal(t, "dragCoefficient", s.Current().Spec().Name)
	assert.Empty(t, s.Current().Observations())
}

func TestSequencer_BacktrackReopensCompletedSequence(t *testing.T) {
	s := newTestSequencer(t)
	for s.Advance() {
	}
	require.True(t, s.Complete())

	require.NoError(t, s.Backtrack("exitVelocityScale"))
	assert.False(t, s.Complete())
	require.NotNil(t, s.Current())
	assert.Equal(t, "exitVelocityScale", s.Current().Spec().Name)
}

func TestSequencer_BacktrackUnknownName(t *testing.T) {
	s := newTestSequencer(t)
	assert.Error(t, s.Backtrack("flywheelInertia"))
}

func TestSequencer_ByName(t *testing.T) {
	s := newTestSequencer(t)
	o, ok := s.ByName("pitchOffset")
	require.True(t, ok)
	assert.Equal(t, "pitchOffset", o.Spec().Name)

	_, ok = s.ByName("flywheelInertia")
	assert.False(t, ok)
}
