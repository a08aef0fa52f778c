package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmarchjr/MLtune/internal/domain/model"
)

func TestMemoryLink_ShotQueue(t *testing.T) {
	link := NewMemoryLink()
	require.NoError(t, link.Connect(context.Background()))

	sample, err := link.ReadShot()
	require.NoError(t, err)
	assert.Nil(t, sample, "empty feed should yield no sample")

	link.PushShot(model.ShotSample{Timestamp: 100, Hit: true, Distance: 3.2})
	link.PushShot(model.ShotSample{Timestamp: 101, Hit: false, Distance: 3.3})

	first, err := link.ReadShot()
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 100.0, first.Timestamp)
	assert.True(t, first.Hit)

	second, err := link.ReadShot()
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, 101.0, second.Timestamp)

	third, err := link.ReadShot()
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestMemoryLink_NotConnected(t *testing.T) {
	link := NewMemoryLink()

	_, err := link.ReadShot()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConnected))

	var linkErr *LinkError
	require.True(t, errors.As(err, &linkErr))
	assert.Equal(t, "read", linkErr.Op)
}

func TestMemoryLink_ConnectError(t *testing.T) {
	link := NewMemoryLink()
	link.SetConnectError(errors.New("broker unreachable"))

	err := link.Connect(context.Background())
	require.Error(t, err)

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "memory", connErr.Addr)
}

func TestMemoryLink_InjectedFailures(t *testing.T) {
	link := NewMemoryLink()
	require.NoError(t, link.Connect(context.Background()))
	link.PushShot(model.ShotSample{Timestamp: 1})

	link.FailReads(true)
	_, err := link.ReadShot()
	assert.Error(t, err)
	_, err = link.ReadSafetyFlag()
	assert.Error(t, err)

	link.FailReads(false)
	sample, err := link.ReadShot()
	require.NoError(t, err)
	assert.NotNil(t, sample, "queue survives a failed read")

	link.FailWrites(true)
	assert.Error(t, link.WriteCoefficient(CoefficientKeyPrefix+"drag", 1.5))
	link.FailWrites(false)
	require.NoError(t, link.WriteCoefficient(CoefficientKeyPrefix+"drag", 1.5))

	writes := link.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, CoefficientKeyPrefix+"drag", writes[0].Key)
	assert.Equal(t, 1.5, writes[0].Value)
}

func TestMemoryLink_SafetyFlag(t *testing.T) {
	link := NewMemoryLink()
	require.NoError(t, link.Connect(context.Background()))

	on, err := link.ReadSafetyFlag()
	require.NoError(t, err)
	assert.False(t, on)

	link.SetSafetyFlag(true)
	on, err = link.ReadSafetyFlag()
	require.NoError(t, err)
	assert.True(t, on)
}

func TestMemoryLink_Status(t *testing.T) {
	link := NewMemoryLink()
	require.NoError(t, link.Connect(context.Background()))

	require.NoError(t, link.PublishStatus(TunerKeyPrefix+"Mode", "TUNING"))
	v, ok := link.Status(TunerKeyPrefix + "Mode")
	require.True(t, ok)
	assert.Equal(t, "TUNING", v)
}
