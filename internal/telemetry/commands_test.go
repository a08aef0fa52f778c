package telemetry

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmarchjr/MLtune/internal/domain/model"
)

func newTestSource(t *testing.T) *CommandSource {
	t.Helper()
	return NewCommandSource(nil, nil, slog.Default())
}

func TestCommandSource_Parse(t *testing.T) {
	s := newTestSource(t)

	tests := []struct {
		name    string
		topic   string
		payload string
		want    *model.Command
		oneShot bool
	}{
		{
			name:    "enable toggle",
			topic:   KeyTunerEnabled,
			payload: "true",
			want:    &model.Command{Type: model.CommandSetEnabled, Enabled: true},
		},
		{
			name:    "disable toggle",
			topic:   KeyTunerEnabled,
			payload: "false",
			want:    &model.Command{Type: model.CommandSetEnabled, Enabled: false},
		},
		{
			name:    "threshold update",
			topic:   KeyShotThreshold,
			payload: "15",
			want:    &model.Command{Type: model.CommandSetThreshold, Threshold: 15},
		},
		{
			name:    "run optimization trigger",
			topic:   KeyRunOptimize,
			payload: "true",
			want:    &model.Command{Type: model.CommandOptimizeNow},
			oneShot: true,
		},
		{
			name:    "skip trigger",
			topic:   KeySkip,
			payload: "1",
			want:    &model.Command{Type: model.CommandSkip},
			oneShot: true,
		},
		{
			name:    "pause trigger",
			topic:   KeyPause,
			payload: "true",
			want:    &model.Command{Type: model.CommandPause},
			oneShot: true,
		},
		{
			name:    "backtrack names the coefficient",
			topic:   backtrackPrefix + "dragCoefficient",
			payload: "true",
			want:    &model.Command{Type: model.CommandBacktrack, Coefficient: "dragCoefficient"},
			oneShot: true,
		},
		{
			name:    "reset trigger is not a command",
			topic:   KeyRunOptimize,
			payload: "false",
			want:    nil,
		},
		{
			name:    "status key is not a command",
			topic:   TunerKeyPrefix + "Mode",
			payload: "TUNING",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, oneShot, err := s.parse(tt.topic, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd)
			assert.Equal(t, tt.oneShot, oneShot)
		})
	}
}

func TestCommandSource_ParseRejectsMalformed(t *testing.T) {
	s := newTestSource(t)

	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"non boolean toggle", KeyTunerEnabled, "maybe"},
		{"non numeric threshold", KeyShotThreshold, "lots"},
		{"zero threshold", KeyShotThreshold, "0"},
		{"negative threshold", KeyShotThreshold, "-3"},
		{"garbage trigger", KeyRunOptimize, "go"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, _, err := s.parse(tt.topic, tt.payload)
			assert.Error(t, err)
			assert.Nil(t, cmd)
		})
	}
}
