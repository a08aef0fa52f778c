package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mmarchjr/MLtune/internal/domain/model"
)

// Dashboard keys under TunerKeyPrefix. The trigger keys are one-shot:
// the source resets them to "false" after acting so a stale retained
// value cannot re-fire the command.
const (
	KeyTunerEnabled  = TunerKeyPrefix + "TunerEnabled"
	KeyShotThreshold = TunerKeyPrefix + "ShotThreshold"
	KeyRunOptimize   = TunerKeyPrefix + "RunOptimization"
	KeySkip          = TunerKeyPrefix + "SkipToNextCoefficient"
	KeyPause         = TunerKeyPrefix + "Pause"
	KeyResume        = TunerKeyPrefix + "Resume"
	KeyStop          = TunerKeyPrefix + "Stop"
	backtrackPrefix  = TunerKeyPrefix + "Backtrack/"
)

// CommandSink receives parsed operator commands. The coordinator's
// single-slot queue implements it.
type CommandSink interface {
	Enqueue(cmd model.Command)
}

// CommandSource turns dashboard topic updates into operator commands.
type CommandSource struct {
	client mqtt.Client
	sink   CommandSink
	logger *slog.Logger
}

func NewCommandSource(client mqtt.Client, sink CommandSink, logger *slog.Logger) *CommandSource {
	return &CommandSource{
		client: client,
		sink:   sink,
		logger: logger.With("component", "command_source"),
	}
}

// Start subscribes to the dashboard tree. Commands arrive on the paho
// callback goroutine and are handed to the sink immediately.
func (s *CommandSource) Start(ctx context.Context) error {
	token := s.client.Subscribe(TunerKeyPrefix+"#", 1, s.handle)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return &LinkError{Op: "subscribe", Key: TunerKeyPrefix + "#", Err: err}
	}
	return nil
}

func (s *CommandSource) handle(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	payload := strings.TrimSpace(string(msg.Payload()))

	cmd, oneShot, err := s.parse(topic, payload)
	if err != nil {
		s.logger.Warn("ignoring malformed command", "topic", topic, "payload", payload, "error", err)
		return
	}
	if cmd == nil {
		return
	}

	s.logger.Info("operator command", "type", cmd.Type, "topic", topic)
	s.sink.Enqueue(*cmd)
	if oneShot {
		s.reset(topic)
	}
}

// parse maps a topic update to a command. A nil command with nil error
// means the update carried no action (trigger already reset, or a status
// key the tuner itself published).
func (s *CommandSource) parse(topic, payload string) (*model.Command, bool, error) {
	if name, ok := strings.CutPrefix(topic, backtrackPrefix); ok {
		fired, err := parseBool(payload)
		if err != nil || !fired {
			return nil, false, err
		}
		return &model.Command{Type: model.CommandBacktrack, Coefficient: name}, true, nil
	}

	switch topic {
	case KeyTunerEnabled:
		enabled, err := parseBool(payload)
		if err != nil {
			return nil, false, err
		}
		return &model.Command{Type: model.CommandSetEnabled, Enabled: enabled}, false, nil
	case KeyShotThreshold:
		n, err := strconv.Atoi(payload)
		if err != nil {
			return nil, false, fmt.Errorf("shot threshold: %w", err)
		}
		if n < 1 {
			return nil, false, fmt.Errorf("shot threshold must be positive, got %d", n)
		}
		return &model.Command{Type: model.CommandSetThreshold, Threshold: n}, false, nil
	case KeyRunOptimize:
		return triggerCommand(model.CommandOptimizeNow, payload)
	case KeySkip:
		return triggerCommand(model.CommandSkip, payload)
	case KeyPause:
		return triggerCommand(model.CommandPause, payload)
	case KeyResume:
		return triggerCommand(model.CommandResume, payload)
	case KeyStop:
		return triggerCommand(model.CommandStop, payload)
	}
	return nil, false, nil
}

func triggerCommand(t model.CommandType, payload string) (*model.Command, bool, error) {
	fired, err := parseBool(payload)
	if err != nil || !fired {
		return nil, false, err
	}
	return &model.Command{Type: t}, true, nil
}

func (s *CommandSource) reset(topic string) {
	token := s.client.Publish(topic, 1, true, "false")
	token.Wait()
	if err := token.Error(); err != nil {
		s.logger.Warn("failed to reset trigger", "topic", topic, "error", err)
	}
}

func parseBool(payload string) (bool, error) {
	switch strings.ToLower(payload) {
	case "true", "1":
		return true, nil
	case "false", "0", "":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", payload)
}
