package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"

	"github.com/mmarchjr/MLtune/internal/config"
	"github.com/mmarchjr/MLtune/internal/domain/model"
)

// MQTTLink implements Link over an MQTT broker. Retained topics act as the
// key-value store: the robot bridge publishes every FiringSolver value
// retained, so the subscriber cache below always holds the latest state and
// a reconnecting client recovers it without a handshake.
type MQTTLink struct {
	cfg     config.TelemetryConfig
	logger  *slog.Logger
	client  mqtt.Client
	limiter *rate.Limiter

	mu        sync.RWMutex
	values    map[string]string
	connected bool
	// lastTimestamp is the newest shot timestamp already returned by
	// ReadShot; an unchanged timestamp means no new shot.
	lastTimestamp float64
}

func NewMQTTLink(cfg config.TelemetryConfig, logger *slog.Logger) *MQTTLink {
	return &MQTTLink{
		cfg:     cfg,
		logger:  logger.With("component", "telemetry"),
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxWriteRateHz), 1),
		values:  make(map[string]string),
	}
}

func (l *MQTTLink) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(l.cfg.BrokerURL).
		SetClientID(l.cfg.ClientID).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(mqtt.Client) {
			l.mu.Lock()
			l.connected = true
			l.mu.Unlock()
			l.logger.Info("telemetry link connected", "broker", l.cfg.BrokerURL)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			l.mu.Lock()
			l.connected = false
			l.mu.Unlock()
			l.logger.Warn("telemetry link lost", "error", err)
		})

	l.client = mqtt.NewClient(opts)

	token := l.client.Connect()
	if !token.WaitTimeout(l.cfg.ConnectTimeout) {
		return &ConnectionError{Addr: l.cfg.BrokerURL, Err: context.DeadlineExceeded}
	}
	if err := token.Error(); err != nil {
		return &ConnectionError{Addr: l.cfg.BrokerURL, Err: err}
	}

	sub := l.client.Subscribe("FiringSolver/#", 0, l.onMessage)
	sub.Wait()
	if err := sub.Error(); err != nil {
		return &ConnectionError{Addr: l.cfg.BrokerURL, Err: err}
	}
	fms := l.client.Subscribe("FMSInfo/#", 0, l.onMessage)
	fms.Wait()
	if err := fms.Error(); err != nil {
		return &ConnectionError{Addr: l.cfg.BrokerURL, Err: err}
	}

	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()
	return nil
}

func (l *MQTTLink) onMessage(_ mqtt.Client, msg mqtt.Message) {
	l.mu.Lock()
	l.values[msg.Topic()] = string(msg.Payload())
	l.mu.Unlock()
}

func (l *MQTTLink) ReadShot() (*model.ShotSample, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected {
		return nil, &LinkError{Op: "read", Err: ErrNotConnected}
	}

	ts, ok := l.floatValueLocked(KeyShotTimestamp)
	if !ok || ts <= l.lastTimestamp {
		return nil, nil
	}

	sample := &model.ShotSample{
		Timestamp:    ts,
		Hit:          l.boolValueLocked(KeyShotHit),
		Coefficients: make(map[string]float64),
	}
	sample.Distance, _ = l.floatValueLocked(KeyShotDistance)
	sample.Pitch, _ = l.floatValueLocked(KeyPitchRadians)
	sample.ExitVelocity, _ = l.floatValueLocked(KeyExitVelocity)
	sample.Yaw, _ = l.floatValueLocked(KeyYawRadians)

	for topic, raw := range l.values {
		name, found := strings.CutPrefix(topic, CoefficientSnapshotPrefix)
		if !found {
			continue
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			sample.Coefficients[name] = v
		}
	}

	l.lastTimestamp = ts
	return sample, nil
}

func (l *MQTTLink) ReadSafetyFlag() (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.connected {
		return false, &LinkError{Op: "read", Key: KeyMatchControl, Err: ErrNotConnected}
	}
	// Nonzero FMS control data means the field is attached.
	control, _ := l.floatValueLocked(KeyMatchControl)
	return control != 0, nil
}

func (l *MQTTLink) WriteCoefficient(key string, value float64) error {
	l.mu.RLock()
	connected := l.connected
	l.mu.RUnlock()
	if !connected {
		return &LinkError{Op: "write", Key: key, Err: ErrNotConnected}
	}

	// Write-rate cap protects the robot-side peer; the coordinator's
	// per-coefficient interval keeps this from ever queueing in practice.
	if err := l.limiter.Wait(context.Background()); err != nil {
		return &LinkError{Op: "write", Key: key, Err: err}
	}

	payload := strconv.FormatFloat(value, 'g', -1, 64)
	token := l.client.Publish(key, 0, true, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return &LinkError{Op: "write", Key: key, Err: err}
	}
	return nil
}

// PublishStatus writes a dashboard status key. Unlike coefficient writes it
// is not rate limited; status keys are low-frequency and advisory.
func (l *MQTTLink) PublishStatus(key, value string) error {
	l.mu.RLock()
	connected := l.connected
	l.mu.RUnlock()
	if !connected {
		return &LinkError{Op: "publish", Key: key, Err: ErrNotConnected}
	}

	token := l.client.Publish(key, 0, true, value)
	token.Wait()
	if err := token.Error(); err != nil {
		return &LinkError{Op: "publish", Key: key, Err: err}
	}
	return nil
}

// Client exposes the underlying MQTT client so a CommandSource can share
// the connection. Valid only after Connect.
func (l *MQTTLink) Client() mqtt.Client {
	return l.client
}

func (l *MQTTLink) Close() error {
	if l.client != nil {
		l.client.Disconnect(250)
	}
	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()
	return nil
}

func (l *MQTTLink) floatValueLocked(key string) (float64, bool) {
	raw, ok := l.values[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (l *MQTTLink) boolValueLocked(key string) bool {
	raw, ok := l.values[key]
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return b
}
