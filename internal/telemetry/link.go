package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmarchjr/MLtune/internal/domain/model"
)

// Key layout on the pub/sub link. The robot side publishes shot events under
// FiringSolver/ and consumes coefficient values under Tuning/Coefficients/.
const (
	KeyShotTimestamp = "FiringSolver/ShotTimestamp"
	KeyShotHit       = "FiringSolver/Hit"
	KeyShotDistance  = "FiringSolver/Distance"
	KeyPitchRadians  = "FiringSolver/Solution/pitchRadians"
	KeyExitVelocity  = "FiringSolver/Solution/exitVelocity"
	KeyYawRadians    = "FiringSolver/Solution/yawRadians"
	KeyMatchControl  = "FMSInfo/FMSControlData"

	CoefficientSnapshotPrefix = "FiringSolver/Coefficients/"
	CoefficientKeyPrefix      = "Tuning/Coefficients/"
	TunerKeyPrefix            = "Tuning/BayesianTuner/"
)

// Link is the bidirectional key-value channel to the robot-side peer.
//
// ReadShot is a non-blocking poll: it returns (nil, nil) when no new shot
// timestamp has appeared since the last read, which is a normal condition
// and never an error. The link performs no internal retries; the
// coordinator owns retry and backoff policy.
type Link interface {
	Connect(ctx context.Context) error
	ReadShot() (*model.ShotSample, error)
	// ReadSafetyFlag reports whether the peer is in a protected state
	// (competition match) where coefficient writes must be suppressed.
	ReadSafetyFlag() (bool, error)
	WriteCoefficient(key string, value float64) error
	Close() error
}

// StatusPublisher is the optional write path for dashboard status keys.
// Failures here are advisory and never interrupt tuning.
type StatusPublisher interface {
	PublishStatus(key, value string) error
}

// ErrNotConnected reports an operation attempted while the link is down.
var ErrNotConnected = errors.New("telemetry link not connected")

// ConnectionError is a startup failure to reach the peer. It is fatal: the
// process aborts with a diagnostic rather than tuning blind.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect telemetry link %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// LinkError is a transient read/write failure during operation. The
// coordinator treats it as retryable and pauses rather than shutting down.
type LinkError struct {
	Op  string
	Key string
	Err error
}

func (e *LinkError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("telemetry %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("telemetry %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }
