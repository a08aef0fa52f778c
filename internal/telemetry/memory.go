package telemetry

import (
	"context"
	"sync"

	"github.com/mmarchjr/MLtune/internal/domain/model"
)

// MemoryLink is an in-memory Link fed by a scripted sequence of samples.
// It backs tests and dry runs where no broker (or robot) exists, and can
// inject transient link failures on demand.
type MemoryLink struct {
	mu sync.Mutex

	connected  bool
	connectErr error

	queue      []*model.ShotSample
	safetyFlag bool

	// failReads / failWrites force the next operations to return a
	// LinkError, simulating a dropped peer.
	failReads  bool
	failWrites bool

	writes []Write
	status map[string]string
}

// Write records one coefficient write issued through the link.
type Write struct {
	Key   string
	Value float64
}

func NewMemoryLink() *MemoryLink {
	return &MemoryLink{status: make(map[string]string)}
}

func (l *MemoryLink) Connect(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connectErr != nil {
		return &ConnectionError{Addr: "memory", Err: l.connectErr}
	}
	l.connected = true
	return nil
}

// SetConnectError makes the next Connect fail, for startup-failure tests.
func (l *MemoryLink) SetConnectError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connectErr = err
}

// PushShot appends a sample to the scripted feed.
func (l *MemoryLink) PushShot(sample model.ShotSample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = append(l.queue, &sample)
}

// SetSafetyFlag toggles the simulated match-mode flag.
func (l *MemoryLink) SetSafetyFlag(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.safetyFlag = on
}

// FailReads makes subsequent reads return a LinkError until cleared.
func (l *MemoryLink) FailReads(fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failReads = fail
}

// FailWrites makes subsequent writes return a LinkError until cleared.
func (l *MemoryLink) FailWrites(fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failWrites = fail
}

func (l *MemoryLink) ReadShot() (*model.ShotSample, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return nil, &LinkError{Op: "read", Err: ErrNotConnected}
	}
	if l.failReads {
		return nil, &LinkError{Op: "read", Err: ErrNotConnected}
	}
	if len(l.queue) == 0 {
		return nil, nil
	}
	sample := l.queue[0]
	l.queue = l.queue[1:]
	return sample, nil
}

func (l *MemoryLink) ReadSafetyFlag() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected || l.failReads {
		return false, &LinkError{Op: "read", Key: KeyMatchControl, Err: ErrNotConnected}
	}
	return l.safetyFlag, nil
}

func (l *MemoryLink) WriteCoefficient(key string, value float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected || l.failWrites {
		return &LinkError{Op: "write", Key: key, Err: ErrNotConnected}
	}
	l.writes = append(l.writes, Write{Key: key, Value: value})
	return nil
}

func (l *MemoryLink) PublishStatus(key, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return &LinkError{Op: "publish", Key: key, Err: ErrNotConnected}
	}
	l.status[key] = value
	return nil
}

func (l *MemoryLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
	return nil
}

// Writes returns a copy of every coefficient write issued so far.
func (l *MemoryLink) Writes() []Write {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Write, len(l.writes))
	copy(out, l.writes)
	return out
}

// Status returns the latest published value for a dashboard key.
func (l *MemoryLink) Status(key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.status[key]
	return v, ok
}
