package eventlog

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmarchjr/MLtune/internal/domain/model"
)

var header = []string{"time", "event_type", "coefficient", "value", "score", "mode", "detail"}

// Log is the append-only session history. Rows go to a per-session CSV
// file and to a bounded in-memory ring the admin API reads from.
//
// Record never returns an error: losing a history row must not stall the
// tuning loop, so write failures are reported on the logger and through
// the optional failure hook instead.
type Log struct {
	mu sync.Mutex

	file   *os.File
	writer *csv.Writer
	closed bool

	recent []model.Event
	limit  int

	sessionID string
	logger    *slog.Logger
	onError   func()
}

// Option configures a Log.
type Option func(*Log)

// WithFailureHook registers a callback invoked once per failed row
// write, typically a metrics counter.
func WithFailureHook(fn func()) Option {
	return func(l *Log) { l.onError = fn }
}

// WithRetention overrides how many rows Tail can serve.
func WithRetention(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.limit = n
		}
	}
}

// New opens a fresh session file under dir, creating the directory if
// needed. The file name carries the session id so successive runs never
// clobber each other.
func New(dir string, logger *slog.Logger, opts ...Option) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}

	sessionID := uuid.NewString()
	name := fmt.Sprintf("session-%s-%s.csv", time.Now().UTC().Format("20060102T150405Z"), sessionID[:8])
	path := filepath.Join(dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log %s: %w", path, err)
	}

	l := &Log{
		file:      file,
		writer:    csv.NewWriter(file),
		limit:     1024,
		sessionID: sessionID,
		logger:    logger.With("component", "eventlog", "session_id", sessionID),
		onError:   func() {},
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.writer.Write(header); err != nil {
		file.Close()
		return nil, fmt.Errorf("write event log header: %w", err)
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		file.Close()
		return nil, fmt.Errorf("flush event log header: %w", err)
	}

	l.logger.Info("event log opened", "path", path)
	return l, nil
}

// SessionID returns the identifier embedded in this session's rows.
func (l *Log) SessionID() string { return l.sessionID }

// Record appends one event. Safe for concurrent use.
func (l *Log) Record(ev model.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.recent = append(l.recent, ev)
	if len(l.recent) > l.limit {
		l.recent = l.recent[len(l.recent)-l.limit:]
	}

	if l.closed {
		return
	}
	row := []string{
		ev.Time.UTC().Format(time.RFC3339Nano),
		string(ev.Type),
		ev.Coefficient,
		strconv.FormatFloat(ev.Value, 'g', -1, 64),
		strconv.FormatFloat(ev.Score, 'g', -1, 64),
		ev.Mode.String(),
		ev.Detail,
	}
	if err := l.writer.Write(row); err != nil {
		l.reportWriteError(ev, err)
		return
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		l.reportWriteError(ev, err)
	}
}

func (l *Log) reportWriteError(ev model.Event, err error) {
	l.logger.Error("failed to persist event", "event_type", ev.Type, "error", err)
	l.onError()
}

// Tail returns up to n most recent events, oldest first.
func (l *Log) Tail(n int) []model.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.recent) {
		n = len(l.recent)
	}
	out := make([]model.Event, n)
	copy(out, l.recent[len(l.recent)-n:])
	return out
}

// Close flushes and closes the session file. Record calls after Close
// still land in the in-memory ring.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	l.writer.Flush()
	flushErr := l.writer.Error()
	closeErr := l.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
