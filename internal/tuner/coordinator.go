package tuner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mmarchjr/MLtune/internal/alert"
	"github.com/mmarchjr/MLtune/internal/config"
	"github.com/mmarchjr/MLtune/internal/domain/model"
	"github.com/mmarchjr/MLtune/internal/eventlog"
	"github.com/mmarchjr/MLtune/internal/metrics"
	"github.com/mmarchjr/MLtune/internal/optimizer"
	"github.com/mmarchjr/MLtune/internal/telemetry"
	"github.com/mmarchjr/MLtune/internal/tracing"
	"github.com/mmarchjr/MLtune/internal/validate"
)

// Dashboard keys the coordinator publishes its own state under.
const (
	statusKeyShotCount   = telemetry.TunerKeyPrefix + "ShotCount"
	statusKeyThreshold   = telemetry.TunerKeyPrefix + "ShotThreshold"
	statusKeyCoefficient = telemetry.TunerKeyPrefix + "CurrentCoefficient"
	statusKeyStatus      = telemetry.TunerKeyPrefix + "Status"
)

// Coordinator owns the whole tuning session: the mode state machine, the
// coefficient sequencer, pending sample accumulation, rate-limited
// clamped writes, and the operator command queue. All state mutation
// happens inside the tick, one critical section at a time; presentation
// surfaces only read Status() and enqueue commands.
type Coordinator struct {
	cfg    config.TunerConfig
	link   telemetry.Link
	filter *validate.Filter
	seq    *optimizer.Sequencer
	events *eventlog.Log
	logger *slog.Logger

	status  telemetry.StatusPublisher
	alerter alert.Alerter

	now func() time.Time

	mu sync.Mutex

	mode     model.Mode
	complete bool

	// matchMode and operatorEnabled together decide DISABLED: the mode
	// holds while either says writes must be suppressed.
	matchMode       bool
	operatorEnabled bool

	shotThreshold int
	pending       []model.ShotSample
	rejections    int
	lastError     string

	// activeValue is what the robot is currently firing with, per
	// coefficient. Seeded from the spec's initial, updated on every
	// successful write; stale-sample exclusion compares against it.
	activeValue map[string]float64

	lastWrite     map[string]time.Time
	deferredWrite map[string]float64

	// lastStatus dedups dashboard publishes. The command source listens
	// on the same topic tree, so re-publishing an unchanged value would
	// echo back as a command every tick.
	lastStatus map[string]string

	cmdMu sync.Mutex
	cmd   *model.Command
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithAlerter routes operational alerts (paused, disabled, fallback) to
// the given sink.
func WithAlerter(a alert.Alerter) Option {
	return func(c *Coordinator) { c.alerter = a }
}

// WithStatusPublisher mirrors coordinator state to dashboard keys on the
// link after every tick.
func WithStatusPublisher(p telemetry.StatusPublisher) Option {
	return func(c *Coordinator) { c.status = p }
}

// New wires a coordinator for the given coefficient sequence. The
// strategy and scorer are resolved from configuration; a bad policy name
// is a startup failure, not a runtime surprise.
func New(
	cfg config.TunerConfig,
	filterCfg config.FilterConfig,
	specs []model.CoefficientSpec,
	link telemetry.Link,
	events *eventlog.Log,
	logger *slog.Logger,
	opts ...Option,
) (*Coordinator, error) {
	if len(specs) == 0 {
		return nil, errors.New("tuner: no coefficients to tune")
	}

	scorer, err := optimizer.NewScorer(cfg.ScoringPolicy)
	if err != nil {
		return nil, err
	}
	sign, err := optimizer.ParseSign(cfg.ScoreSign)
	if err != nil {
		return nil, err
	}

	params := optimizer.Params{
		ConvergenceWindow:  cfg.ConvergenceWindow,
		ConvergenceEpsilon: cfg.ConvergenceEpsilon,
		MaxObservations:    cfg.MaxObservations,
	}
	seq := optimizer.NewSequencer(specs, func(spec model.CoefficientSpec) *optimizer.CoefficientOptimizer {
		return optimizer.NewCoefficientOptimizer(spec, optimizer.NewGPStrategy(cfg.NInitialPoints), scorer, sign, params)
	})

	c := &Coordinator{
		cfg:             cfg,
		link:            link,
		filter:          validate.NewFilter(filterCfg),
		seq:             seq,
		events:          events,
		logger:          logger.With("component", "coordinator"),
		alerter:         &alert.NoopAlerter{},
		now:             time.Now,
		mode:            model.ModeIdle,
		operatorEnabled: true,
		shotThreshold:   cfg.ShotThreshold,
		activeValue:     make(map[string]float64, len(specs)),
		lastWrite:       make(map[string]time.Time, len(specs)),
		deferredWrite:   make(map[string]float64),
		lastStatus:      make(map[string]string, 4),
	}
	for _, spec := range specs {
		c.activeValue[spec.Name] = spec.Initial
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Enqueue places an operator command in the single-slot queue. A newer
// command displaces an unprocessed older one; redundant commands losing
// their slot is acceptable.
func (c *Coordinator) Enqueue(cmd model.Command) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.cmd != nil {
		metrics.CoordinatorCommandsDropped.Inc()
		c.logger.Debug("command displaced", "old", c.cmd.Type, "new", cmd.Type)
	}
	c.cmd = &cmd
}

func (c *Coordinator) takeCommand() *model.Command {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	cmd := c.cmd
	c.cmd = nil
	return cmd
}

// Run drives the tick loop until the context is cancelled or a Stop
// command lands. The first tick fires immediately.
func (c *Coordinator) Run(ctx context.Context) error {
	c.start()
	c.logger.Info("coordinator started",
		"coefficients", c.seq.Names(),
		"interval", c.cfg.TickInterval,
		"shot_threshold", c.shotThreshold,
		"scoring_policy", c.cfg.ScoringPolicy,
		"score_sign", c.cfg.ScoreSign,
	)

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	runTick := func() {
		metrics.CoordinatorTicksTotal.Inc()
		tickStart := time.Now()
		c.Tick(ctx)
		metrics.CoordinatorTickLatency.Observe(time.Since(tickStart).Seconds())
	}

	runTick()
	for {
		if c.Mode().Terminal() {
			c.logger.Info("coordinator stopped")
			return nil
		}
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.shutdownLocked("context cancelled")
			c.mu.Unlock()
			c.logger.Info("coordinator stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			runTick()
		}
	}
}

func (c *Coordinator) start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != model.ModeIdle {
		return
	}
	c.record(model.Event{Type: model.EventSessionStart, Mode: model.ModeIdle, Detail: fmt.Sprintf("coefficients=%d", len(c.seq.Names()))})
	c.transitionLocked(model.ModeTuning, "session start")
}

// Tick runs one cycle of the polling loop. Exported so tests can drive
// the coordinator deterministically without the ticker.
func (c *Coordinator) Tick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := tracing.StartTick(ctx, tracing.Tracer("tuner"), c.mode.String(), c.activeNameLocked())
	defer span.End()

	if c.mode.Terminal() {
		return
	}

	if cmd := c.takeCommand(); cmd != nil {
		c.processCommandLocked(ctx, *cmd)
		if c.mode.Terminal() {
			return
		}
	}

	if !c.syncSafetyLocked(ctx) {
		c.publishStatusLocked()
		return
	}

	c.pollSampleLocked(ctx)
	c.flushDeferredLocked(ctx)

	if c.mode == model.ModeTuning && !c.complete {
		c.maybeOptimizeLocked(ctx)
	}

	c.publishStatusLocked()
}

// syncSafetyLocked reconciles DISABLED against the match flag and the
// operator toggle. Returns false when the tick must stop here.
func (c *Coordinator) syncSafetyLocked(ctx context.Context) bool {
	flag, err := c.link.ReadSafetyFlag()
	if err == nil {
		c.matchMode = flag
	} else {
		metrics.LinkReadErrorsTotal.Inc()
		c.logger.Warn("safety flag read failed", "error", err)
	}

	suppress := c.matchMode || !c.operatorEnabled
	switch {
	case suppress && c.mode != model.ModeDisabled:
		reason := "match mode"
		if !c.matchMode {
			reason = "operator disabled"
		}
		c.transitionLocked(model.ModeDisabled, reason)
		c.sendAlertLocked(ctx, alert.Alert{
			Type:        alert.AlertTypeDisabled,
			Coefficient: c.activeNameLocked(),
			Title:       "Tuning disabled",
			Message:     reason,
		})
		return false
	case suppress:
		return false
	case c.mode == model.ModeDisabled:
		// Pending samples survived the lockout on purpose. The burned
		// timestamps did not: the robot may have rebooted during the
		// lockout and restarted its clock.
		c.filter.Reset()
		c.transitionLocked(model.ModeTuning, "lockout cleared")
	}
	return true
}

func (c *Coordinator) pollSampleLocked(ctx context.Context) {
	sample, err := c.link.ReadShot()
	if err != nil {
		metrics.LinkReadErrorsTotal.Inc()
		c.lastError = err.Error()
		if c.mode == model.ModeTuning {
			c.transitionLocked(model.ModePaused, "link read failed")
			c.sendAlertLocked(ctx, alert.Alert{
				Type:        alert.AlertTypeLinkLost,
				Coefficient: c.activeNameLocked(),
				Title:       "Telemetry link lost",
				Message:     err.Error(),
			})
		}
		return
	}
	if sample == nil {
		// No new shot is a normal condition, never an error.
		return
	}

	if rej := c.filter.Check(sample); rej != nil {
		metrics.SamplesRejectedTotal.WithLabelValues(rej.Reason).Inc()
		c.lastError = rej.Error()
		c.record(model.Event{
			Type:        model.EventRejection,
			Coefficient: c.activeNameLocked(),
			Mode:        c.mode,
			Detail:      fmt.Sprintf("%s: %s", rej.Reason, rej.Detail),
		})
		c.rejections++
		if c.mode == model.ModeTuning && c.rejections >= c.cfg.ConsecutiveRejectionLimit {
			c.transitionLocked(model.ModePaused, fmt.Sprintf("%d consecutive rejections", c.rejections))
			c.sendAlertLocked(ctx, alert.Alert{
				Type:        alert.AlertTypePaused,
				Coefficient: c.activeNameLocked(),
				Title:       "Tuning paused",
				Message:     fmt.Sprintf("rejection threshold reached: %s", rej.Reason),
			})
		}
		return
	}

	c.rejections = 0
	c.lastError = ""
	if c.mode == model.ModePaused {
		c.transitionLocked(model.ModeTuning, "valid sample resumed")
	}
	if c.mode != model.ModeTuning {
		return
	}

	c.pending = append(c.pending, *sample)
	name := c.activeNameLocked()
	metrics.SamplesAcceptedTotal.WithLabelValues(name).Inc()
	c.record(model.Event{
		Type:        model.EventSample,
		Coefficient: name,
		Value:       c.activeValue[name],
		Mode:        c.mode,
		Detail:      fmt.Sprintf("hit=%t distance=%.2f pending=%d", sample.Hit, sample.Distance, len(c.pending)),
	})
}

func (c *Coordinator) maybeOptimizeLocked(ctx context.Context) {
	active := c.seq.Current()
	if active == nil {
		return
	}

	// A full batch of hits means the current value works; move on
	// without disturbing it. Only samples shot under the current value
	// count: a perfect batch of stale snapshots is no evidence at all.
	if c.cfg.AutoAdvanceOnSuccess && len(c.pending) >= c.cfg.AutoAdvanceShotThreshold && allHits(c.pending) {
		name := active.Spec().Name
		usable := c.usablePendingLocked(active)
		if len(usable) < c.cfg.AutoAdvanceShotThreshold {
			c.pending = usable
			c.logger.Info("auto-advance deferred, stale samples dropped",
				"coefficient", name, "usable", len(usable))
			return
		}
		obs := active.Observe(c.activeValue[name], usable)
		metrics.OptimizerObservations.WithLabelValues(name).Set(float64(len(active.Observations())))
		metrics.OptimizerBestScore.WithLabelValues(name).Set(obs.Score)
		c.pending = nil
		c.advanceLocked(ctx, fmt.Sprintf("perfect batch of %d", obs.Samples))
		return
	}

	if c.cfg.AutotuneEnabled && len(c.pending) >= c.shotThreshold {
		c.optimizationPassLocked(ctx)
	}
}

// usablePendingLocked drops samples whose snapshot shows they were shot
// under a previous value of the active coefficient. Evidence from an old
// value must not be attributed to the new one.
func (c *Coordinator) usablePendingLocked(active *optimizer.CoefficientOptimizer) []model.ShotSample {
	name := active.Spec().Name
	current := c.activeValue[name]

	usable := make([]model.ShotSample, 0, len(c.pending))
	for _, s := range c.pending {
		if v, ok := s.ActiveValue(name); ok && math.Abs(v-current) > 1e-9 {
			metrics.SamplesStaleSkippedTotal.WithLabelValues(name).Inc()
			continue
		}
		usable = append(usable, s)
	}
	return usable
}

func (c *Coordinator) optimizationPassLocked(ctx context.Context) {
	active := c.seq.Current()
	if active == nil {
		return
	}
	name := active.Spec().Name
	metrics.OptimizationPassesTotal.WithLabelValues(name).Inc()

	usable := c.usablePendingLocked(active)
	c.pending = nil
	if len(usable) == 0 {
		c.logger.Info("optimization pass skipped, all pending samples stale", "coefficient", name)
		return
	}

	obs := active.Observe(c.activeValue[name], usable)
	metrics.OptimizerObservations.WithLabelValues(name).Set(float64(len(active.Observations())))
	if best, ok := active.Best(); ok {
		metrics.OptimizerBestScore.WithLabelValues(name).Set(best.Score)
	}

	suggestion, err := active.Suggest()
	if err != nil {
		metrics.OptimizerFallbacksTotal.WithLabelValues(name).Inc()
		c.record(model.Event{
			Type:        model.EventOptimizerErr,
			Coefficient: name,
			Value:       suggestion,
			Mode:        c.mode,
			Detail:      err.Error(),
		})
		c.sendAlertLocked(ctx, alert.Alert{
			Type:        alert.AlertTypeOptimizerFallback,
			Coefficient: name,
			Title:       "Strategy failed",
			Message:     err.Error(),
			Fields:      map[string]string{"fallback_value": fmt.Sprintf("%g", suggestion)},
		})
	}
	c.record(model.Event{
		Type:        model.EventSuggestion,
		Coefficient: name,
		Value:       suggestion,
		Score:       obs.Score,
		Mode:        c.mode,
		Detail:      fmt.Sprintf("samples=%d observations=%d", obs.Samples, len(active.Observations())),
	})

	c.writeLocked(ctx, active.Spec(), suggestion)

	if c.cfg.AutoAdvanceOnSuccess {
		if done, reason := active.Converged(); done {
			c.advanceLocked(ctx, reason)
		}
	}
}

// writeLocked publishes a clamped value, deferring when inside the
// per-coefficient minimum write interval. Deferred writes are retried on
// later ticks, never dropped.
func (c *Coordinator) writeLocked(ctx context.Context, spec model.CoefficientSpec, value float64) {
	value = spec.Clamp(value)

	if last, ok := c.lastWrite[spec.Name]; ok && c.now().Sub(last) < c.cfg.MinWriteInterval {
		metrics.WritesDeferredTotal.WithLabelValues(spec.Name).Inc()
		c.deferredWrite[spec.Name] = value
		c.logger.Debug("write deferred by rate limit", "coefficient", spec.Name, "value", value)
		return
	}

	if err := c.link.WriteCoefficient(spec.TelemetryKey, value); err != nil {
		metrics.WriteErrorsTotal.WithLabelValues(spec.Name).Inc()
		c.lastError = err.Error()
		c.deferredWrite[spec.Name] = value
		if c.mode == model.ModeTuning {
			c.transitionLocked(model.ModePaused, "link write failed")
			c.sendAlertLocked(ctx, alert.Alert{
				Type:        alert.AlertTypeLinkLost,
				Coefficient: spec.Name,
				Title:       "Coefficient write failed",
				Message:     err.Error(),
			})
		}
		return
	}

	delete(c.deferredWrite, spec.Name)
	c.lastWrite[spec.Name] = c.now()
	c.activeValue[spec.Name] = value
	metrics.WritesTotal.WithLabelValues(spec.Name).Inc()
	c.record(model.Event{
		Type:        model.EventWrite,
		Coefficient: spec.Name,
		Value:       value,
		Mode:        c.mode,
	})
}

func (c *Coordinator) flushDeferredLocked(ctx context.Context) {
	if len(c.deferredWrite) == 0 || c.mode != model.ModeTuning {
		return
	}
	for name, value := range c.deferredWrite {
		opt, ok := c.seq.ByName(name)
		if !ok {
			delete(c.deferredWrite, name)
			continue
		}
		if last, ok := c.lastWrite[name]; ok && c.now().Sub(last) < c.cfg.MinWriteInterval {
			continue
		}
		c.writeLocked(ctx, opt.Spec(), value)
	}
}

func (c *Coordinator) advanceLocked(ctx context.Context, detail string) {
	from := c.activeNameLocked()
	c.pending = nil
	if c.seq.Advance() {
		c.record(model.Event{
			Type:        model.EventAdvance,
			Coefficient: from,
			Mode:        c.mode,
			Detail:      fmt.Sprintf("%s; next=%s", detail, c.activeNameLocked()),
		})
		c.logger.Info("advanced to next coefficient", "from", from, "to", c.activeNameLocked(), "reason", detail)
		return
	}

	// Coordinator stays in TUNING so writes and diagnostics keep
	// flowing; it just stops issuing suggestions.
	c.complete = true
	c.record(model.Event{Type: model.EventComplete, Coefficient: from, Mode: c.mode, Detail: detail})
	c.logger.Info("tuning sequence complete", "last", from, "reason", detail)
	c.sendAlertLocked(ctx, alert.Alert{
		Type:    alert.AlertTypeSessionComplete,
		Title:   "Tuning complete",
		Message: fmt.Sprintf("all %d coefficients converged", len(c.seq.Names())),
	})
}

func (c *Coordinator) processCommandLocked(ctx context.Context, cmd model.Command) {
	metrics.CoordinatorCommandsTotal.WithLabelValues(string(cmd.Type)).Inc()
	c.logger.Info("processing operator command", "type", cmd.Type)

	switch cmd.Type {
	case model.CommandStop:
		c.shutdownLocked("operator stop")
	case model.CommandPause:
		if c.mode == model.ModeTuning {
			c.transitionLocked(model.ModePaused, "operator pause")
		}
	case model.CommandResume:
		if c.mode == model.ModePaused {
			c.transitionLocked(model.ModeTuning, "operator resume")
		}
	case model.CommandSkip:
		if !c.seq.Complete() {
			c.advanceLocked(ctx, "operator skip")
		}
	case model.CommandBacktrack:
		c.backtrackLocked(cmd.Coefficient)
	case model.CommandOptimizeNow:
		// Manual pass ignores the threshold and the autotune toggle, but
		// still needs evidence to act on.
		if c.mode == model.ModeTuning && !c.complete && len(c.pending) > 0 {
			c.optimizationPassLocked(ctx)
		}
	case model.CommandSetEnabled:
		if c.operatorEnabled != cmd.Enabled {
			c.operatorEnabled = cmd.Enabled
			c.logger.Info("operator toggled tuner", "enabled", cmd.Enabled)
		}
	case model.CommandSetThreshold:
		if cmd.Threshold > 0 && cmd.Threshold != c.shotThreshold {
			c.logger.Info("shot threshold updated", "old", c.shotThreshold, "new", cmd.Threshold)
			c.shotThreshold = cmd.Threshold
		}
	default:
		c.logger.Warn("unknown command ignored", "type", cmd.Type)
	}
}

func (c *Coordinator) backtrackLocked(name string) {
	if err := c.seq.Backtrack(name); err != nil {
		c.logger.Warn("backtrack rejected", "coefficient", name, "error", err)
		c.lastError = err.Error()
		return
	}
	// Evidence for one coefficient must never leak into another's
	// history.
	c.pending = nil
	c.complete = false
	target := c.activeNameLocked()
	metrics.OptimizerObservations.WithLabelValues(target).Set(0)
	c.record(model.Event{
		Type:        model.EventBacktrack,
		Coefficient: target,
		Value:       c.activeValue[target],
		Mode:        c.mode,
	})
	c.logger.Info("backtracked", "coefficient", target)
}

func (c *Coordinator) transitionLocked(to model.Mode, detail string) {
	from := c.mode
	if from == to {
		return
	}
	c.mode = to
	metrics.CoordinatorMode.Set(modeValue(to))
	c.record(model.Event{
		Type:        model.EventTransition,
		Coefficient: c.activeNameLocked(),
		Mode:        to,
		Detail:      fmt.Sprintf("%s -> %s: %s", from, to, detail),
	})
	c.logger.Info("mode transition", "from", from, "to", to, "reason", detail)
}

func (c *Coordinator) shutdownLocked(detail string) {
	if c.mode.Terminal() {
		return
	}
	c.record(model.Event{Type: model.EventShutdown, Mode: c.mode, Detail: detail})
	c.transitionLocked(model.ModeShutdown, detail)
	c.publishStatusLocked()
}

func (c *Coordinator) sendAlertLocked(ctx context.Context, a alert.Alert) {
	if err := c.alerter.Send(ctx, a); err != nil {
		c.logger.Warn("alert delivery failed", "type", a.Type, "error", err)
	}
}

func (c *Coordinator) publishStatusLocked() {
	if c.status == nil {
		return
	}
	statusText := c.mode.String()
	if c.complete {
		statusText = "COMPLETE"
	}
	for key, value := range map[string]string{
		statusKeyShotCount:   fmt.Sprintf("%d", len(c.pending)),
		statusKeyThreshold:   fmt.Sprintf("%d", c.shotThreshold),
		statusKeyCoefficient: c.activeNameLocked(),
		statusKeyStatus:      statusText,
	} {
		if c.lastStatus[key] == value {
			continue
		}
		if err := c.status.PublishStatus(key, value); err != nil {
			c.logger.Debug("status publish failed", "key", key, "error", err)
			return
		}
		c.lastStatus[key] = value
	}
}

func (c *Coordinator) record(ev model.Event) {
	if c.events != nil {
		c.events.Record(ev)
	}
}

func (c *Coordinator) activeNameLocked() string {
	if active := c.seq.Current(); active != nil {
		return active.Spec().Name
	}
	return ""
}

// Mode returns the current mode. Safe for concurrent use.
func (c *Coordinator) Mode() model.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func allHits(samples []model.ShotSample) bool {
	for _, s := range samples {
		if !s.Hit {
			return false
		}
	}
	return true
}

func modeValue(m model.Mode) float64 {
	switch m {
	case model.ModeIdle:
		return 0
	case model.ModeTuning:
		return 1
	case model.ModePaused:
		return 2
	case model.ModeDisabled:
		return 3
	case model.ModeShutdown:
		return 4
	}
	return -1
}
