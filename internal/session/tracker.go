package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/bapelauto/coord/internal/fsutil"
	"github.com/bapelauto/coord/internal/logging"
	"github.com/bapelauto/coord/internal/telemetry"
)

// ErrAlreadyStarted is returned by Tracker.Start on a second call.
var ErrAlreadyStarted = errors.New("tracker already started")

// State is the lifecycle state of a Tracker. A tracker stays in
// StateStarting, with its heartbeat loop running, until the first write of
// its record succeeds.
type State int

const (
	StateStarting State = iota
	StateActive
	StateStopping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type options struct {
	interval time.Duration
	now      func() time.Time
	checker  ProcessChecker
	logger   *logging.Logger
	metrics  *telemetry.Metrics

	// afterTick runs at the end of every heartbeat tick.
	afterTick func(context.Context)
}

// Option configures a Reaper or Tracker.
type Option func(*options)

// WithInterval sets the heartbeat/reclaim period.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithProcessChecker overrides the process liveness probe.
func WithProcessChecker(c ProcessChecker) Option {
	return func(o *options) {
		if c != nil {
			o.checker = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metric instruments. A nil value disables metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithAfterTick registers fn to run after every heartbeat tick. Only the
// Tracker uses it. fn must not wait on anything that waits on Halt.
func WithAfterTick(fn func(context.Context)) Option {
	return func(o *options) {
		o.afterTick = fn
	}
}

func buildOptions(opts []Option) options {
	o := options{
		interval: DefaultCleanupInterval,
		now:      time.Now,
		checker:  OSProcessChecker(),
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ReapResult summarizes one reclaim pass.
type ReapResult struct {
	// Reclaimed lists instances whose expired record was deleted because
	// their process is gone.
	Reclaimed []string
	// Corrupt lists record files that could not be decoded and were deleted.
	Corrupt []string
	// Kept lists expired records left in place because their process is
	// alive or could not be probed.
	Kept []string
	// Alive is the number of records within the TTL, self included.
	Alive int
}

// Removed reports whether the pass deleted anything.
func (r ReapResult) Removed() bool {
	return len(r.Reclaimed) > 0 || len(r.Corrupt) > 0
}

// Reaper deletes session records left behind by crashed instances.
type Reaper struct {
	reg  *Registry
	opts options
}

// NewReaper creates a reaper over reg.
func NewReaper(reg *Registry, opts ...Option) *Reaper {
	return &Reaper{reg: reg, opts: buildOptions(opts)}
}

// Reap runs one reclaim pass, skipping selfID. A record is deleted when it
// cannot be decoded, or when its heartbeat is older than the TTL and its
// process is confirmed dead. Expired records whose process is alive or
// unknown are kept.
func (rp *Reaper) Reap(ctx context.Context, selfID string) (ReapResult, error) {
	var res ReapResult
	entries, err := rp.reg.ListAll(ctx)
	if err != nil {
		rp.opts.logger.Warn("session scan failed", "error", err)
		return res, err
	}

	now := rp.opts.now()
	ttl := rp.reg.TTL()
	for _, e := range entries {
		if e.ID == selfID {
			res.Alive++
			continue
		}

		if e.Corrupt() {
			if err := rp.removeFile(ctx, e); err != nil {
				continue
			}
			res.Corrupt = append(res.Corrupt, e.ID)
			rp.opts.metrics.RecordReclaim(ctx, telemetry.ReasonCorrupt)
			rp.opts.logger.Info("removed corrupt session record", "session_id", e.ID, "error", e.Err)
			continue
		}

		if e.Record.Alive(now, ttl) {
			res.Alive++
			continue
		}

		liveness := rp.opts.checker.Alive(e.Record.PID)
		if liveness != LivenessDead {
			res.Kept = append(res.Kept, e.ID)
			rp.opts.logger.Debug("keeping expired session record",
				"session_id", e.ID,
				"pid", e.Record.PID,
				"process", liveness.String(),
				"age", e.Record.Age(now).String(),
			)
			continue
		}

		if err := rp.removeFile(ctx, e); err != nil {
			continue
		}
		res.Reclaimed = append(res.Reclaimed, e.ID)
		rp.opts.metrics.RecordReclaim(ctx, telemetry.ReasonExpired)
		rp.opts.logger.Info("reclaimed expired session",
			"session_id", e.ID,
			"pid", e.Record.PID,
			"age", e.Record.Age(now).String(),
		)
	}

	rp.opts.metrics.RecordActiveSessions(ctx, res.Alive)
	if res.Removed() {
		if err := rp.reg.RebuildSnapshot(ctx); err != nil {
			rp.opts.logger.Warn("registry snapshot rebuild failed", "error", err)
		}
	}
	return res, nil
}

func (rp *Reaper) removeFile(ctx context.Context, e Entry) error {
	err := fsutil.RetryOnce(ctx, func() error {
		return fsutil.RemoveIfExists(rp.reg.fs, e.Path)
	})
	if err != nil {
		rp.opts.logger.Warn("failed to remove session record", "session_id", e.ID, "error", err)
	}
	return err
}

// Tracker keeps this instance's session record fresh and periodically
// reclaims records of crashed instances.
type Tracker struct {
	reg    *Registry
	reaper *Reaper
	opts   options

	// stopMu serializes Halt and Stop.
	stopMu sync.Mutex

	// mu guards self and state, and is held while writing the own record.
	mu     sync.Mutex
	self   Record
	state  State
	cancel context.CancelFunc // set once the loop runs
	wg     conc.WaitGroup
}

// NewTracker creates a tracker for self. Nothing is written until Start.
func NewTracker(reg *Registry, self Record, opts ...Option) *Tracker {
	o := buildOptions(opts)
	o.logger = o.logger.WithComponent("session")
	return &Tracker{
		reg:    reg,
		reaper: &Reaper{reg: reg, opts: o},
		opts:   o,
		self:   self,
		state:  StateStarting,
	}
}

// Self returns a copy of the in-memory record.
func (t *Tracker) Self() Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.self
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start registers the record and launches the heartbeat loop. The loop is
// launched even when registration fails; the tracker then stays in
// StateStarting until a heartbeat writes the record, and the registration
// error is returned for the caller to log.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateStarting || t.cancel != nil {
		return ErrAlreadyStarted
	}

	now := t.opts.now()
	if now.After(t.self.LastHeartbeat) {
		t.self.LastHeartbeat = now
	}
	regErr := t.reg.Register(ctx, t.self)
	t.opts.metrics.RecordHeartbeat(ctx, regErr)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	t.wg.Go(func() { t.loop(loopCtx) })

	if regErr != nil {
		return fmt.Errorf("register session: %w", regErr)
	}
	t.activateLocked()
	return nil
}

func (t *Tracker) activateLocked() {
	t.state = StateActive
	t.opts.logger.Info("session registered",
		"session_id", t.self.InstanceID,
		"pid", t.self.PID,
		"interval", t.opts.interval.String(),
	)
}

func (t *Tracker) loop(ctx context.Context) {
	ticker := time.NewTicker(t.opts.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

// tick refreshes the own heartbeat and then runs a reclaim pass. Failures
// are logged and never stop the loop.
func (t *Tracker) tick(ctx context.Context) {
	if err := t.heartbeat(ctx); err != nil {
		t.opts.logger.Warn("heartbeat failed", "error", err)
	}
	if ctx.Err() != nil {
		return
	}
	_, _ = t.Reap(ctx)
	if t.opts.afterTick != nil && ctx.Err() == nil {
		t.opts.afterTick(ctx)
	}
}

func (t *Tracker) heartbeat(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive && t.state != StateStarting {
		return nil
	}
	t.self.LastHeartbeat = t.opts.now()
	write := t.reg.Heartbeat
	if t.state == StateStarting {
		write = t.reg.Register
	}
	err := write(ctx, t.self)
	t.opts.metrics.RecordHeartbeat(ctx, err)
	if err == nil && t.state == StateStarting {
		t.activateLocked()
	}
	return err
}

// Reap runs one reclaim pass on behalf of this instance.
func (t *Tracker) Reap(ctx context.Context) (ReapResult, error) {
	return t.reaper.Reap(ctx, t.self.InstanceID)
}

// SetRealm records the logical context this instance is attached to and
// rewrites the own record immediately. Before the first successful write and
// after Halt only the in-memory record changes.
func (t *Tracker) SetRealm(ctx context.Context, realm string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.self.Realm = realm
	if t.state != StateActive {
		return nil
	}
	if now := t.opts.now(); now.After(t.self.LastHeartbeat) {
		t.self.LastHeartbeat = now
	}
	if err := t.reg.Heartbeat(ctx, t.self); err != nil {
		return fmt.Errorf("update realm: %w", err)
	}
	return nil
}

// Halt stops the heartbeat loop and waits for an in-flight tick to finish.
// The record stays on disk. Halt is idempotent.
func (t *Tracker) Halt() {
	t.stopMu.Lock()
	defer t.stopMu.Unlock()
	t.halt()
}

func (t *Tracker) halt() {
	t.mu.Lock()
	switch t.state {
	case StateStarting:
		if t.cancel == nil {
			t.state = StateTerminated
			t.mu.Unlock()
			return
		}
	case StateStopping, StateTerminated:
		t.mu.Unlock()
		return
	}
	t.state = StateStopping
	cancel := t.cancel
	t.mu.Unlock()

	cancel()
	t.wg.Wait()
}

// Stop halts the loop and removes the own record. It is idempotent.
func (t *Tracker) Stop(ctx context.Context) error {
	t.stopMu.Lock()
	defer t.stopMu.Unlock()
	t.halt()

	t.mu.Lock()
	if t.state == StateTerminated {
		t.mu.Unlock()
		return nil
	}
	t.state = StateTerminated
	id := t.self.InstanceID
	t.mu.Unlock()

	if err := t.reg.Remove(ctx, id); err != nil {
		return err
	}
	t.opts.logger.Info("session removed", "session_id", id)
	return nil
}
