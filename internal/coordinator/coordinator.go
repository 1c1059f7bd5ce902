// Package coordinator ties the session registry and the layered
// configuration store together into one instance lifecycle.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/bapelauto/coord/internal/identity"
	"github.com/bapelauto/coord/internal/logging"
	"github.com/bapelauto/coord/internal/session"
	"github.com/bapelauto/coord/internal/shard"
	"github.com/bapelauto/coord/internal/telemetry"
)

// RealmChangeCooldown is the minimum time between two realm switches.
// A switch arriving faster is recorded on the session right away; its save
// and reload are deferred until the cooldown has passed.
const RealmChangeCooldown = time.Second

var (
	// ErrAlreadyStarted is returned by Start when the coordinator has
	// already been started or stopped.
	ErrAlreadyStarted = errors.New("coordinator already started")

	// ErrNotRunning is returned by operations that need a running
	// coordinator.
	ErrNotRunning = errors.New("coordinator not running")
)

// State is the lifecycle state of a Coordinator.
type State int

const (
	StateUnstarted State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// Options configures a Coordinator. Zero values select the defaults.
type Options struct {
	// BaseDir holds sessions/, shards/, backups/ and the shared file.
	BaseDir string
	// Fs is the filesystem to use. Defaults to the OS filesystem. The
	// advisory lock is only taken on the OS filesystem.
	Fs afero.Fs

	// InstanceID overrides the generated identifier.
	InstanceID string
	// PID overrides the recorded process id.
	PID int

	TTL               time.Duration
	CleanupInterval   time.Duration
	ReloadInterval    time.Duration
	BackupRetention   int
	RemoveShardOnStop bool

	Clock          func() time.Time
	ProcessChecker session.ProcessChecker
	Logger         *logging.Logger
	Metrics        *telemetry.Metrics
}

// Coordinator runs the lifecycle of one instance:
// UNSTARTED -> RUNNING -> STOPPED.
type Coordinator struct {
	opts     Options
	id       string
	logger   *logging.Logger
	registry *session.Registry
	tracker  *session.Tracker
	store    *shard.Store
	handle   *CoordinationContext

	mu    sync.Mutex
	state State
	lock  *softLock

	// realmMu guards lastSwitch and pending. It is taken after mu, or alone
	// by the heartbeat loop.
	realmMu    sync.Mutex
	lastSwitch time.Time
	pending    *realmSwitch

	stopOnce sync.Once
	stopErr  error
	stopped  chan struct{} // closed once Stop has run
}

// New builds a coordinator. Nothing touches the filesystem until Start.
func New(opts Options) (*Coordinator, error) {
	if opts.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.InstanceID == "" {
		opts.InstanceID = identity.NewInstanceID()
	}
	if !identity.Valid(opts.InstanceID) {
		return nil, fmt.Errorf("%w: %q", session.ErrInvalidID, opts.InstanceID)
	}
	if opts.PID <= 0 {
		opts.PID = os.Getpid()
	}
	if opts.TTL <= 0 {
		opts.TTL = session.DefaultTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = session.DefaultCleanupInterval
	}
	if opts.ReloadInterval <= 0 {
		opts.ReloadInterval = shard.DefaultReloadInterval
	}
	if opts.BackupRetention <= 0 {
		opts.BackupRetention = shard.DefaultRetention
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.ProcessChecker == nil {
		opts.ProcessChecker = session.OSProcessChecker()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}

	c := &Coordinator{
		opts:    opts,
		id:      opts.InstanceID,
		logger:  opts.Logger.WithInstance(opts.InstanceID),
		stopped: make(chan struct{}),
	}

	c.registry = session.NewRegistry(opts.Fs, opts.BaseDir,
		session.WithRegistryTTL(opts.TTL),
		session.WithRegistryClock(opts.Clock),
	)
	c.tracker = session.NewTracker(c.registry,
		session.NewRecord(opts.InstanceID, opts.PID, opts.Clock()),
		session.WithInterval(opts.CleanupInterval),
		session.WithClock(opts.Clock),
		session.WithProcessChecker(opts.ProcessChecker),
		session.WithLogger(c.logger),
		session.WithMetrics(opts.Metrics),
		session.WithAfterTick(c.applyPendingRealm),
	)

	paths := shard.PathsFor(opts.BaseDir, opts.InstanceID)
	rotator := shard.NewRotator(opts.Fs, paths.BackupDir, opts.BackupRetention,
		shard.WithRotatorClock(opts.Clock),
		shard.WithRotatorLogger(c.logger.WithComponent("backup")),
	)
	c.store = shard.NewStore(opts.Fs, paths, c.registry,
		shard.WithRotator(rotator),
		shard.WithReloadInterval(opts.ReloadInterval),
		shard.WithStoreClock(opts.Clock),
		shard.WithStoreLogger(c.logger),
		shard.WithStoreMetrics(opts.Metrics),
	)
	c.handle = &CoordinationContext{c: c}
	return c, nil
}

// InstanceID returns this instance's identifier.
func (c *Coordinator) InstanceID() string {
	return c.id
}

// State returns the lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Context returns the consumer-facing handle.
func (c *Coordinator) Context() *CoordinationContext {
	return c.handle
}

// Start takes the advisory lock, reclaims crashed sessions, registers this
// instance, loads the configuration and starts the heartbeat loop. Failures
// along the way are logged; the instance keeps running in a degraded mode.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUnstarted {
		return ErrAlreadyStarted
	}

	if _, ok := c.opts.Fs.(*afero.OsFs); ok {
		c.lock = acquireSoftLock(c.opts.BaseDir, c.logger)
	}

	if res, err := c.tracker.Reap(ctx); err == nil && res.Removed() {
		c.logger.Info("reclaimed stale sessions at startup",
			"reclaimed", len(res.Reclaimed),
			"corrupt", len(res.Corrupt),
		)
	}

	if err := c.tracker.Start(ctx); err != nil {
		c.logger.Warn("session registration failed, heartbeat will retry", "error", err)
	}

	layer := c.store.Load(ctx)
	c.state = StateRunning
	c.logger.Info("coordinator started",
		"base_dir", c.opts.BaseDir,
		"pid", c.opts.PID,
		"config_layer", layer.String(),
		"lock_held", c.lock.Held(),
	)
	return nil
}

// Stop halts the heartbeat loop, saves the configuration and removes the
// session record. The record is removed last so the final save still sees
// this instance as live when deciding on promotion. Stop is idempotent and
// safe to call concurrently; every caller gets the first call's result.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.stopErr = c.stop(ctx)
		close(c.stopped)
	})
	return c.stopErr
}

func (c *Coordinator) stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		c.state = StateStopped
		return nil
	}
	c.state = StateStopped

	var errs []error
	c.tracker.Halt()

	if _, err := c.store.Save(ctx); err != nil {
		c.logger.Warn("final configuration save failed", "error", err)
		errs = append(errs, err)
	}
	if c.opts.RemoveShardOnStop {
		if err := c.store.Retire(ctx); err != nil {
			c.logger.Warn("instance configuration not removed", "error", err)
			errs = append(errs, err)
		}
	}
	if err := c.tracker.Stop(ctx); err != nil {
		c.logger.Warn("session record not removed", "error", err)
		errs = append(errs, err)
	}
	c.lock.release()

	c.logger.Info("coordinator stopped")
	return errors.Join(errs...)
}

// realmSwitch is a realm change whose save and reload wait for the cooldown.
type realmSwitch struct {
	from string
	to   string
}

// ChangeRealm records that the instance moved to another logical context.
// The new realm is written to the session record at once. On a switch
// between two realms the configuration is then saved; on a first join
// nothing is saved. If enableAutoLoad is set the configuration is reloaded
// afterwards. A switch within RealmChangeCooldown of the previous one runs
// its save and reload only once the cooldown has passed, on the next
// heartbeat or ChangeRealm call.
func (c *Coordinator) ChangeRealm(ctx context.Context, realm string) error {
	if realm == "" {
		return c.Disconnect(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return ErrNotRunning
	}
	c.realmMu.Lock()
	defer c.realmMu.Unlock()

	current := c.tracker.Self().Realm
	if realm == current {
		c.applyPendingLocked(ctx)
		return nil
	}

	from := current
	if c.pending != nil {
		from = c.pending.from
	}
	if err := c.tracker.SetRealm(ctx, realm); err != nil {
		c.logger.Warn("realm not recorded", "error", err)
	}

	c.pending = &realmSwitch{from: from, to: realm}
	if !c.applyPendingLocked(ctx) {
		c.logger.Debug("realm change deferred during cooldown", "from", from, "to", realm)
	}
	return nil
}

// applyPendingRealm runs a deferred realm switch once the cooldown is over.
// It is called after every heartbeat tick.
func (c *Coordinator) applyPendingRealm(ctx context.Context) {
	c.realmMu.Lock()
	defer c.realmMu.Unlock()
	c.applyPendingLocked(ctx)
}

// applyPendingLocked reports whether no switch is left pending.
func (c *Coordinator) applyPendingLocked(ctx context.Context) bool {
	p := c.pending
	if p == nil {
		return true
	}
	now := c.opts.Clock()
	if p.from != "" && now.Sub(c.lastSwitch) <= RealmChangeCooldown {
		return false
	}
	c.pending = nil
	if p.from == p.to {
		return true
	}

	if p.from != "" {
		if _, err := c.store.Save(ctx); err != nil {
			c.logger.Warn("configuration save on realm change failed", "error", err)
		}
	}
	c.lastSwitch = now
	if c.store.GetBool(shard.KeyEnableAutoLoad, true) {
		c.store.Load(ctx)
	}
	c.logger.Info("realm changed", "from", p.from, "to", p.to)
	return true
}

// Disconnect saves the configuration and clears the realm.
func (c *Coordinator) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return ErrNotRunning
	}

	c.realmMu.Lock()
	c.pending = nil
	c.realmMu.Unlock()

	current := c.tracker.Self().Realm
	if current == "" {
		return nil
	}
	if _, err := c.store.Save(ctx); err != nil {
		c.logger.Warn("configuration save on disconnect failed", "error", err)
	}
	if err := c.tracker.SetRealm(ctx, ""); err != nil {
		c.logger.Warn("realm not cleared", "error", err)
	}
	c.logger.Info("disconnected", "realm", current)
	return nil
}
