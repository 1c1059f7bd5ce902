package shard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/bapelauto/coord/internal/fsutil"
	"github.com/bapelauto/coord/internal/logging"
	"github.com/bapelauto/coord/internal/telemetry"
)

// File and directory names inside the base directory.
const (
	ShardsDir       = "shards"
	BackupsDir      = "backups"
	SharedFileName  = "bapelauto.properties"
	shardFileSuffix = ".properties"
)

// DefaultReloadInterval bounds how often getters look for external edits.
const DefaultReloadInterval = 5 * time.Second

// Layer identifies where the current configuration was loaded from.
type Layer int

const (
	LayerDefaults Layer = iota
	LayerShared
	LayerInstance
)

func (l Layer) String() string {
	switch l {
	case LayerInstance:
		return "instance"
	case LayerShared:
		return "shared"
	default:
		return "defaults"
	}
}

// Paths locates the files one Store works with.
type Paths struct {
	InstanceID string
	Instance   string
	Shared     string
	BackupDir  string
}

// PathsFor returns the standard layout under baseDir for instanceID.
func PathsFor(baseDir, instanceID string) Paths {
	return Paths{
		InstanceID: instanceID,
		Instance:   filepath.Join(baseDir, ShardsDir, instanceID+shardFileSuffix),
		Shared:     filepath.Join(baseDir, SharedFileName),
		BackupDir:  filepath.Join(baseDir, BackupsDir),
	}
}

// SoleActiveChecker reports whether an instance is the only live one.
// *session.Registry implements it.
type SoleActiveChecker interface {
	IsSoleActive(ctx context.Context, selfID string) bool
}

// SaveResult describes what a successful Save wrote.
type SaveResult struct {
	// Backup is the snapshot taken before the overwrite, if any.
	Backup string
	// Promoted is true when the shared layer was rewritten too.
	Promoted bool
}

// Store is the layered configuration of one instance. Reads are served from
// an in-memory cache resolved from exactly one layer: the instance file,
// else the shared file, else the built-in defaults.
type Store struct {
	fs             afero.Fs
	paths          Paths
	gate           SoleActiveChecker
	rotator        *Rotator
	reloadInterval time.Duration
	now            func() time.Time
	logger         *logging.Logger
	metrics        *telemetry.Metrics

	mu        sync.RWMutex
	cache     map[string]string
	layer     Layer
	loaded    bool
	lastLoad  time.Time // mtime of the instance file as last read or written
	lastCheck time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRotator sets the backup rotator. Without one, Save takes no
// snapshots.
func WithRotator(r *Rotator) StoreOption {
	return func(s *Store) {
		s.rotator = r
	}
}

// WithReloadInterval sets the minimum time between external-change checks.
func WithReloadInterval(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.reloadInterval = d
		}
	}
}

// WithStoreClock overrides the clock used to throttle reload checks.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l *logging.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStoreMetrics sets the metric instruments.
func WithStoreMetrics(m *telemetry.Metrics) StoreOption {
	return func(s *Store) {
		s.metrics = m
	}
}

// NewStore creates a store. The cache holds the defaults until Load runs.
// A nil gate never permits promotion.
func NewStore(fs afero.Fs, paths Paths, gate SoleActiveChecker, opts ...StoreOption) *Store {
	s := &Store{
		fs:             fs,
		paths:          paths,
		gate:           gate,
		reloadInterval: DefaultReloadInterval,
		now:            time.Now,
		logger:         logging.NopLogger(),
		cache:          Defaults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("shard")
	return s
}

// Paths returns the file locations of this store.
func (s *Store) Paths() Paths {
	return s.paths
}

// Layer returns the layer the cache was last resolved from.
func (s *Store) Layer() Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layer
}

// Load replaces the cache with the highest-priority layer that exists and
// parses. Layers are never merged. A corrupt file is deleted and the next
// layer is tried.
func (s *Store) Load(ctx context.Context) Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) Layer {
	s.lastCheck = s.now()
	s.loaded = true

	if values, mtime, ok := s.readLayer(ctx, s.paths.Instance); ok {
		s.cache, s.layer, s.lastLoad = values, LayerInstance, mtime
		s.logger.Debug("loaded instance configuration", "path", s.paths.Instance)
		return s.layer
	}
	s.lastLoad = time.Time{}

	if values, _, ok := s.readLayer(ctx, s.paths.Shared); ok {
		s.cache, s.layer = values, LayerShared
		s.logger.Debug("loaded shared configuration", "path", s.paths.Shared)
		return s.layer
	}

	s.cache, s.layer = Defaults(), LayerDefaults
	s.logger.Debug("loaded default configuration")
	return s.layer
}

// readLayer returns the parsed contents of path. Missing or unreadable
// files yield ok=false; unparseable files are deleted first.
func (s *Store) readLayer(ctx context.Context, path string) (map[string]string, time.Time, bool) {
	info, err := s.fs.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("configuration file not readable", "path", path, "error", err)
		}
		return nil, time.Time{}, false
	}
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		s.logger.Warn("configuration file not readable", "path", path, "error", err)
		return nil, time.Time{}, false
	}

	values, err := decode(data)
	if err != nil {
		rmErr := fsutil.RetryOnce(ctx, func() error {
			return fsutil.RemoveIfExists(s.fs, path)
		})
		s.logger.Info("configuration reset because the file was corrupted",
			"path", path,
			"error", err,
			"removed", rmErr == nil,
		)
		return nil, time.Time{}, false
	}
	return values, info.ModTime(), true
}

// maybeReload reloads the cache when the instance file changed on disk
// since it was last read or written. Checks run at most once per reload
// interval, and never before the first Load.
func (s *Store) maybeReload(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	if !s.loaded || now.Sub(s.lastCheck) <= s.reloadInterval {
		s.mu.Unlock()
		return
	}
	s.lastCheck = now
	lastLoad := s.lastLoad
	s.mu.Unlock()

	info, err := s.fs.Stat(s.paths.Instance)
	if err != nil || !info.ModTime().After(lastLoad) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !info.ModTime().After(s.lastLoad) {
		// Reloaded or saved concurrently.
		return
	}
	s.logger.Info("detected external configuration change, reloading", "path", s.paths.Instance)
	s.loadLocked(ctx)
}

func (s *Store) lookup(key string) (string, bool) {
	s.maybeReload(context.Background())
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.cache[key]
	return v, ok
}

// GetString returns the value of key, or def if unset.
func (s *Store) GetString(key, def string) string {
	if v, ok := s.lookup(key); ok {
		return v
	}
	return def
}

// GetBool returns key as a boolean. Only "true" and "false" (any case)
// are recognized; anything else yields def.
func (s *Store) GetBool(key string, def bool) bool {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	b, ok := parseBool(v)
	if !ok {
		return def
	}
	return b
}

// GetInt64 returns key as a base-10 integer, or def if unset or malformed.
func (s *Store) GetInt64(key string, def int64) int64 {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	n, ok := parseInt64(v)
	if !ok {
		return def
	}
	return n
}

// GetInt returns key as a base-10 int, or def if unset or malformed.
func (s *Store) GetInt(key string, def int) int {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	n, ok := parseInt(v)
	if !ok {
		return def
	}
	return n
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func parseInt64(v string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	return n, err == nil
}

func parseInt(v string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	return n, err == nil
}

// Set stores value under key in the cache. Nothing is written until Save.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = value
}

// SetBool stores a boolean.
func (s *Store) SetBool(key string, value bool) {
	s.Set(key, strconv.FormatBool(value))
}

// SetInt64 stores an integer.
func (s *Store) SetInt64(key string, value int64) {
	s.Set(key, strconv.FormatInt(value, 10))
}

// SetInt stores an integer.
func (s *Store) SetInt(key string, value int) {
	s.Set(key, strconv.Itoa(value))
}

// All returns a copy of the cache.
func (s *Store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.cache))
	for k, v := range s.cache {
		out[k] = v
	}
	return out
}

// Save persists the cache. An existing instance file is snapshotted first
// and a failed snapshot aborts the save. The instance file is then
// rewritten atomically, and if this instance is the only live one the
// shared file is rewritten with the same content.
func (s *Store) Save(ctx context.Context) (SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.saveLocked(ctx)
	s.metrics.RecordSave(ctx, err)
	return res, err
}

func (s *Store) saveLocked(ctx context.Context) (SaveResult, error) {
	var res SaveResult

	if s.rotator != nil {
		exists, err := fsutil.Exists(s.fs, s.paths.Instance)
		if err != nil {
			return res, fmt.Errorf("stat instance configuration: %w", err)
		}
		if exists {
			backup, err := s.rotator.Snapshot(ctx, s.paths.InstanceID, s.paths.Instance)
			s.metrics.RecordBackup(ctx, err)
			if err != nil {
				s.logger.Warn("save skipped, backup failed", "error", err)
				return res, err
			}
			res.Backup = backup
		}
	}

	data, err := encode(s.cache, "bapelauto instance configuration - session: "+s.paths.InstanceID)
	if err != nil {
		return res, fmt.Errorf("encode configuration: %w", err)
	}
	err = fsutil.RetryOnce(ctx, func() error {
		return fsutil.AtomicWriteFile(s.fs, s.paths.Instance, data, 0o644)
	})
	if err != nil {
		return res, fmt.Errorf("write instance configuration: %w", err)
	}
	if info, err := s.fs.Stat(s.paths.Instance); err == nil {
		s.lastLoad = info.ModTime()
	}
	s.layer, s.loaded = LayerInstance, true
	s.logger.Debug("saved instance configuration", "path", s.paths.Instance)

	if s.gate != nil && s.gate.IsSoleActive(ctx, s.paths.InstanceID) {
		if err := s.writeSharedLocked(ctx); err != nil {
			s.logger.Warn("shared configuration not updated", "error", err)
		} else {
			res.Promoted = true
		}
	}
	return res, nil
}

func (s *Store) writeSharedLocked(ctx context.Context) error {
	if err := WriteFile(ctx, s.fs, s.paths.Shared, s.cache, "bapelauto shared configuration"); err != nil {
		return fmt.Errorf("write shared configuration: %w", err)
	}
	s.metrics.RecordPromotion(ctx)
	s.logger.Info("updated shared configuration", "path", s.paths.Shared)
	return nil
}

// ImportFromShared merges the shared file over the cache and saves. It is a
// no-op when the shared file does not exist.
func (s *Store) ImportFromShared(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, _, ok := s.readLayer(ctx, s.paths.Shared)
	if !ok {
		return nil
	}
	for k, v := range values {
		s.cache[k] = v
	}
	_, err := s.saveLocked(ctx)
	s.metrics.RecordSave(ctx, err)
	if err != nil {
		return err
	}
	s.logger.Info("imported shared configuration")
	return nil
}

// ExportToShared writes the cache to the shared file unconditionally.
func (s *Store) ExportToShared(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writeSharedLocked(ctx)
}

// ResetToDefaults replaces the cache with the defaults and saves.
func (s *Store) ResetToDefaults(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = Defaults()
	_, err := s.saveLocked(ctx)
	s.metrics.RecordSave(ctx, err)
	return err
}

// Retire removes the instance file at shutdown. A final snapshot is taken
// first so the configuration stays recoverable, and if this instance is the
// only live one the cache is promoted to the shared layer.
func (s *Store) Retire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := fsutil.Exists(s.fs, s.paths.Instance)
	if err != nil {
		return fmt.Errorf("stat instance configuration: %w", err)
	}
	if !exists {
		return nil
	}
	if s.rotator != nil {
		_, err := s.rotator.Snapshot(ctx, s.paths.InstanceID, s.paths.Instance)
		s.metrics.RecordBackup(ctx, err)
		if err != nil {
			return err
		}
	}
	if err := fsutil.RemoveIfExists(s.fs, s.paths.Instance); err != nil {
		return fmt.Errorf("remove instance configuration: %w", err)
	}
	s.lastLoad = time.Time{}
	s.logger.Info("removed instance configuration", "path", s.paths.Instance)

	if s.gate != nil && s.gate.IsSoleActive(ctx, s.paths.InstanceID) {
		if err := s.writeSharedLocked(ctx); err != nil {
			s.logger.Warn("shared configuration not updated", "error", err)
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
