package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/bapelauto/coord/internal/fsutil"
	"github.com/bapelauto/coord/internal/identity"
)

// SessionsDir is the directory name within the base directory that holds one
// record file per instance.
const SessionsDir = "sessions"

// RecordExt is the file extension of a session record.
const RecordExt = ".session"

// SnapshotFileName is the consolidated, non-authoritative registry view.
const SnapshotFileName = "session_registry.json"

// snapshotVersion is the current snapshot schema version.
const snapshotVersion = 1

// Snapshot is the JSON document written to SnapshotFileName for external
// inspection. It is never read back for coordination decisions.
type Snapshot struct {
	Version   int            `json:"version"`
	UpdatedAt int64          `json:"updated_at"`
	Sessions  []SnapshotItem `json:"sessions"`
}

// SnapshotItem is one session in a Snapshot.
type SnapshotItem struct {
	ID            string `json:"id"`
	StartTime     int64  `json:"start_time"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	PID           int    `json:"pid"`
	Realm         string `json:"realm"`
}

// Entry is one file in the sessions directory as seen by ListAll. Err is set
// (wrapping ErrCorruptRecord) when the file could not be decoded, in which
// case Record is the zero value. ID is the file name for files that are not
// named after a valid instance id.
type Entry struct {
	ID     string
	Path   string
	Record Record
	Err    error
}

// Corrupt reports whether the entry failed to decode.
func (e Entry) Corrupt() bool {
	return e.Err != nil
}

// Registry reads and writes session records under a base directory.
// Each instance writes only its own file; the registry never holds a lock
// across instances.
type Registry struct {
	fs      afero.Fs
	baseDir string
	ttl     time.Duration
	now     func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryTTL sets the heartbeat TTL used by List and IsSoleActive.
func WithRegistryTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRegistryClock overrides the time source.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a registry rooted at baseDir.
func NewRegistry(fs afero.Fs, baseDir string, opts ...RegistryOption) *Registry {
	r := &Registry{
		fs:      fs,
		baseDir: baseDir,
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TTL returns the heartbeat TTL this registry applies.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// SessionsPath returns the directory holding the record files.
func (r *Registry) SessionsPath() string {
	return filepath.Join(r.baseDir, SessionsDir)
}

// RecordPath returns the file path for the given instance.
func (r *Registry) RecordPath(id string) string {
	return filepath.Join(r.SessionsPath(), id+RecordExt)
}

// SnapshotPath returns the path of the consolidated snapshot.
func (r *Registry) SnapshotPath() string {
	return filepath.Join(r.baseDir, SnapshotFileName)
}

// Register writes the record for rec.InstanceID and refreshes the snapshot.
// A snapshot failure is not reported; the snapshot is advisory.
func (r *Registry) Register(ctx context.Context, rec Record) error {
	if err := r.write(ctx, rec); err != nil {
		return err
	}
	_ = r.RebuildSnapshot(ctx)
	return nil
}

// Heartbeat rewrites the caller's own record file only.
func (r *Registry) Heartbeat(ctx context.Context, rec Record) error {
	return r.write(ctx, rec)
}

func (r *Registry) write(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("write session record: %w", err)
	}
	path := r.RecordPath(rec.InstanceID)
	data := Encode(rec)
	err := fsutil.RetryOnce(ctx, func() error {
		return fsutil.AtomicWriteFile(r.fs, path, data, 0o644)
	})
	if err != nil {
		return fmt.Errorf("write session record %s: %w", rec.InstanceID, err)
	}
	return nil
}

// Remove deletes the record of id and refreshes the snapshot. Removing a
// record that does not exist is not an error.
func (r *Registry) Remove(ctx context.Context, id string) error {
	if !identity.Valid(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	path := r.RecordPath(id)
	err := fsutil.RetryOnce(ctx, func() error {
		return fsutil.RemoveIfExists(r.fs, path)
	})
	if err != nil {
		return fmt.Errorf("remove session record %s: %w", id, err)
	}
	_ = r.RebuildSnapshot(ctx)
	return nil
}

// Get reads and decodes the record of id.
func (r *Registry) Get(ctx context.Context, id string) (Record, error) {
	if !identity.Valid(id) {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	data, err := afero.ReadFile(r.fs, r.RecordPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("read session record %s: %w", id, err)
	}
	rec, err := Decode(data)
	if err != nil {
		return Record{}, err
	}
	if rec.InstanceID != id {
		return Record{}, fmt.Errorf("%w: file %s holds id %s", ErrCorruptRecord, id, rec.InstanceID)
	}
	return rec, nil
}

// ListAll returns every record file in the sessions directory, including
// expired and undecodable ones, sorted by file name. Record files whose name
// is not a valid instance id, and temporary files of interrupted writes older
// than the TTL, are reported as corrupt. A missing directory yields an empty
// list.
func (r *Registry) ListAll(ctx context.Context) ([]Entry, error) {
	infos, err := afero.ReadDir(r.fs, r.SessionsPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := info.Name()
		path := filepath.Join(r.SessionsPath(), name)
		if info.IsDir() {
			continue
		}
		if isLeftoverTemp(name) {
			if r.now().Sub(info.ModTime()) > r.ttl {
				err := fmt.Errorf("%w: leftover temporary file", ErrCorruptRecord)
				entries = append(entries, Entry{ID: name, Path: path, Err: err})
			}
			continue
		}
		if !strings.HasSuffix(name, RecordExt) {
			continue
		}
		id := strings.TrimSuffix(name, RecordExt)
		if !identity.Valid(id) {
			err := fmt.Errorf("%w: file name is not an instance id", ErrCorruptRecord)
			entries = append(entries, Entry{ID: name, Path: path, Err: err})
			continue
		}

		entry := Entry{ID: id, Path: path}
		entry.Record, entry.Err = r.Get(ctx, id)
		if errors.Is(entry.Err, ErrNotFound) {
			// Removed between ReadDir and the read.
			continue
		}
		if entry.Err != nil && !errors.Is(entry.Err, ErrCorruptRecord) {
			return nil, entry.Err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// isLeftoverTemp matches the temporary files fsutil.AtomicWriteFile creates
// next to a record, e.g. ".<id>.session.tmp-123".
func isLeftoverTemp(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, RecordExt+".tmp-")
}

// List re-reads every record and returns the alive ones, oldest first.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	entries, err := r.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	var alive []Record
	for _, e := range entries {
		if e.Corrupt() || !e.Record.Alive(now, r.ttl) {
			continue
		}
		alive = append(alive, e.Record)
	}
	sort.SliceStable(alive, func(i, j int) bool {
		if alive[i].StartTime.Equal(alive[j].StartTime) {
			return alive[i].InstanceID < alive[j].InstanceID
		}
		return alive[i].StartTime.Before(alive[j].StartTime)
	})
	return alive, nil
}

// IsSoleActive reports whether selfID holds the only alive record. Any
// error reading the registry yields false.
func (r *Registry) IsSoleActive(ctx context.Context, selfID string) bool {
	alive, err := r.List(ctx)
	if err != nil {
		return false
	}
	return len(alive) == 1 && alive[0].InstanceID == selfID
}

// Snapshot reads the consolidated snapshot file.
func (r *Registry) Snapshot(ctx context.Context) (Snapshot, error) {
	data, err := afero.ReadFile(r.fs, r.SnapshotPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("read registry snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parse registry snapshot: %w", err)
	}
	return snap, nil
}

// RebuildSnapshot rewrites the snapshot from the alive records.
func (r *Registry) RebuildSnapshot(ctx context.Context) error {
	alive, err := r.List(ctx)
	if err != nil {
		return err
	}
	snap := Snapshot{
		Version:   snapshotVersion,
		UpdatedAt: r.now().UnixMilli(),
		Sessions:  make([]SnapshotItem, 0, len(alive)),
	}
	for _, rec := range alive {
		snap.Sessions = append(snap.Sessions, SnapshotItem{
			ID:            rec.InstanceID,
			StartTime:     rec.StartTime.UnixMilli(),
			LastHeartbeat: rec.LastHeartbeat.UnixMilli(),
			PID:           rec.PID,
			Realm:         rec.Realm,
		})
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry snapshot: %w", err)
	}
	path := r.SnapshotPath()
	return fsutil.RetryOnce(ctx, func() error {
		return fsutil.AtomicWriteFile(r.fs, path, data, 0o644)
	})
}
