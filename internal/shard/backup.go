package shard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"

	"github.com/bapelauto/coord/internal/fsutil"
	"github.com/bapelauto/coord/internal/logging"
)

// DefaultRetention is the number of snapshots kept per instance.
const DefaultRetention = 10

// BackupExt is the extension of snapshot files.
const BackupExt = ".properties"

// timestampWidth is the zero-padded width of the nanosecond timestamp in a
// snapshot name, wide enough for any int64.
const timestampWidth = 20

// ErrBackupFailed is returned when a snapshot could not be written.
var ErrBackupFailed = errors.New("configuration backup failed")

// Rotator copies instance files into timestamped snapshots and prunes old
// ones. Snapshot names sort lexically in creation order.
type Rotator struct {
	fs     afero.Fs
	dir    string
	retain int
	now    func() time.Time
	logger *logging.Logger

	mu   sync.Mutex
	last int64
}

// RotatorOption configures a Rotator.
type RotatorOption func(*Rotator)

// WithRotatorClock overrides the time source used for snapshot names.
func WithRotatorClock(now func() time.Time) RotatorOption {
	return func(r *Rotator) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRotatorLogger sets the logger.
func WithRotatorLogger(l *logging.Logger) RotatorOption {
	return func(r *Rotator) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRotator creates a rotator writing into dir and keeping retain snapshots
// per instance. A retain of zero or less keeps one.
func NewRotator(fs afero.Fs, dir string, retain int, opts ...RotatorOption) *Rotator {
	if retain <= 0 {
		retain = 1
	}
	r := &Rotator{
		fs:     fs,
		dir:    dir,
		retain: retain,
		now:    time.Now,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dir returns the backup directory.
func (r *Rotator) Dir() string {
	return r.dir
}

// Retain returns the number of snapshots kept per instance.
func (r *Rotator) Retain() int {
	return r.retain
}

// nextStamp returns a timestamp strictly greater than any issued before by
// this rotator, so two snapshots within one clock tick still get distinct,
// ordered names.
func (r *Rotator) nextStamp() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.now().UnixNano()
	if ts <= r.last {
		ts = r.last + 1
	}
	r.last = ts
	return ts
}

// Snapshot copies src to <dir>/<instanceID>_<timestamp>.properties and then
// prunes old snapshots. It returns the snapshot path. A failed copy is
// reported as ErrBackupFailed; a failed prune is only logged.
func (r *Rotator) Snapshot(ctx context.Context, instanceID, src string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%0*d%s", instanceID, timestampWidth, r.nextStamp(), BackupExt)
	dst := filepath.Join(r.dir, name)

	if err := fsutil.CopyFile(r.fs, src, dst); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrBackupFailed, src, err)
	}
	r.logger.Debug("configuration backed up", "backup", dst)

	if _, err := r.Prune(ctx, instanceID); err != nil {
		r.logger.Warn("backup prune failed", "instance_id", instanceID, "error", err)
	}
	return dst, nil
}

func (r *Rotator) matcher(instanceID string) (glob.Glob, error) {
	pattern := glob.QuoteMeta(instanceID+"_") + strings.Repeat("[0-9]", timestampWidth) + glob.QuoteMeta(BackupExt)
	return glob.Compile(pattern)
}

// List returns the snapshot names of instanceID, oldest first.
func (r *Rotator) List(ctx context.Context, instanceID string) ([]string, error) {
	g, err := r.matcher(instanceID)
	if err != nil {
		return nil, fmt.Errorf("backup pattern for %s: %w", instanceID, err)
	}
	infos, err := afero.ReadDir(r.fs, r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var names []string
	for _, info := range infos {
		if info.IsDir() || !g.Match(info.Name()) {
			continue
		}
		names = append(names, info.Name())
	}
	sort.Strings(names)
	return names, ctx.Err()
}

// Prune deletes all but the newest retain snapshots of instanceID and
// returns the deleted paths. Only files matching the snapshot naming scheme
// inside the backup directory are considered.
func (r *Rotator) Prune(ctx context.Context, instanceID string) ([]string, error) {
	names, err := r.List(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if len(names) <= r.retain {
		return nil, nil
	}

	var removed []string
	var errs []error
	for _, name := range names[:len(names)-r.retain] {
		path := filepath.Join(r.dir, name)
		if err := fsutil.RemoveIfExists(r.fs, path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}
