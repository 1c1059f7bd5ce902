package coordinator

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/bapelauto/coord/internal/logging"
)

// LockFileName is the advisory lock in the base directory.
const LockFileName = ".session.lock"

// softLock is a best-effort exclusive lock on the base directory. It only
// tells an instance whether it was first; contention and errors are logged
// and never block startup.
type softLock struct {
	fl     *flock.Flock
	held   bool
	logger *logging.Logger
}

func acquireSoftLock(baseDir string, logger *logging.Logger) *softLock {
	l := &softLock{logger: logger}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		logger.Warn("session lock unavailable", "error", err)
		return l
	}

	l.fl = flock.New(filepath.Join(baseDir, LockFileName))
	locked, err := l.fl.TryLock()
	switch {
	case err != nil:
		logger.Warn("session lock unavailable", "error", err)
	case !locked:
		logger.Info("session lock held by another instance, continuing")
	default:
		l.held = true
		logger.Debug("session lock acquired", "path", l.fl.Path())
	}
	return l
}

// Held reports whether this process owns the lock.
func (l *softLock) Held() bool {
	return l != nil && l.held
}

func (l *softLock) release() {
	if l == nil || l.fl == nil {
		return
	}
	if l.held {
		if err := l.fl.Unlock(); err != nil {
			l.logger.Warn("session lock release failed", "error", err)
		}
		l.held = false
		return
	}
	_ = l.fl.Close()
}
