// Package identity allocates the per-process instance identifier used as the
// filename stem for every per-instance artifact (session record, shard config,
// backups, log file).
package identity

import (
	"encoding/hex"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// validID restricts identifiers to characters that are safe in filenames on
// every platform and cannot express a path.
var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// NewInstanceID returns "<unix millis>-<32 hex chars>". The millisecond prefix
// keeps identifiers roughly sortable by start time; the suffix carries 16
// random bytes so concurrently started instances never collide.
func NewInstanceID() string {
	return newInstanceID(time.Now())
}

func newInstanceID(now time.Time) string {
	u := uuid.New()
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + hex.EncodeToString(u[:])
}

// Valid reports whether id is usable as a filename stem.
func Valid(id string) bool {
	return validID.MatchString(id)
}
