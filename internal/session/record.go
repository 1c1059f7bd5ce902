package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/bapelauto/coord/internal/identity"
)

// DefaultTTL is how old a heartbeat may get before a record stops counting
// as alive.
const DefaultTTL = 30 * time.Second

// DefaultCleanupInterval is the period of the heartbeat/reclaim loop.
const DefaultCleanupInterval = 5 * time.Second

// Sentinel errors returned by registry operations.
var (
	// ErrNotFound is returned when an instance has no session record.
	ErrNotFound = errors.New("session record not found")

	// ErrCorruptRecord is returned when a session file cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt session record")

	// ErrInvalidID is returned for identifiers that are not safe filename stems.
	ErrInvalidID = errors.New("invalid instance id")
)

// Record is the liveness record of one running (or recently running)
// instance. It is written only by its owner; other instances read it and,
// under the reclaim rule, delete it.
type Record struct {
	InstanceID    string
	StartTime     time.Time
	LastHeartbeat time.Time
	PID           int
	// Realm is the last logical context (world/server) the instance was
	// connected to. Empty when disconnected.
	Realm string
}

// NewRecord creates the initial record for an instance starting at now.
func NewRecord(instanceID string, pid int, now time.Time) Record {
	now = now.Truncate(time.Millisecond)
	return Record{
		InstanceID:    instanceID,
		StartTime:     now,
		LastHeartbeat: now,
		PID:           pid,
	}
}

// Alive reports whether the heartbeat is at most ttl old at now.
func (r Record) Alive(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.LastHeartbeat) <= ttl
}

// Age returns how long ago the last heartbeat was written.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(r.LastHeartbeat)
}

// Validate checks the record invariants.
func (r Record) Validate() error {
	if !identity.Valid(r.InstanceID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, r.InstanceID)
	}
	if r.PID <= 0 {
		return fmt.Errorf("invalid pid %d", r.PID)
	}
	if r.LastHeartbeat.Before(r.StartTime) {
		return errors.New("last heartbeat precedes start time")
	}
	return nil
}

func (r Record) String() string {
	return fmt.Sprintf("Session[id=%s, pid=%d, realm=%q]", r.InstanceID, r.PID, r.Realm)
}
