package coordinator

import (
	"context"

	"github.com/bapelauto/coord/internal/session"
)

// CoordinationContext is the handle collaborators use to read and write
// configuration and to query the session set. It is created once per
// Coordinator and passed explicitly; there is no package-level instance.
type CoordinationContext struct {
	c *Coordinator
}

// SessionID returns this instance's identifier.
func (h *CoordinationContext) SessionID() string {
	return h.c.id
}

// Realm returns the realm this instance is currently attached to.
func (h *CoordinationContext) Realm() string {
	return h.c.tracker.Self().Realm
}

// GetString returns the resolved value of key, or def when it is unset.
func (h *CoordinationContext) GetString(key, def string) string {
	return h.c.store.GetString(key, def)
}

// GetBoolean returns key as a bool; anything but "true" or "false" yields
// def.
func (h *CoordinationContext) GetBoolean(key string, def bool) bool {
	return h.c.store.GetBool(key, def)
}

// GetLong returns key parsed as an int64, or def.
func (h *CoordinationContext) GetLong(key string, def int64) int64 {
	return h.c.store.GetInt64(key, def)
}

// GetInt returns key parsed as an int, or def.
func (h *CoordinationContext) GetInt(key string, def int) int {
	return h.c.store.GetInt(key, def)
}

// Set changes key in memory. Nothing is written until SaveConfig or the
// next save triggered by a realm change or Stop.
func (h *CoordinationContext) Set(key, value string) {
	h.c.store.Set(key, value)
}

// SetBoolean stores value as "true" or "false".
func (h *CoordinationContext) SetBoolean(key string, value bool) {
	h.c.store.SetBool(key, value)
}

// SetLong stores value in decimal.
func (h *CoordinationContext) SetLong(key string, value int64) {
	h.c.store.SetInt64(key, value)
}

// SetInt stores value in decimal.
func (h *CoordinationContext) SetInt(key string, value int) {
	h.c.store.SetInt(key, value)
}

// All returns a copy of the resolved configuration.
func (h *CoordinationContext) All() map[string]string {
	return h.c.store.All()
}

// SaveConfig persists the configuration, promoting it to the shared layer
// when this is the only live instance.
func (h *CoordinationContext) SaveConfig(ctx context.Context) error {
	_, err := h.c.store.Save(ctx)
	return err
}

// LoadConfig re-resolves the configuration from disk.
func (h *CoordinationContext) LoadConfig(ctx context.Context) {
	h.c.store.Load(ctx)
}

// ResetToDefaults replaces the configuration with the built-in defaults
// and saves.
func (h *CoordinationContext) ResetToDefaults(ctx context.Context) error {
	return h.c.store.ResetToDefaults(ctx)
}

// ImportFromGlobal merges the shared layer over the configuration and
// saves. Without a shared file it does nothing.
func (h *CoordinationContext) ImportFromGlobal(ctx context.Context) error {
	return h.c.store.ImportFromShared(ctx)
}

// ExportToGlobal writes the configuration to the shared layer even when
// other instances are alive.
func (h *CoordinationContext) ExportToGlobal(ctx context.Context) error {
	return h.c.store.ExportToShared(ctx)
}

// ListActiveSessions returns the live sessions, oldest first.
func (h *CoordinationContext) ListActiveSessions(ctx context.Context) ([]session.Record, error) {
	return h.c.registry.List(ctx)
}

// IsOnlyActiveSession reports whether no other instance is alive.
func (h *CoordinationContext) IsOnlyActiveSession(ctx context.Context) bool {
	return h.c.registry.IsSoleActive(ctx, h.c.id)
}
