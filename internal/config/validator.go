package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "session.ttl")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validatePaths()...)
	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateShard()...)
	errors = append(errors, c.validateLogging()...)
	return errors
}

func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError
	path := c.Paths.BaseDir
	if path == "" {
		return nil
	}

	if strings.ContainsRune(path, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "paths.base_dir",
			Value:   path,
			Message: "path contains invalid null character",
		})
	}

	// Most filesystems cap paths around 4096 bytes
	const maxPathLength = 4096
	if len(path) > maxPathLength {
		errors = append(errors, ValidationError{
			Field:   "paths.base_dir",
			Value:   path,
			Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
		})
	}
	return errors
}

func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError

	if c.Session.TTL <= 0 {
		errors = append(errors, ValidationError{
			Field:   "session.ttl",
			Value:   c.Session.TTL,
			Message: "must be positive",
		})
	}
	if c.Session.CleanupInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "session.cleanup_interval",
			Value:   c.Session.CleanupInterval,
			Message: "must be positive",
		})
	}

	// A heartbeat slower than the TTL makes every live instance look dead
	// to the others between beats.
	if c.Session.TTL > 0 && c.Session.CleanupInterval >= c.Session.TTL {
		errors = append(errors, ValidationError{
			Field:   "session.cleanup_interval",
			Value:   c.Session.CleanupInterval,
			Message: fmt.Sprintf("must be shorter than session.ttl (%s)", c.Session.TTL),
		})
	}

	if c.Session.CleanupInterval > 0 && c.Session.CleanupInterval < 100*time.Millisecond {
		errors = append(errors, ValidationError{
			Field:   "session.cleanup_interval",
			Value:   c.Session.CleanupInterval,
			Message: "must be at least 100ms",
		})
	}
	return errors
}

func (c *Config) validateShard() []ValidationError {
	var errors []ValidationError

	if c.Shard.ReloadInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "shard.reload_interval",
			Value:   c.Shard.ReloadInterval,
			Message: "must be positive",
		})
	}

	const maxRetention = 1000
	if c.Shard.BackupRetention < 1 || c.Shard.BackupRetention > maxRetention {
		errors = append(errors, ValidationError{
			Field:   "shard.backup_retention",
			Value:   c.Shard.BackupRetention,
			Message: fmt.Sprintf("must be between 1 and %d", maxRetention),
		})
	}
	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}
	return errors
}
