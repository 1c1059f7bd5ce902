// Package logging provides structured logging for bapelauto instances.
//
// It wraps log/slog with a JSON handler. Every coordinating instance gets a
// child logger carrying its instance_id, and components add their own name so
// that the interleaved output of several instances sharing one configuration
// directory can be told apart afterwards:
//
//	logger, err := logging.NewFileLogger(path, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	log := logger.WithInstance(id).WithComponent("tracker")
//	log.Warn("heartbeat write failed", "error", err)
//
// Output:
//
//	{"time":"...","level":"WARN","msg":"heartbeat write failed","instance_id":"...","component":"tracker","error":"..."}
//
// File loggers write through a [RotatingWriter], which rotates by size into
// numbered backups (app.log.1 is the newest) and can gzip rotated files.
//
// Use [NopLogger] in tests.
package logging
