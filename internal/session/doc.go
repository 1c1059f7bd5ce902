// Package session tracks which instances sharing a base directory are alive.
//
// Every instance owns one record file under sessions/ and refreshes its
// heartbeat periodically. Records whose heartbeat is older than the TTL are
// deleted by other instances only after the operating system confirms the
// owning process no longer exists. A consolidated session_registry.json is
// rewritten after membership changes for external inspection.
package session
