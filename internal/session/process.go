package session

// Liveness is the outcome of probing an operating-system process.
type Liveness int

const (
	// LivenessUnknown means the probe could not decide, for example because
	// the process belongs to another user. Records are never reclaimed on it.
	LivenessUnknown Liveness = iota
	// LivenessAlive means the process exists.
	LivenessAlive
	// LivenessDead means the operating system reported no such process.
	LivenessDead
)

func (l Liveness) String() string {
	switch l {
	case LivenessAlive:
		return "alive"
	case LivenessDead:
		return "dead"
	default:
		return "unknown"
	}
}

// ProcessChecker probes whether a PID refers to a running process.
type ProcessChecker interface {
	Alive(pid int) Liveness
}

// ProcessCheckerFunc adapts a function to ProcessChecker.
type ProcessCheckerFunc func(pid int) Liveness

// Alive calls f(pid).
func (f ProcessCheckerFunc) Alive(pid int) Liveness {
	return f(pid)
}

// OSProcessChecker returns the checker for the current platform.
func OSProcessChecker() ProcessChecker {
	return ProcessCheckerFunc(probeProcess)
}
