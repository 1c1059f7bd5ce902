package session

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// recordVersion tags the line format written by Encode.
const recordVersion = "v1"

// Encode serializes r as a single versioned line:
//
//	v1|<id>|<start ms>|<heartbeat ms>|<pid>|<realm>
//
// The realm is percent-escaped so it can never contain the separator or a
// newline.
func Encode(r Record) []byte {
	var b strings.Builder
	b.WriteString(recordVersion)
	b.WriteByte('|')
	b.WriteString(r.InstanceID)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(r.StartTime.UnixMilli(), 10))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(r.LastHeartbeat.UnixMilli(), 10))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(r.PID))
	b.WriteByte('|')
	b.WriteString(url.PathEscape(r.Realm))
	b.WriteByte('\n')
	return []byte(b.String())
}

// Decode parses a record written by Encode. It also accepts the legacy
// unversioned form "<id>|<start>|<heartbeat>|<pid>|<realm>". Anything else,
// including records that break the Record invariants, yields
// ErrCorruptRecord.
func Decode(data []byte) (Record, error) {
	line := strings.TrimRight(string(data), "\r\n")
	if line == "" || strings.ContainsAny(line, "\r\n") {
		return Record{}, fmt.Errorf("%w: not a single line", ErrCorruptRecord)
	}

	fields := strings.Split(line, "|")
	escaped := true
	switch {
	case fields[0] == recordVersion && len(fields) == 6:
		fields = fields[1:]
	case !strings.HasPrefix(fields[0], "v") && (len(fields) == 4 || len(fields) == 5):
		// Legacy layout; the realm was written raw and may be absent.
		escaped = false
		if len(fields) == 4 {
			fields = append(fields, "")
		}
	default:
		return Record{}, fmt.Errorf("%w: unexpected layout (%d fields)", ErrCorruptRecord, len(fields))
	}

	start, ok := parseMillis(fields[1])
	if !ok {
		return Record{}, fmt.Errorf("%w: bad start time %q", ErrCorruptRecord, fields[1])
	}
	heartbeat, ok := parseMillis(fields[2])
	if !ok {
		return Record{}, fmt.Errorf("%w: bad heartbeat %q", ErrCorruptRecord, fields[2])
	}
	pid, err := strconv.Atoi(fields[3])
	if err != nil {
		return Record{}, fmt.Errorf("%w: bad pid %q", ErrCorruptRecord, fields[3])
	}

	realm := fields[4]
	if escaped {
		if realm, err = url.PathUnescape(realm); err != nil {
			return Record{}, fmt.Errorf("%w: bad realm escape", ErrCorruptRecord)
		}
	}

	r := Record{
		InstanceID:    fields[0],
		StartTime:     start,
		LastHeartbeat: heartbeat,
		PID:           pid,
		Realm:         realm,
	}
	if err := r.Validate(); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return r, nil
}

func parseMillis(s string) (time.Time, bool) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms < 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
