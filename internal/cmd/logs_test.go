package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const sampleLog = `{"time":"2026-01-02T10:00:00Z","level":"DEBUG","msg":"session lock acquired","instance_id":"a"}
{"time":"2026-01-02T10:00:01Z","level":"INFO","msg":"coordinator started","instance_id":"a","pid":42}
{"time":"2026-01-02T10:00:02Z","level":"INFO","msg":"reclaimed expired session","instance_id":"a","component":"tracker","session_id":"b"}
not json at all
{"time":"2026-01-02T10:00:03Z","level":"WARN","msg":"shared configuration not updated","instance_id":"a","error":"disk full"}
`

func writeLog(t *testing.T, dir, id, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, id+".log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLogEntry_UnmarshalExtra(t *testing.T) {
	line, ok := formatLogLine(`{"time":"2026-01-02T10:00:00Z","level":"INFO","msg":"m","instance_id":"x","component":"store","path":"/p"}`, logFilter{minLevel: -1})
	if !ok {
		t.Fatal("line filtered out")
	}
	if !strings.Contains(line, "component=store") {
		t.Errorf("line = %q, missing component", line)
	}
	if !strings.Contains(line, "path=") || !strings.Contains(line, "/p") {
		t.Errorf("line = %q, missing extra field", line)
	}
	if strings.Contains(line, "instance_id") {
		t.Errorf("line = %q, want instance id omitted", line)
	}
}

func TestDisplayLogs_Filters(t *testing.T) {
	path := writeLog(t, t.TempDir(), "a", sampleLog)
	now := time.Date(2026, 1, 2, 10, 0, 3, 0, time.UTC)

	tests := []struct {
		name    string
		level   string
		since   time.Duration
		grep    string
		tail    int
		want    []string
		notWant []string
	}{
		{
			name: "all",
			want: []string{"session lock acquired", "coordinator started", "not json at all", "disk full"},
		},
		{
			name:    "level warn",
			level:   "warn",
			want:    []string{"shared configuration not updated", "not json at all"},
			notWant: []string{"coordinator started"},
		},
		{
			name:    "since",
			since:   1500 * time.Millisecond,
			want:    []string{"reclaimed expired session"},
			notWant: []string{"coordinator started"},
		},
		{
			name:    "grep extra field",
			grep:    "disk",
			want:    []string{"disk full"},
			notWant: []string{"coordinator started"},
		},
		{
			name:    "tail",
			tail:    1,
			want:    []string{"shared configuration not updated"},
			notWant: []string{"not json at all"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := newLogFilter(tt.level, tt.since, tt.grep, now)
			if err != nil {
				t.Fatalf("newLogFilter() error = %v", err)
			}
			var buf bytes.Buffer
			if err := displayLogs(&buf, path, tt.tail, f); err != nil {
				t.Fatalf("displayLogs() error = %v", err)
			}
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(out, nw) {
					t.Errorf("output contains %q:\n%s", nw, out)
				}
			}
		})
	}
}

func TestNewLogFilter_BadPattern(t *testing.T) {
	if _, err := newLogFilter("", 0, "(", time.Now()); err == nil {
		t.Error("newLogFilter with invalid regex succeeded, want error")
	}
}

func TestFollowLogs(t *testing.T) {
	path := writeLog(t, t.TempDir(), "a", sampleLog)
	ctx, cancel := context.WithCancel(context.Background())

	var buf syncBuffer
	done := make(chan error, 1)
	go func() { done <- followLogs(ctx, &buf, path, logFilter{minLevel: -1}) }()

	// Wait for the reader to reach the end before appending.
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(buf.String(), "Following logs") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString(`{"time":"2026-01-02T10:00:09Z","level":"INFO","msg":"realm changed"}` + "\n")
	_ = f.Close()

	for !strings.Contains(buf.String(), "realm changed") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("followLogs() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "realm changed") {
		t.Errorf("appended entry not printed:\n%s", out)
	}
	if strings.Contains(out, "coordinator started") {
		t.Errorf("existing entries printed in follow mode:\n%s", out)
	}
}

func TestLogsCommand(t *testing.T) {
	base := t.TempDir()
	logDir := filepath.Join(base, "logs")

	output, err := runIn(t, base, "logs")
	if err != nil {
		t.Fatalf("logs error = %v", err)
	}
	if !strings.Contains(output, "No logs found.") {
		t.Errorf("output = %q, want no logs message", output)
	}

	old := writeLog(t, logDir, "older", `{"time":"2026-01-02T09:00:00Z","level":"INFO","msg":"from older"}`+"\n")
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}
	writeLog(t, logDir, "newer", `{"time":"2026-01-02T10:00:00Z","level":"INFO","msg":"from newer"}`+"\n")

	output, err = runIn(t, base, "logs")
	if err != nil {
		t.Fatalf("logs error = %v", err)
	}
	if !strings.Contains(output, "from newer") || strings.Contains(output, "from older") {
		t.Errorf("default log is not the most recent one:\n%s", output)
	}

	output, err = runIn(t, base, "logs", "older")
	if err != nil {
		t.Fatalf("logs older error = %v", err)
	}
	if !strings.Contains(output, "from older") {
		t.Errorf("output missing entry of the named instance:\n%s", output)
	}

	if _, err := runIn(t, base, "logs", "../etc"); err == nil {
		t.Error("logs with a path-like id succeeded, want error")
	}
}
