package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingWriter_RotatesAtSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	rw, err := newRotatingWriter(path, 100, 2, false)
	if err != nil {
		t.Fatalf("newRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	line := []byte(strings.Repeat("x", 59) + "\n")
	for i := 0; i < 5; i++ {
		if _, err := rw.Write(line); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	for _, name := range []string{"app.log", "app.log.1", "app.log.2"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s should exist: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "app.log.3")); !os.IsNotExist(err) {
		t.Error("app.log.3 should not exist with MaxBackups=2")
	}
	if rw.Size() != int64(len(line)) {
		t.Errorf("Size() = %d, want %d", rw.Size(), len(line))
	}
}

func TestRotatingWriter_NoBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	rw, err := newRotatingWriter(path, 10, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	defer rw.Close()

	_, _ = rw.Write([]byte("0123456789"))
	_, _ = rw.Write([]byte("abc"))

	data, _ := os.ReadFile(path)
	if string(data) != "abc" {
		t.Errorf("live file = %q, want %q", data, "abc")
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("no backup should be kept")
	}
}

func TestRotatingWriter_Compress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	rw, err := newRotatingWriter(path, 10, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = rw.Write([]byte("0123456789"))
	_, _ = rw.Write([]byte("next"))
	_ = rw.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path + ".1.gz"); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("compressed backup app.log.1.gz was not created")
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "app.log"), DefaultRotationConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := rw.Write([]byte("late")); err == nil {
		t.Error("Write after Close should fail")
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestDefaultRotationConfig(t *testing.T) {
	cfg := DefaultRotationConfig()
	if cfg.MaxSizeMB != 10 || cfg.MaxBackups != 3 || cfg.Compress {
		t.Errorf("DefaultRotationConfig() = %+v", cfg)
	}
}
