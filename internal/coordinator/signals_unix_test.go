//go:build !windows

package coordinator

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestCoordinator_HandleSignals(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := newTestCoordinator(t, fs, &testClock{now: time.Now()}, "sig", 10)
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}

	done := c.HandleSignals(ctx, syscall.SIGUSR1)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop on signal")
	}
	if c.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", c.State())
	}
}
