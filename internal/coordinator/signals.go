package coordinator

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// HandleSignals stops the coordinator when one of sigs arrives (SIGINT and
// SIGTERM when none are given) or when ctx is cancelled. It returns a
// channel that is closed once Stop has completed, whoever called it.
func (c *Coordinator) HandleSignals(ctx context.Context, sigs ...os.Signal) <-chan struct{} {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer signal.Stop(ch)

		select {
		case sig := <-ch:
			c.logger.Info("received signal, shutting down", "signal", sig.String())
		case <-ctx.Done():
		case <-c.stopped:
			return
		}
		if err := c.Stop(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("shutdown incomplete", "error", err)
		}
	}()
	return done
}
