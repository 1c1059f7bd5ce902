package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bapelauto/coord/internal/config"
	"github.com/bapelauto/coord/internal/coordinator"
	"github.com/bapelauto/coord/internal/identity"
	"github.com/bapelauto/coord/internal/logging"
	"github.com/bapelauto/coord/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a coordinated instance until interrupted",
	Long: `Run starts one coordinated instance: it reclaims sessions left behind by
crashed processes, registers its own session, loads its configuration and
heartbeats until it receives SIGINT or SIGTERM. On shutdown it saves its
configuration, promotes it to the shared layer if no other instance is
alive, and removes its session record.

Logs go to <base-dir>/logs/<instance-id>.log.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runRealm    string
	runDuration time.Duration
)

func init() {
	runCmd.Flags().StringVar(&runRealm, "realm", "", "join this realm after starting")
	runCmd.Flags().DurationVar(&runDuration, "duration", 0, "stop after this long (0 runs until signalled)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	out := cmd.OutOrStdout()
	instanceID := identity.NewInstanceID()

	logger := newInstanceLogger(cfg, instanceID, cmd.ErrOrStderr())
	defer func() { _ = logger.Close() }()

	var provider *telemetry.Provider
	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		provider = telemetry.NewProvider()
		if metrics, err = telemetry.NewMetrics(provider); err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	coord, err := coordinator.New(coordinator.Options{
		BaseDir:           cfg.Paths.ResolveBaseDir(),
		InstanceID:        instanceID,
		TTL:               cfg.Session.TTL,
		CleanupInterval:   cfg.Session.CleanupInterval,
		ReloadInterval:    cfg.Shard.ReloadInterval,
		BackupRetention:   cfg.Shard.BackupRetention,
		RemoveShardOnStop: cfg.Session.RemoveShardOnStop,
		Logger:            logger,
		Metrics:           metrics,
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if runDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runDuration)
		defer cancel()
	}

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	done := coord.HandleSignals(ctx)

	if runRealm != "" {
		if err := coord.ChangeRealm(ctx, runRealm); err != nil {
			logger.Warn("could not join realm", "realm", runRealm, "error", err)
		}
	}

	fmt.Fprintf(out, "Instance %s running in %s\n", instanceID, cfg.Paths.ResolveBaseDir())
	fmt.Fprintln(out, "Press Ctrl+C to stop.")
	<-done
	fmt.Fprintf(out, "Instance %s stopped\n", instanceID)

	if provider != nil {
		// The run context may already be done; the summary reads local state only.
		summaryCtx := context.WithoutCancel(ctx)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Metrics:")
		if err := provider.WriteSummary(summaryCtx, out); err != nil {
			return err
		}
		_ = provider.Shutdown(summaryCtx)
	}
	return nil
}

// newInstanceLogger opens the per-instance log file. If the file cannot be
// opened the logger falls back to errOut so the instance still runs.
func newInstanceLogger(cfg *config.Config, instanceID string, errOut io.Writer) *logging.Logger {
	path := filepath.Join(cfg.LogDir(), instanceID+".log")
	rotation := logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	}
	logger, err := logging.NewFileLogger(path, cfg.Logging.Level, rotation)
	if err != nil {
		fmt.Fprintf(errOut, "Warning: logging to stderr: %v\n", err)
		return logging.New(errOut, cfg.Logging.Level)
	}
	return logger
}
