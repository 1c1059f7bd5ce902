package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bapelauto/coord/internal/config"
	"github.com/bapelauto/coord/internal/logging"
	"github.com/bapelauto/coord/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and clean up session records",
	RunE:  runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live sessions",
	Long: `List the sessions whose heartbeat is within the TTL.

With --all, expired and unreadable records are listed as well.`,
	Args: cobra.NoArgs,
	RunE: runSessionsList,
}

var sessionsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Reclaim sessions left behind by crashed processes",
	Long: `Clean runs one reclaim pass without registering a session of its own.

An expired record is removed only when its process is confirmed gone.
Unreadable records are always removed.`,
	Args: cobra.NoArgs,
	RunE: runSessionsClean,
}

var sessionsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the session list whenever it changes",
	Args:  cobra.NoArgs,
	RunE:  runSessionsWatch,
}

var (
	sessionsOutput string
	sessionsAll    bool
)

// Output formats for sessions list.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// Session status values shown by sessions list --all.
const (
	statusAlive   = "alive"
	statusExpired = "expired"
	statusCorrupt = "corrupt"
)

func init() {
	for _, c := range []*cobra.Command{sessionsCmd, sessionsListCmd, sessionsWatchCmd} {
		c.Flags().StringVarP(&sessionsOutput, "output", "o", formatTable, "output format: table, json or yaml")
		c.Flags().BoolVarP(&sessionsAll, "all", "a", false, "include expired and unreadable records")
	}

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsCleanCmd)
	sessionsCmd.AddCommand(sessionsWatchCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// sessionView is one row of sessions list output.
type sessionView struct {
	ID            string    `json:"id" yaml:"id"`
	PID           int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	Realm         string    `json:"realm,omitempty" yaml:"realm,omitempty"`
	Status        string    `json:"status" yaml:"status"`
	StartTime     time.Time `json:"start_time,omitzero" yaml:"start_time,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitzero" yaml:"last_heartbeat,omitempty"`
	Error         string    `json:"error,omitempty" yaml:"error,omitempty"`
}

func newRegistry(cfg *config.Config) *session.Registry {
	return session.NewRegistry(afero.NewOsFs(), cfg.Paths.ResolveBaseDir(),
		session.WithRegistryTTL(cfg.Session.TTL),
	)
}

func validateFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (valid: %s, %s, %s)", format, formatTable, formatJSON, formatYAML)
	}
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	if err := validateFormat(sessionsOutput); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	views, err := collectSessions(cmd.Context(), newRegistry(cfg), sessionsAll, time.Now())
	if err != nil {
		return err
	}
	return writeSessions(cmd.OutOrStdout(), views, sessionsOutput, time.Now())
}

// collectSessions reads the registry. Without all, only live records are
// returned, oldest first.
func collectSessions(ctx context.Context, reg *session.Registry, all bool, now time.Time) ([]sessionView, error) {
	if !all {
		records, err := reg.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		views := make([]sessionView, 0, len(records))
		for _, r := range records {
			views = append(views, recordView(r, statusAlive))
		}
		return views, nil
	}

	entries, err := reg.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	views := make([]sessionView, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.Corrupt():
			views = append(views, sessionView{ID: e.ID, Status: statusCorrupt, Error: e.Err.Error()})
		case e.Record.Alive(now, reg.TTL()):
			views = append(views, recordView(e.Record, statusAlive))
		default:
			views = append(views, recordView(e.Record, statusExpired))
		}
	}
	return views, nil
}

func recordView(r session.Record, status string) sessionView {
	return sessionView{
		ID:            r.InstanceID,
		PID:           r.PID,
		Realm:         r.Realm,
		Status:        status,
		StartTime:     r.StartTime,
		LastHeartbeat: r.LastHeartbeat,
	}
}

func writeSessions(w io.Writer, views []sessionView, format string, now time.Time) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(views); err != nil {
			return err
		}
		return enc.Close()
	}

	if len(views) == 0 {
		_, err := fmt.Fprintln(w, "No active sessions.")
		return err
	}
	_, err := fmt.Fprintln(w, sessionsTable(views, now))
	return err
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	deadStyle   = cellStyle.Foreground(lipgloss.Color("241"))
)

func sessionsTable(views []sessionView, now time.Time) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "PID", "REALM", "STATUS", "STARTED", "HEARTBEAT").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row >= 0 && row < len(views) && views[row].Status != statusAlive {
				return deadStyle
			}
			return cellStyle
		})

	for _, v := range views {
		pid, started, heartbeat := "-", "-", "-"
		if v.Status != statusCorrupt {
			pid = strconv.Itoa(v.PID)
			started = v.StartTime.Local().Format(time.DateTime)
			heartbeat = formatAgo(now.Sub(v.LastHeartbeat))
		}
		realm := v.Realm
		if realm == "" {
			realm = "-"
		}
		t.Row(v.ID, pid, realm, v.Status, started, heartbeat)
	}
	return t.String()
}

// formatAgo renders d rounded to the second, e.g. "3s ago".
func formatAgo(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String() + " ago"
}

func runSessionsClean(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := logging.NewStderrLogger(cfg.Logging.Level).WithComponent("clean")

	reaper := session.NewReaper(newRegistry(cfg), session.WithLogger(logger))
	res, err := reaper.Reap(cmd.Context(), "")
	if err != nil {
		return fmt.Errorf("failed to scan sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Reclaimed %d expired session(s)\n", len(res.Reclaimed))
	for _, id := range res.Reclaimed {
		fmt.Fprintf(out, "  - %s\n", id)
	}
	fmt.Fprintf(out, "Removed %d unreadable record(s)\n", len(res.Corrupt))
	for _, id := range res.Corrupt {
		fmt.Fprintf(out, "  - %s\n", id)
	}
	if len(res.Kept) > 0 {
		fmt.Fprintf(out, "Kept %d expired session(s) whose process may still run: %s\n",
			len(res.Kept), strings.Join(res.Kept, ", "))
	}
	fmt.Fprintf(out, "%d live session(s)\n", res.Alive)
	return nil
}

func runSessionsWatch(cmd *cobra.Command, args []string) error {
	if err := validateFormat(sessionsOutput); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	reg := newRegistry(cfg)

	if err := os.MkdirAll(reg.SessionsPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(reg.SessionsPath()); err != nil {
		return fmt.Errorf("failed to watch %s: %w", reg.SessionsPath(), err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return watchSessions(ctx, cmd.OutOrStdout(), reg, watcher, cfg.Session.CleanupInterval)
}

// watchSessions prints the list once, then again after every burst of
// changes in the sessions directory. It also refreshes every interval, since
// a record expiring does not touch the filesystem.
func watchSessions(ctx context.Context, w io.Writer, reg *session.Registry, watcher *fsnotify.Watcher, interval time.Duration) error {
	render := func() error {
		now := time.Now()
		views, err := collectSessions(ctx, reg, sessionsAll, now)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s  %s\n", now.Format(time.TimeOnly), strings.Repeat("─", 60))
		return writeSessions(w, views, sessionsOutput, now)
	}
	if err := render(); err != nil {
		return err
	}

	debounce := time.NewTimer(0)
	<-debounce.C
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, session.RecordExt) {
				continue
			}
			debounce.Reset(100 * time.Millisecond)

		case <-debounce.C:
			if err := render(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

		case <-ticker.C:
			if err := render(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(w, "Warning: watch error: %v\n", err)
		}
	}
}
