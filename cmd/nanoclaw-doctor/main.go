// Command nanoclaw-doctor is a read-only operator view into a nanoclaw
// installation: a live status TUI when stdout is a terminal, otherwise a
// one-shot JSON report; -json or -tui forces one or the other.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/nanoclaw/nanoclaw/internal/config"
	"github.com/nanoclaw/nanoclaw/internal/diagnostics"
	"github.com/nanoclaw/nanoclaw/internal/store"
)

var version = "dev"

func main() {
	jsonOutput := !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())
	for _, arg := range os.Args[1:] {
		switch arg {
		case "-json", "--json":
			jsonOutput = true
		case "-tui", "--tui":
			jsonOutput = false
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if jsonOutput {
		report := diagnostics.Run(ctx, cfg, version)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "error encoding report: %v\n", err)
			os.Exit(1)
		}
		failed := false
		for _, r := range report.Results {
			if r.Status == "FAIL" {
				failed = true
			}
		}
		if failed {
			os.Exit(1)
		}
		return
	}

	st, err := store.Open(ctx, filepath.Join(cfg.HomeDir, "nanoclaw.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	provider := newStoreSnapshotProvider(ctx, st, cfg, version)
	if err := runTUI(ctx, provider); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// Snapshot is a point-in-time read of an installation's health, rendered by
// the TUI on every tick.
type Snapshot struct {
	StartedAt       time.Time
	Channels        int
	ActiveTasks     int
	PausedTasks     int
	LastReport      diagnostics.Report
	LastReportError string
}

// SnapshotProvider produces the next Snapshot to render.
type SnapshotProvider func() Snapshot

func newStoreSnapshotProvider(ctx context.Context, st *store.Store, cfg config.Config, version string) SnapshotProvider {
	startedAt := time.Now()
	return func() Snapshot {
		snap := Snapshot{StartedAt: startedAt}

		channels, err := st.ListChannels(ctx)
		if err != nil {
			snap.LastReportError = fmt.Sprintf("list channels: %v", err)
		} else {
			snap.Channels = len(channels)
		}

		tasks, err := st.ListAllTasks(ctx)
		if err != nil {
			if snap.LastReportError == "" {
				snap.LastReportError = fmt.Sprintf("list tasks: %v", err)
			}
		} else {
			for _, t := range tasks {
				switch t.Status {
				case store.TaskActive:
					snap.ActiveTasks++
				case store.TaskPaused:
					snap.PausedTasks++
				}
			}
		}

		snap.LastReport = diagnostics.Run(ctx, cfg, version)
		return snap
	}
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type model struct {
	provider SnapshotProvider
	snap     Snapshot
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tickMsg:
		m.snap = m.provider()
		return m, tickCmd()
	}
	return m, nil
}

var (
	pass = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	fail = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dim  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "PASS":
		return pass
	case "WARN":
		return warn
	case "FAIL":
		return fail
	default:
		return dim
	}
}

func (m model) View() string {
	s := m.snap

	out := fmt.Sprintf(
		"nanoclaw doctor\n\nUptime: %s\nChannels: %d\nActive tasks: %d\nPaused tasks: %d\n\nChecks (%s):\n",
		time.Since(s.StartedAt).Truncate(time.Second),
		s.Channels,
		s.ActiveTasks,
		s.PausedTasks,
		s.LastReport.Timestamp.Format(time.RFC3339),
	)
	for _, r := range s.LastReport.Results {
		out += fmt.Sprintf("  %s %-18s %s\n", statusStyle(r.Status).Render(r.Status), r.Name, r.Message)
	}
	if s.LastReportError != "" {
		out += dim.Render(fmt.Sprintf("\nstore read error: %s\n", s.LastReportError))
	}
	out += "\nPress q to quit.\n"
	return out
}

func runTUI(ctx context.Context, provider SnapshotProvider) error {
	m := model{provider: provider, snap: provider()}
	p := tea.NewProgram(m)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		return ctx.Err()
	case err := <-done:
		return err
	}
}
