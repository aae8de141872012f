package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/kscratch/kscratch/internal/config"
	"github.com/kscratch/kscratch/internal/highlight"
	"github.com/kscratch/kscratch/internal/launcher"
	"github.com/kscratch/kscratch/internal/models"
	"github.com/kscratch/kscratch/internal/profile"
	"github.com/kscratch/kscratch/internal/session"
	"github.com/kscratch/kscratch/internal/storage"
	"github.com/kscratch/kscratch/internal/tui"
	"github.com/kscratch/kscratch/internal/workspace"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kscratch [file]",
		Short: "Compiler-backed script scratchpad",
		Long:  "kscratch is a terminal scratchpad: edit a script, run it through an external compiler, and watch its output and diagnostics live.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTUI,
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newProfilesCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env bundles everything a command needs: config, the run-history store, and
// a logger that writes to the data dir so the TUI screen stays clean.
type env struct {
	cfg     *config.Config
	store   *storage.Storage
	log     *slog.Logger
	logFile *os.File
}

func setup() (*env, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	logFile, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(logFile, nil))

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &env{cfg: cfg, store: store, log: logger, logFile: logFile}, nil
}

func (e *env) close() {
	e.store.Close()
	e.logFile.Close()
}

func (e *env) controller() (*session.Controller, profile.Profile, error) {
	profiles, err := profile.LoadAll(e.cfg.ProfileDirs())
	if err != nil {
		return nil, profile.Profile{}, fmt.Errorf("failed to load profiles: %w", err)
	}

	p, err := e.cfg.ActiveProfile(profiles)
	if err != nil {
		return nil, profile.Profile{}, err
	}

	ws := workspace.NewManager(e.cfg.WorkspacesDir(), p.ScriptFilename(), e.log)
	return session.New(ws, e.store, p, e.log), p, nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	ctrl, prof, err := e.controller()
	if err != nil {
		return err
	}

	var initialScript string
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		initialScript = string(data)
	}

	app := tui.NewApp(ctrl, prof.Name, initialScript)
	p := tea.NewProgram(app, tea.WithAltScreen())

	sink := tui.NewProgramSink(p)
	ctrl.Bind(sink, sink)

	_, err = p.Run()
	ctrl.Shutdown()
	return err
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "Run a script file without the editor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			ctrl, _, err := e.controller()
			if err != nil {
				return err
			}

			sinks := &cliSinks{}
			ctrl.Bind(sinks, sinks)

			// Interrupt cancels the run; finalization still happens
			// on the controller's own exit path.
			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, os.Interrupt)
			defer signal.Stop(sigc)
			go func() {
				<-sigc
				ctrl.Cancel()
			}()

			if err := ctrl.Start(string(data)); err != nil {
				var spawnErr *launcher.SpawnError
				if errors.As(err, &spawnErr) {
					fmt.Fprintf(os.Stderr, "could not launch compiler: %v\n", err)
					e.close()
					os.Exit(127)
				}
				return fmt.Errorf("could not start run: %w", err)
			}

			ctrl.Join()

			if diags := ctrl.Diagnostics(); len(diags) > 0 {
				fmt.Fprintf(os.Stderr, "%d error(s)\n", len(diags))
			}

			code := sinks.exitCode()
			if code != 0 {
				e.close()
				os.Exit(code)
			}
			return nil
		},
	}
}

func newHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			runs, err := e.store.ListRuns(20)
			if err != nil {
				return err
			}

			if len(runs) == 0 {
				fmt.Println("No runs found.")
				return nil
			}

			for _, run := range runs {
				status := string(run.Status)
				if run.ExitCode != nil {
					status += fmt.Sprintf(" (exit %d)", *run.ExitCode)
				}
				fmt.Printf("#%d %s [%s] %s\n",
					run.ID, run.Profile, status, truncate(firstLine(run.Script), 50))
			}

			return nil
		},
	}
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run's script and diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run ID: %w", err)
			}

			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			run, err := e.store.GetRun(runID)
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}

			fmt.Printf("Run #%d [%s]\n", run.ID, run.Profile)
			fmt.Printf("Status: %s\n", run.Status)
			if run.ExitCode != nil {
				fmt.Printf("Exit code: %d\n", *run.ExitCode)
			}
			if run.Error != "" {
				fmt.Printf("Error: %s\n", run.Error)
			}

			fmt.Println("\nScript:")
			tk := highlight.Load(e.cfg.HighlighterPath(), e.log)
			fmt.Print(renderScript(tk, run.Script))

			diags, err := e.store.DiagnosticsForRun(runID)
			if err != nil {
				return err
			}
			if len(diags) > 0 {
				fmt.Println("\nDiagnostics:")
				for _, d := range diags {
					fmt.Printf("  %d:%d %s\n", d.Line, d.Col, d.Message)
				}
			}

			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run from history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run ID: %w", err)
			}

			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.store.DeleteRun(runID); err != nil {
				return fmt.Errorf("failed to delete run: %w", err)
			}

			fmt.Printf("Deleted run #%d\n", runID)
			return nil
		},
	}
}

func newProfilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List language profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			profiles, err := profile.LoadAll(e.cfg.ProfileDirs())
			if err != nil {
				return err
			}

			names := make([]string, 0, len(profiles))
			for name := range profiles {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				p := profiles[name]
				marker := " "
				if name == e.cfg.ProfileName {
					marker = "*"
				}
				fmt.Printf("%s %-10s %s %s (%s)\n",
					marker, p.Name, p.Command, strings.Join(p.Args, " "), p.Extension)
			}

			return nil
		},
	}
}

// cliSinks streams run output straight to the terminal for headless runs.
type cliSinks struct {
	mu   sync.Mutex
	code int
}

func (s *cliSinks) AppendLine(line string, origin session.Origin) {
	if origin == session.OriginStderr {
		fmt.Fprintln(os.Stderr, line)
	} else {
		fmt.Println(line)
	}
}

func (s *cliSinks) SetStatus(string) {}

func (s *cliSinks) SetExitCode(code *int) {
	if code == nil {
		return
	}
	s.mu.Lock()
	s.code = *code
	s.mu.Unlock()
}

func (s *cliSinks) SetRunning(bool) {}

func (s *cliSinks) SetDiagnostics([]models.Diagnostic, bool) {}

func (s *cliSinks) exitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

var tokenStyles = map[highlight.Kind]lipgloss.Style{
	highlight.KindKeyword: lipgloss.NewStyle().Foreground(lipgloss.Color("205")),
	highlight.KindString:  lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
	highlight.KindComment: lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
	highlight.KindNumber:  lipgloss.NewStyle().Foreground(lipgloss.Color("179")),
}

// renderScript prints the script with token colors. Spans may be partial; any
// uncovered bytes are written unstyled.
func renderScript(tk highlight.Tokenizer, script string) string {
	var b strings.Builder
	for _, line := range strings.Split(script, "\n") {
		spans := tk.Tokenize(line)
		sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

		pos := 0
		for _, sp := range spans {
			if sp.Start < pos || sp.Start+sp.Len > len(line) {
				continue
			}
			if sp.Start > pos {
				b.WriteString(line[pos:sp.Start])
			}
			seg := line[sp.Start : sp.Start+sp.Len]
			if style, ok := tokenStyles[sp.Kind]; ok {
				b.WriteString(style.Render(seg))
			} else {
				b.WriteString(seg)
			}
			pos = sp.Start + sp.Len
		}
		if pos < len(line) {
			b.WriteString(line[pos:])
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
