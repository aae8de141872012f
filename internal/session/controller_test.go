package session

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kscratch/kscratch/internal/launcher"
	"github.com/kscratch/kscratch/internal/models"
	"github.com/kscratch/kscratch/internal/profile"
	"github.com/kscratch/kscratch/internal/storage"
	"github.com/kscratch/kscratch/internal/workspace"
)

type recordedLine struct {
	text   string
	origin Origin
}

type recordSinks struct {
	mu       sync.Mutex
	lines    []recordedLine
	statuses []string
	exits    []*int
	running  []bool
	diags    [][]models.Diagnostic
	visible  []bool
}

func (r *recordSinks) AppendLine(line string, origin Origin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, recordedLine{text: line, origin: origin})
}

func (r *recordSinks) SetStatus(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, text)
}

func (r *recordSinks) SetExitCode(code *int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits = append(r.exits, code)
}

func (r *recordSinks) SetRunning(running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = append(r.running, running)
}

func (r *recordSinks) SetDiagnostics(diags []models.Diagnostic, visible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diags = append(r.diags, diags)
	r.visible = append(r.visible, visible)
}

func (r *recordSinks) stdoutLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, l := range r.lines {
		if l.origin == OriginStdout {
			out = append(out, l.text)
		}
	}
	return out
}

func (r *recordSinks) stderrLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, l := range r.lines {
		if l.origin == OriginStderr {
			out = append(out, l.text)
		}
	}
	return out
}

func (r *recordSinks) lastExit() *int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.exits) == 0 {
		return nil
	}
	return r.exits[len(r.exits)-1]
}

func (r *recordSinks) runningTransitions() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.running))
	copy(out, r.running)
	return out
}

type testEnv struct {
	ctrl  *Controller
	sinks *recordSinks
	store *storage.Storage
	wsDir string
}

func newTestEnv(t *testing.T, command string) *testEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests drive a POSIX shell")
	}

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	wsDir := t.TempDir()
	ws := workspace.NewManager(wsDir, "script.sh", log)

	prof := profile.Profile{Name: "sh-test", Command: command, Extension: ".sh"}
	ctrl := New(ws, store, prof, log)

	sinks := &recordSinks{}
	ctrl.Bind(sinks, sinks)

	return &testEnv{ctrl: ctrl, sinks: sinks, store: store, wsDir: wsDir}
}

func requireWorkspaceEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "workspace should be cleaned up after the run")
}

func TestRunToCompletion(t *testing.T) {
	env := newTestEnv(t, "sh")

	require.NoError(t, env.ctrl.Start(`echo "hi"`))
	env.ctrl.Join()

	require.Equal(t, []string{"hi"}, env.sinks.stdoutLines())
	require.NotNil(t, env.sinks.lastExit())
	require.Equal(t, 0, *env.sinks.lastExit())
	require.Equal(t, []bool{true, false}, env.sinks.runningTransitions())
	require.Equal(t, models.RunStatusIdle, env.ctrl.State())
	requireWorkspaceEmpty(t, env.wsDir)

	runs, err := env.store.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, models.RunStatusFinished, runs[0].Status)
	require.NotNil(t, runs[0].ExitCode)
	require.Equal(t, 0, *runs[0].ExitCode)
}

func TestNonZeroExitIsFinishedNotFailed(t *testing.T) {
	env := newTestEnv(t, "sh")

	require.NoError(t, env.ctrl.Start("exit 7"))
	env.ctrl.Join()

	require.NotNil(t, env.sinks.lastExit())
	require.Equal(t, 7, *env.sinks.lastExit())

	runs, err := env.store.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, models.RunStatusFinished, runs[0].Status)
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	env := newTestEnv(t, "sh")

	require.NoError(t, env.ctrl.Start("sleep 30"))

	// Wait until the session reaches Running before poking it.
	require.Eventually(t, func() bool {
		return env.ctrl.State() == models.RunStatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	err := env.ctrl.Start("echo nope")
	require.ErrorIs(t, err, ErrAlreadyRunning)

	env.ctrl.Cancel()
	env.ctrl.Join()

	// The rejected start must not have produced a second run record.
	runs, listErr := env.store.ListRuns(10)
	require.NoError(t, listErr)
	require.Len(t, runs, 1)
	requireWorkspaceEmpty(t, env.wsDir)
}

func TestCancelProducesCancelled(t *testing.T) {
	env := newTestEnv(t, "sh")

	require.NoError(t, env.ctrl.Start("sleep 30"))
	require.Eventually(t, func() bool {
		return env.ctrl.State() == models.RunStatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	env.ctrl.Cancel()
	env.ctrl.Cancel() // idempotent
	env.ctrl.Join()

	runs, err := env.store.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, models.RunStatusCancelled, runs[0].Status)

	// Exactly one false transition despite the double cancel.
	transitions := env.sinks.runningTransitions()
	require.Equal(t, []bool{true, false}, transitions)
	requireWorkspaceEmpty(t, env.wsDir)
	require.Equal(t, models.RunStatusIdle, env.ctrl.State())
}

func TestSpawnFailure(t *testing.T) {
	env := newTestEnv(t, "kscratch-no-such-compiler")

	err := env.ctrl.Start(`println("hi")`)
	require.Error(t, err)

	var spawnErr *launcher.SpawnError
	require.ErrorAs(t, err, &spawnErr)

	require.Equal(t, models.RunStatusIdle, env.ctrl.State())
	require.Equal(t, []bool{true, false}, env.sinks.runningTransitions())
	requireWorkspaceEmpty(t, env.wsDir)

	runs, listErr := env.store.ListRuns(10)
	require.NoError(t, listErr)
	require.Len(t, runs, 1)
	require.Equal(t, models.RunStatusFailed, runs[0].Status)
}

func TestStderrDiagnosticsAreParsedAndSurfaced(t *testing.T) {
	env := newTestEnv(t, "sh")

	script := `echo "compiling"
echo "/tmp/x/script.kts:2:5: error: unresolved reference: foo" 1>&2
echo "warning: deprecated api" 1>&2
exit 1`

	require.NoError(t, env.ctrl.Start(script))
	env.ctrl.Join()

	// Both stderr lines are surfaced raw, in order.
	require.Equal(t, []string{
		"/tmp/x/script.kts:2:5: error: unresolved reference: foo",
		"warning: deprecated api",
	}, env.sinks.stderrLines())
	require.Equal(t, []string{"compiling"}, env.sinks.stdoutLines())

	// Only the matching line became a diagnostic, and the panel was asked
	// to become visible.
	diags := env.ctrl.Diagnostics()
	require.Len(t, diags, 1)
	require.Equal(t, 2, diags[0].Line)
	require.Equal(t, 5, diags[0].Col)
	require.Equal(t, "unresolved reference: foo", diags[0].Message)

	env.sinks.mu.Lock()
	visible := append([]bool(nil), env.sinks.visible...)
	env.sinks.mu.Unlock()
	require.Contains(t, visible, true)

	// Diagnostics were persisted with the run.
	runs, err := env.store.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	stored, err := env.store.DiagnosticsForRun(runs[0].ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "unresolved reference: foo", stored[0].Message)
}

func TestShutdownRejectsNewWork(t *testing.T) {
	env := newTestEnv(t, "sh")

	require.NoError(t, env.ctrl.Start("sleep 30"))
	require.Eventually(t, func() bool {
		return env.ctrl.State() == models.RunStatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	env.ctrl.Shutdown()
	env.ctrl.Join()

	err := env.ctrl.Start("echo hi")
	require.ErrorIs(t, err, ErrShutdown)
	requireWorkspaceEmpty(t, env.wsDir)
}

func TestSequentialRunsReuseController(t *testing.T) {
	env := newTestEnv(t, "sh")

	require.NoError(t, env.ctrl.Start("echo one"))
	env.ctrl.Join()
	require.NoError(t, env.ctrl.Start("echo two"))
	env.ctrl.Join()

	runs, err := env.store.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	requireWorkspaceEmpty(t, env.wsDir)
}
