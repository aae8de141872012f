package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kscratch/kscratch/internal/diag"
	"github.com/kscratch/kscratch/internal/launcher"
	"github.com/kscratch/kscratch/internal/models"
	"github.com/kscratch/kscratch/internal/profile"
	"github.com/kscratch/kscratch/internal/storage"
	"github.com/kscratch/kscratch/internal/workspace"
)

var (
	// ErrAlreadyRunning is returned by Start while a session is active. The
	// active session is left untouched; there is no queue.
	ErrAlreadyRunning = errors.New("a run is already in progress")

	// ErrShutdown is returned by Start after Shutdown has been called.
	ErrShutdown = errors.New("controller is shut down")
)

// Controller owns at most one active run session and is the single writer of
// its state. All lifecycle notifications flow out through the bound sinks;
// the sinks own any marshalling onto a UI loop.
type Controller struct {
	ws    *workspace.Manager
	store *storage.Storage // optional; run history is advisory
	prof  profile.Profile
	log   *slog.Logger

	out    OutputSink
	status StatusSink

	mu         sync.Mutex
	state      models.RunStatus
	handle     *launcher.Handle
	scriptPath string
	runID      int64
	cancelled  bool
	shutdown   bool
	diags      []models.Diagnostic
	done       chan struct{}
}

func New(ws *workspace.Manager, store *storage.Storage, prof profile.Profile, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		ws:     ws,
		store:  store,
		prof:   prof,
		log:    log,
		state:  models.RunStatusIdle,
		out:    nopOutput{},
		status: nopStatus{},
	}
}

// Bind installs the sinks the controller pushes output and status into.
// Must be called before the first Start.
func (c *Controller) Bind(out OutputSink, status StatusSink) {
	if out != nil {
		c.out = out
	}
	if status != nil {
		c.status = status
	}
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() models.RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Diagnostics returns a snapshot of the diagnostics collected so far for the
// current (or most recent) run.
func (c *Controller) Diagnostics() []models.Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Diagnostic, len(c.diags))
	copy(out, c.diags)
	return out
}

// Start captures scriptText, materializes it into a fresh workspace, and
// launches the compiler against it. Valid only from Idle; a second Start
// while a run is active returns ErrAlreadyRunning without touching the
// active session. Start returns once the process is launched (or failed to);
// the run itself completes in the background and is reported via the sinks.
func (c *Controller) Start(scriptText string) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return ErrShutdown
	}
	if c.state != models.RunStatusIdle {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.state = models.RunStatusStarting
	c.cancelled = false
	c.diags = nil
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.status.SetRunning(true)
	c.status.SetStatus("starting")
	c.status.SetExitCode(nil)
	c.status.SetDiagnostics(nil, false)

	scriptPath, err := c.ws.Materialize(scriptText)
	if err != nil {
		c.log.Error("workspace materialization failed", "error", err)
		c.recordRun(scriptText, "", models.RunStatusFailed, err.Error())
		c.failStart(done, fmt.Sprintf("workspace error: %v", err))
		return err
	}

	handle, err := launcher.Start(c.prof.Command, c.prof.Invocation(scriptPath), "")
	if err != nil {
		c.log.Error("compiler launch failed", "compiler", c.prof.Command, "error", err)
		c.ws.Cleanup(scriptPath)
		c.recordRun(scriptText, scriptPath, models.RunStatusFailed, err.Error())
		c.failStart(done, fmt.Sprintf("launch error: %v", err))
		return err
	}

	runID := c.recordRun(scriptText, scriptPath, models.RunStatusRunning, "")

	c.mu.Lock()
	c.state = models.RunStatusRunning
	c.handle = handle
	c.scriptPath = scriptPath
	c.runID = runID
	c.mu.Unlock()

	c.status.SetStatus("running")
	c.log.Info("run started", "run_id", runID, "pid", handle.PID(), "script", scriptPath)

	var drains sync.WaitGroup
	drains.Add(2)

	go func() {
		defer drains.Done()
		for line := range handle.Stdout() {
			c.out.AppendLine(line, OriginStdout)
		}
	}()

	go func() {
		defer drains.Done()
		for line := range handle.Stderr() {
			if d, ok := diag.ParseLine(line); ok {
				c.mu.Lock()
				c.diags = append(c.diags, d)
				snapshot := make([]models.Diagnostic, len(c.diags))
				copy(snapshot, c.diags)
				c.mu.Unlock()
				c.status.SetDiagnostics(snapshot, true)
			}
			c.out.AppendLine(line, OriginStderr)
		}
	}()

	// exit-await is the sole finalizer: cancellation only requests
	// termination and lets this path run its normal course.
	go func() {
		code := handle.Wait()
		drains.Wait()
		c.finalize(code, scriptPath, done)
	}()

	return nil
}

// Cancel requests forceful termination of the active process. No-op unless a
// run is in the Running state; safe to call repeatedly. Finalization still
// happens on the exit-await path once the process exits.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.state != models.RunStatusRunning || c.handle == nil {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	handle := c.handle
	c.mu.Unlock()

	c.log.Info("cancellation requested")
	handle.Terminate()
}

// Shutdown terminates any active process and stops accepting new runs.
// Pending drain work finishes best-effort in the background.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.shutdown = true
	handle := c.handle
	c.mu.Unlock()

	if handle != nil {
		handle.Terminate()
	}
}

// Join blocks until the current run (if any) has fully finalized. Used by
// headless callers that need the terminal state before exiting.
func (c *Controller) Join() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Controller) failStart(done chan struct{}, statusText string) {
	c.status.SetStatus(statusText)
	c.status.SetRunning(false)

	c.mu.Lock()
	c.state = models.RunStatusIdle
	c.mu.Unlock()
	close(done)
}

func (c *Controller) finalize(code int, scriptPath string, done chan struct{}) {
	c.ws.Cleanup(scriptPath)

	c.mu.Lock()
	status := models.RunStatusFinished
	if c.cancelled {
		status = models.RunStatusCancelled
	}
	runID := c.runID
	c.state = models.RunStatusIdle
	c.handle = nil
	c.scriptPath = ""
	diags := make([]models.Diagnostic, len(c.diags))
	copy(diags, c.diags)
	c.mu.Unlock()

	c.finalizeRun(runID, status, code, diags)

	statusText := fmt.Sprintf("finished (exit %d)", code)
	if status == models.RunStatusCancelled {
		statusText = "cancelled"
	}
	c.status.SetExitCode(&code)
	c.status.SetStatus(statusText)
	c.status.SetRunning(false)
	c.log.Info("run finalized", "run_id", runID, "status", status, "exit_code", code)
	close(done)
}

// recordRun writes the initial history row. History is advisory: storage
// failures are logged and the run proceeds.
func (c *Controller) recordRun(script, scriptPath string, status models.RunStatus, errMsg string) int64 {
	if c.store == nil {
		return 0
	}
	id, err := c.store.CreateRun(&models.Run{
		Profile:       c.prof.Name,
		Script:        script,
		WorkspacePath: scriptPath,
		Status:        status,
		Error:         errMsg,
	})
	if err != nil {
		c.log.Warn("failed to record run", "error", err)
		return 0
	}
	return id
}

func (c *Controller) finalizeRun(runID int64, status models.RunStatus, code int, diags []models.Diagnostic) {
	if c.store == nil || runID == 0 {
		return
	}
	if err := c.store.FinalizeRun(runID, status, &code, ""); err != nil {
		c.log.Warn("failed to finalize run record", "run_id", runID, "error", err)
	}
	if len(diags) > 0 {
		if err := c.store.AddDiagnostics(runID, diags); err != nil {
			c.log.Warn("failed to record diagnostics", "run_id", runID, "error", err)
		}
	}
}

// History accessors for the UI and CLI.

func (c *Controller) ListRuns(limit int) ([]*models.Run, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.ListRuns(limit)
}

func (c *Controller) GetRun(id int64) (*models.Run, error) {
	if c.store == nil {
		return nil, errors.New("run history is not available")
	}
	return c.store.GetRun(id)
}

func (c *Controller) DiagnosticsForRun(id int64) ([]models.Diagnostic, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.DiagnosticsForRun(id)
}

func (c *Controller) DeleteRun(id int64) error {
	if c.store == nil {
		return errors.New("run history is not available")
	}
	return c.store.DeleteRun(id)
}

type nopOutput struct{}

func (nopOutput) AppendLine(string, Origin) {}

type nopStatus struct{}

func (nopStatus) SetStatus(string)                         {}
func (nopStatus) SetExitCode(*int)                         {}
func (nopStatus) SetRunning(bool)                          {}
func (nopStatus) SetDiagnostics([]models.Diagnostic, bool) {}
