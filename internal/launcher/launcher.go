package launcher

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// SpawnError wraps a failure to start the child process at all. It is a
// different condition from a process that starts and exits non-zero, and
// callers surface it differently.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Executable, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Handle owns one running child process. Stdout and Stderr deliver the
// process's output line by line and are closed when the corresponding stream
// closes. Both streams are drained by their own goroutines; reading them
// sequentially could deadlock on a full pipe buffer if the child writes
// enough to the other stream.
type Handle struct {
	cmd     *exec.Cmd
	stdout  chan string
	stderr  chan string
	drained sync.WaitGroup

	termOnce sync.Once
	waitOnce sync.Once
	exitCode int
}

// Start spawns executable with args in dir (empty dir means the host's
// working directory). No stdin is supplied to the child. A *SpawnError is
// returned when the process could not be started.
func Start(executable string, args []string, dir string) (*Handle, error) {
	cmd := exec.Command(executable, args...)
	cmd.Dir = dir

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Executable: executable, Err: err}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Executable: executable, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Executable: executable, Err: err}
	}

	h := &Handle{
		cmd:    cmd,
		stdout: make(chan string),
		stderr: make(chan string),
	}

	h.drained.Add(2)
	go h.drain(stdoutPipe, h.stdout)
	go h.drain(stderrPipe, h.stderr)

	return h, nil
}

func (h *Handle) drain(r io.Reader, out chan<- string) {
	defer h.drained.Done()
	defer close(out)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// Stdout returns the child's standard output as a line channel. Lines
// preserve the child's emission order within the stream.
func (h *Handle) Stdout() <-chan string { return h.stdout }

// Stderr returns the child's standard error as a line channel.
func (h *Handle) Stderr() <-chan string { return h.stderr }

// PID returns the child's process id.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Terminate requests immediate forceful termination. Idempotent, and safe to
// call after the process has already exited.
func (h *Handle) Terminate() {
	h.termOnce.Do(func() {
		if h.cmd.Process != nil {
			h.cmd.Process.Kill()
		}
	})
}

// Wait blocks until the process terminates by any means and returns its exit
// code. A wait that cannot be confirmed reports -1. Wait only returns after
// both output streams have been drained to closure.
func (h *Handle) Wait() int {
	h.waitOnce.Do(func() {
		h.drained.Wait()

		err := h.cmd.Wait()
		switch {
		case err == nil:
			h.exitCode = h.cmd.ProcessState.ExitCode()
		default:
			if exitErr, ok := err.(*exec.ExitError); ok {
				h.exitCode = exitErr.ExitCode()
			} else {
				h.exitCode = -1
			}
		}
	})
	return h.exitCode
}
