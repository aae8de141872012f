package session

import "github.com/kscratch/kscratch/internal/models"

// Origin tags an output line with the stream it came from.
type Origin string

const (
	OriginStdout Origin = "stdout"
	OriginStderr Origin = "stderr"
)

// OutputSink receives raw output lines. Implementations must be callable
// from any goroutine; marshalling onto a UI loop is the sink's job.
type OutputSink interface {
	AppendLine(line string, origin Origin)
}

// StatusSink receives run lifecycle notifications. Same threading contract
// as OutputSink.
type StatusSink interface {
	SetStatus(text string)
	SetExitCode(code *int)
	SetRunning(running bool)
	SetDiagnostics(diags []models.Diagnostic, visible bool)
}
