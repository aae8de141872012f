package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kscratch/kscratch/internal/models"
	"github.com/kscratch/kscratch/internal/session"
)

// ProgramSink adapts the session sinks onto a bubbletea program. Every
// notification becomes a message delivered to the single Update loop, which
// is the only place UI state is mutated.
type ProgramSink struct {
	p *tea.Program
}

func NewProgramSink(p *tea.Program) *ProgramSink {
	return &ProgramSink{p: p}
}

func (s *ProgramSink) AppendLine(line string, origin session.Origin) {
	s.p.Send(outputLineMsg{line: line, origin: origin})
}

func (s *ProgramSink) SetStatus(text string) {
	s.p.Send(statusTextMsg(text))
}

func (s *ProgramSink) SetExitCode(code *int) {
	s.p.Send(exitCodeMsg{code: code})
}

func (s *ProgramSink) SetRunning(running bool) {
	s.p.Send(runningMsg(running))
}

func (s *ProgramSink) SetDiagnostics(diags []models.Diagnostic, visible bool) {
	s.p.Send(diagnosticsMsg{diags: diags, visible: visible})
}
