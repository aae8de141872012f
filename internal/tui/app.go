package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kscratch/kscratch/internal/models"
	"github.com/kscratch/kscratch/internal/session"
)

type View int

const (
	ViewEditor View = iota
	ViewHistory
)

type App struct {
	ctrl        *session.Controller
	profileName string

	view   View
	editor textarea.Model
	output viewport.Model
	ready  bool

	outputLines []outputLine
	running     bool
	statusText  string
	exitCode    *int

	diags     []models.Diagnostic
	showDiags bool
	diagIdx   int

	runs        []*models.Run
	selectedIdx int

	width  int
	height int
	err    error
}

type outputLine struct {
	text   string
	origin session.Origin
}

func NewApp(ctrl *session.Controller, profileName, initialScript string) *App {
	ta := textarea.New()
	ta.Placeholder = "// write a script, ctrl+r runs it"
	ta.ShowLineNumbers = true
	ta.CharLimit = 0
	ta.SetValue(initialScript)
	ta.Focus()

	return &App{
		ctrl:        ctrl,
		profileName: profileName,
		view:        ViewEditor,
		editor:      ta,
		statusText:  "idle",
	}
}

func (a *App) Init() tea.Cmd {
	return textarea.Blink
}

// Messages

type outputLineMsg struct {
	line   string
	origin session.Origin
}

type statusTextMsg string

type exitCodeMsg struct {
	code *int
}

type runningMsg bool

type diagnosticsMsg struct {
	diags   []models.Diagnostic
	visible bool
}

type runErrorMsg struct {
	err error
}

type historyLoadedMsg struct {
	runs []*models.Run
	err  error
}

type runDeletedMsg struct {
	err error
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.layout()
		return a, nil

	case runningMsg:
		if bool(msg) {
			// A new run started: the previous run's output and
			// diagnostics are gone.
			a.running = true
			a.outputLines = nil
			a.diags = nil
			a.diagIdx = 0
			a.showDiags = false
			a.exitCode = nil
			a.refreshOutput()
		} else {
			a.running = false
		}
		return a, nil

	case outputLineMsg:
		a.outputLines = append(a.outputLines, outputLine{text: msg.line, origin: msg.origin})
		a.refreshOutput()
		return a, nil

	case statusTextMsg:
		a.statusText = string(msg)
		return a, nil

	case exitCodeMsg:
		a.exitCode = msg.code
		return a, nil

	case diagnosticsMsg:
		a.diags = msg.diags
		if msg.visible {
			a.showDiags = true
		}
		if a.diagIdx >= len(a.diags) {
			a.diagIdx = 0
		}
		a.layout()
		return a, nil

	case runErrorMsg:
		a.err = msg.err
		return a, nil

	case historyLoadedMsg:
		a.runs = msg.runs
		a.err = msg.err
		if a.selectedIdx >= len(a.runs) {
			a.selectedIdx = 0
		}
		return a, nil

	case runDeletedMsg:
		a.err = msg.err
		if a.selectedIdx >= len(a.runs)-1 && a.selectedIdx > 0 {
			a.selectedIdx--
		}
		return a, a.loadHistory
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Quit works everywhere; an active run is torn down first.
	if msg.String() == "ctrl+c" {
		a.ctrl.Shutdown()
		return a, tea.Quit
	}

	switch a.view {
	case ViewEditor:
		return a.handleEditorKey(msg)
	case ViewHistory:
		return a.handleHistoryKey(msg)
	}
	return a, nil
}

func (a *App) handleEditorKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+r":
		a.err = nil
		return a, a.startRun(a.editor.Value())

	case "ctrl+k":
		return a, func() tea.Msg {
			a.ctrl.Cancel()
			return nil
		}

	case "ctrl+d":
		a.showDiags = !a.showDiags
		a.layout()
		return a, nil

	case "ctrl+n":
		if a.showDiags && len(a.diags) > 0 {
			a.diagIdx = (a.diagIdx + 1) % len(a.diags)
			a.moveCaretToLine(a.diags[a.diagIdx].Line)
		}
		return a, nil

	case "ctrl+h":
		a.view = ViewHistory
		return a, a.loadHistory

	case "pgup", "pgdown":
		var cmd tea.Cmd
		a.output, cmd = a.output.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.editor, cmd = a.editor.Update(msg)
	return a, cmd
}

func (a *App) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "ctrl+h":
		a.view = ViewEditor

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.runs)-1 {
			a.selectedIdx++
		}

	case "enter":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			a.editor.SetValue(a.runs[a.selectedIdx].Script)
			a.view = ViewEditor
		}

	case "d":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.deleteRun(a.runs[a.selectedIdx].ID)
		}

	case "r":
		return a, a.loadHistory
	}

	return a, nil
}

// Commands

func (a *App) startRun(script string) tea.Cmd {
	return func() tea.Msg {
		if err := a.ctrl.Start(script); err != nil {
			return runErrorMsg{err: err}
		}
		return nil
	}
}

func (a *App) loadHistory() tea.Msg {
	runs, err := a.ctrl.ListRuns(20)
	return historyLoadedMsg{runs: runs, err: err}
}

func (a *App) deleteRun(id int64) tea.Cmd {
	return func() tea.Msg {
		return runDeletedMsg{err: a.ctrl.DeleteRun(id)}
	}
}

// moveCaretToLine puts the editor caret at the start of the 1-based line n,
// clamped to the buffer.
func (a *App) moveCaretToLine(n int) {
	target := n - 1
	if target < 0 {
		target = 0
	}
	for a.editor.Line() > target {
		before := a.editor.Line()
		a.editor.CursorUp()
		if a.editor.Line() == before {
			break
		}
	}
	for a.editor.Line() < target {
		before := a.editor.Line()
		a.editor.CursorDown()
		if a.editor.Line() == before {
			break
		}
	}
	a.editor.CursorStart()
}

// Layout and rendering

func (a *App) layout() {
	if a.width == 0 || a.height == 0 {
		return
	}

	editorHeight := a.height / 2
	if editorHeight < 3 {
		editorHeight = 3
	}

	diagHeight := 0
	if a.showDiags {
		diagHeight = len(a.diags) + 2
		if diagHeight > 8 {
			diagHeight = 8
		}
	}

	outputHeight := a.height - editorHeight - diagHeight - 4
	if outputHeight < 3 {
		outputHeight = 3
	}

	a.editor.SetWidth(a.width)
	a.editor.SetHeight(editorHeight)

	if !a.ready {
		a.output = viewport.New(a.width, outputHeight)
		a.ready = true
	} else {
		a.output.Width = a.width
		a.output.Height = outputHeight
	}
	a.refreshOutput()
}

func (a *App) refreshOutput() {
	if !a.ready {
		return
	}
	var b strings.Builder
	for _, line := range a.outputLines {
		if line.origin == session.OriginStderr {
			b.WriteString(stderrStyle.Render(line.text))
		} else {
			b.WriteString(line.text)
		}
		b.WriteString("\n")
	}
	a.output.SetContent(b.String())
	a.output.GotoBottom()
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	stderrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	statusRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusFinished  = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusCancelled = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	diagStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) View() string {
	switch a.view {
	case ViewEditor:
		return a.viewEditor()
	case ViewHistory:
		return a.viewHistory()
	}
	return ""
}

func (a *App) viewEditor() string {
	s := titleStyle.Render("kscratch") + "  " + labelStyle.Render(a.profileName) + "\n"

	s += a.editor.View() + "\n"

	s += labelStyle.Render("output") + "\n"
	if a.ready {
		s += a.output.View() + "\n"
	}

	if a.showDiags {
		s += a.viewDiagnostics()
	}

	s += a.statusLine()
	s += "\n" + helpStyle.Render("[ctrl+r] run  [ctrl+k] cancel  [ctrl+d] diagnostics  [ctrl+n] next diag  [ctrl+h] history  [ctrl+c] quit")
	return s
}

func (a *App) viewDiagnostics() string {
	s := labelStyle.Render("diagnostics") + "\n"
	if len(a.diags) == 0 {
		s += dimStyle.Render("(none)") + "\n"
		return s
	}

	shown := a.diags
	if len(shown) > 6 {
		shown = shown[:6]
	}
	for i, d := range shown {
		line := fmt.Sprintf("%d:%d %s", d.Line, d.Col, d.Message)
		if i == a.diagIdx {
			s += selectedStyle.Render("▶ "+line) + "\n"
		} else {
			s += "  " + diagStyle.Render(line) + "\n"
		}
	}
	if len(a.diags) > len(shown) {
		s += dimStyle.Render(fmt.Sprintf("  … %d more", len(a.diags)-len(shown))) + "\n"
	}
	return s
}

func (a *App) statusLine() string {
	state := a.statusText
	switch {
	case a.running:
		state = statusRunning.Render("● " + state)
	case strings.HasPrefix(state, "finished"):
		if a.exitCode != nil && *a.exitCode != 0 {
			state = statusFailed.Render("✗ " + state)
		} else {
			state = statusFinished.Render("✓ " + state)
		}
	case state == "cancelled":
		state = statusCancelled.Render("⚠ " + state)
	case strings.Contains(state, "error"):
		state = statusFailed.Render("✗ " + state)
	}

	s := state
	if a.err != nil {
		s += "  " + statusFailed.Render(a.err.Error())
	}
	return s
}

func (a *App) viewHistory() string {
	s := titleStyle.Render("Run History") + "\n\n"

	if a.err != nil {
		s += fmt.Sprintf("Error: %v\n", a.err)
	}

	if len(a.runs) == 0 {
		s += "No runs yet.\n"
	} else {
		for i, run := range a.runs {
			line := a.formatRunLine(run)
			if i == a.selectedIdx {
				line = selectedStyle.Render("▶ " + line)
			} else if run.Status.Terminal() {
				line = "  " + dimStyle.Render(line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] load script  [d] delete  [r] refresh  [esc] back")
	return s
}

func (a *App) formatRunLine(run *models.Run) string {
	status := a.formatStatus(run)
	age := formatAge(run.CreatedAt)
	script := truncate(firstLine(run.Script), 35)
	return fmt.Sprintf("#%-3d %-10s %s  %-6s  %s", run.ID, run.Profile, status, age, script)
}

func (a *App) formatStatus(run *models.Run) string {
	switch run.Status {
	case models.RunStatusRunning, models.RunStatusStarting:
		return statusRunning.Render("● running")
	case models.RunStatusFinished:
		if run.ExitCode != nil && *run.ExitCode != 0 {
			return statusFailed.Render(fmt.Sprintf("✗ exit:%d", *run.ExitCode))
		}
		return statusFinished.Render("✓ exit:0")
	case models.RunStatusFailed:
		return statusFailed.Render("✗ failed")
	case models.RunStatusCancelled:
		return statusCancelled.Render("⚠ cancelled")
	default:
		return string(run.Status)
	}
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
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
