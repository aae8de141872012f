package models

import "time"

type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusStarting  RunStatus = "starting"
	RunStatusRunning   RunStatus = "running"
	RunStatusFinished  RunStatus = "finished"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether a status is one of the three end states.
func (s RunStatus) Terminal() bool {
	return s == RunStatusFinished || s == RunStatusFailed || s == RunStatusCancelled
}

type Run struct {
	ID            int64
	CreatedAt     time.Time
	CompletedAt   *time.Time
	Profile       string
	Script        string
	WorkspacePath string
	Status        RunStatus
	ExitCode      *int
	Error         string
}
