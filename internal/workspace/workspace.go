package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Manager materializes script snapshots into isolated per-run directories
// under a single root, and removes them once the run is over.
type Manager struct {
	root     string
	filename string
	log      *slog.Logger
}

func NewManager(root, filename string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{root: root, filename: filename, log: log}
}

// Materialize writes content into a fresh uniquely-named directory and
// returns the absolute path of the script file inside it. On any failure the
// partially-created directory is removed and no path is returned.
func (m *Manager) Materialize(content string) (string, error) {
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace root: %w", err)
	}

	dir, err := os.MkdirTemp(m.root, "run-")
	if err != nil {
		return "", fmt.Errorf("failed to create workspace directory: %w", err)
	}

	path := filepath.Join(dir, m.filename)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to write script: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to resolve script path: %w", err)
	}

	return abs, nil
}

// Cleanup removes the script file and its parent directory. Best effort:
// failures are logged, never returned, and a second call on an already
// removed path is a no-op.
func (m *Manager) Cleanup(scriptPath string) {
	if scriptPath == "" {
		return
	}

	if err := os.Remove(scriptPath); err != nil && !os.IsNotExist(err) {
		m.log.Warn("failed to remove script file", "path", scriptPath, "error", err)
	}

	dir := filepath.Dir(scriptPath)
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		m.log.Warn("failed to remove workspace directory", "path", dir, "error", err)
	}
}
