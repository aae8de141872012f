package storage

import (
	"database/sql"
	"time"

	"github.com/kscratch/kscratch/internal/models"
	_ "modernc.org/sqlite"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		profile TEXT NOT NULL,
		script TEXT NOT NULL,
		workspace_path TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		exit_code INTEGER,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS diagnostics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		line INTEGER NOT NULL,
		col INTEGER NOT NULL,
		message TEXT NOT NULL,
		raw TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_diagnostics_run ON diagnostics(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Storage) CreateRun(run *models.Run) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO runs (profile, script, workspace_path, status, error)
		 VALUES (?, ?, ?, ?, ?)`,
		run.Profile, run.Script, run.WorkspacePath, run.Status, nullable(run.Error),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) FinalizeRun(id int64, status models.RunStatus, exitCode *int, errMsg string) error {
	now := time.Now()
	_, err := s.db.Exec(
		`UPDATE runs SET completed_at = ?, status = ?, exit_code = ?, error = ? WHERE id = ?`,
		now, status, exitCode, nullable(errMsg), id,
	)
	return err
}

func (s *Storage) GetRun(id int64) (*models.Run, error) {
	row := s.db.QueryRow(
		`SELECT id, created_at, completed_at, profile, script, workspace_path, status, exit_code, error
		 FROM runs WHERE id = ?`, id,
	)
	return scanRun(row)
}

func (s *Storage) ListRuns(limit int) ([]*models.Run, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, completed_at, profile, script, workspace_path, status, exit_code, error
		 FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (s *Storage) AddDiagnostics(runID int64, diags []models.Diagnostic) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, d := range diags {
		if _, err := tx.Exec(
			`INSERT INTO diagnostics (run_id, line, col, message, raw) VALUES (?, ?, ?, ?, ?)`,
			runID, d.Line, d.Col, d.Message, d.Raw,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Storage) DiagnosticsForRun(runID int64) ([]models.Diagnostic, error) {
	rows, err := s.db.Query(
		`SELECT line, col, message, raw FROM diagnostics WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var diags []models.Diagnostic
	for rows.Next() {
		var d models.Diagnostic
		if err := rows.Scan(&d.Line, &d.Col, &d.Message, &d.Raw); err != nil {
			return nil, err
		}
		diags = append(diags, d)
	}

	return diags, rows.Err()
}

func (s *Storage) DeleteRun(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM diagnostics WHERE run_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	var completedAt sql.NullTime
	var workspacePath, errMsg sql.NullString
	var exitCode sql.NullInt64

	err := row.Scan(
		&run.ID, &run.CreatedAt, &completedAt, &run.Profile, &run.Script,
		&workspacePath, &run.Status, &exitCode, &errMsg,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if workspacePath.Valid {
		run.WorkspacePath = workspacePath.String
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}

	return &run, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
