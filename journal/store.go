// Package journal persists pipeline run state in SQLite.
//
// Every run and every step outcome is recorded. Pushed commits and tags are
// never rolled back on failure, so the journal is the operator's record of
// which durable side effects a failed run left behind, and what `relcut
// resume` still has to do.
package journal

import (
	"database/sql"
	"time"

	"github.com/teranos/relcut/errors"
)

// RunState is the overall state of a pipeline run.
type RunState string

const (
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
	RunSkipped   RunState = "skipped"
)

// StepState is the state of one pipeline step within a run.
type StepState string

const (
	StepPending   StepState = "pending"
	StepSucceeded StepState = "succeeded"
	StepFailed    StepState = "failed"
	StepSkipped   StepState = "skipped"
)

// Run is one pipeline invocation.
type Run struct {
	ID              string
	Branch          string
	HeadCommit      string
	PreviousVersion string
	NewVersion      string
	State           RunState
	StartedAt       time.Time
	FinishedAt      *time.Time
	Steps           []StepRecord
}

// StepRecord is one step outcome within a run.
type StepRecord struct {
	Name       string
	State      StepState
	Detail     string
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Store handles persistence of pipeline runs
type Store struct {
	db *sql.DB
}

// NewStore creates a new journal store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRun records a new run and its planned steps (all pending).
func (s *Store) CreateRun(run *Run, stepNames []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin run insert")
	}

	_, err = tx.Exec(`
		INSERT INTO pipeline_runs (id, branch, head_commit, previous_version, new_version, state, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Branch, run.HeadCommit,
		nullable(run.PreviousVersion), nullable(run.NewVersion),
		string(run.State), run.StartedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "failed to record run %s", run.ID)
	}

	for _, name := range stepNames {
		if _, err := tx.Exec(`
			INSERT INTO pipeline_steps (run_id, name, state) VALUES (?, ?, ?)`,
			run.ID, name, string(StepPending)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "failed to record step %s", name)
		}
	}

	return errors.Wrap(tx.Commit(), "commit run insert")
}

// SetVersions records the version transition once the bumper has computed it.
func (s *Store) SetVersions(runID, previous, next string) error {
	_, err := s.db.Exec(`
		UPDATE pipeline_runs SET previous_version = ?, new_version = ? WHERE id = ?`,
		previous, next, runID)
	return errors.Wrapf(err, "failed to set versions for run %s", runID)
}

// StartStep marks a step as started now.
func (s *Store) StartStep(runID, name string) error {
	_, err := s.db.Exec(`
		UPDATE pipeline_steps SET started_at = ? WHERE run_id = ? AND name = ?`,
		time.Now().UTC().Format(time.RFC3339), runID, name)
	return errors.Wrapf(err, "failed to start step %s", name)
}

// FinishStep records a step outcome. Detail carries the error message for
// failed steps, or a short summary for succeeded ones.
func (s *Store) FinishStep(runID, name string, state StepState, detail string) error {
	_, err := s.db.Exec(`
		UPDATE pipeline_steps SET state = ?, detail = ?, finished_at = ?
		WHERE run_id = ? AND name = ?`,
		string(state), nullable(detail), time.Now().UTC().Format(time.RFC3339), runID, name)
	return errors.Wrapf(err, "failed to finish step %s", name)
}

// MarkRunning reopens a run for resumption, clearing its finish time.
func (s *Store) MarkRunning(runID string) error {
	_, err := s.db.Exec(`
		UPDATE pipeline_runs SET state = ?, finished_at = NULL WHERE id = ?`,
		string(RunRunning), runID)
	return errors.Wrapf(err, "failed to reopen run %s", runID)
}

// FinishRun records the run's terminal state.
func (s *Store) FinishRun(runID string, state RunState) error {
	_, err := s.db.Exec(`
		UPDATE pipeline_runs SET state = ?, finished_at = ? WHERE id = ?`,
		string(state), time.Now().UTC().Format(time.RFC3339), runID)
	return errors.Wrapf(err, "failed to finish run %s", runID)
}

// LatestRun returns the most recent run for a branch with its steps, or
// (nil, nil) when the journal has no runs for that branch.
func (s *Store) LatestRun(branch string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, branch, head_commit, previous_version, new_version, state, started_at, finished_at
		FROM pipeline_runs WHERE branch = ?
		ORDER BY started_at DESC LIMIT 1`, branch)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	steps, err := s.steps(run.ID)
	if err != nil {
		return nil, err
	}
	run.Steps = steps
	return run, nil
}

// ListRuns returns the most recent runs across all branches, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, branch, head_commit, previous_version, new_version, state, started_at, finished_at
		FROM pipeline_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, errors.Wrap(rows.Err(), "iterating runs")
}

func (s *Store) steps(runID string) ([]StepRecord, error) {
	rows, err := s.db.Query(`
		SELECT name, state, detail, started_at, finished_at
		FROM pipeline_steps WHERE run_id = ?`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load steps for run %s", runID)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var step StepRecord
		var state string
		var detail, startedAt, finishedAt sql.NullString
		if err := rows.Scan(&step.Name, &state, &detail, &startedAt, &finishedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan step")
		}
		step.State = StepState(state)
		step.Detail = detail.String
		if step.StartedAt, err = parseNullTime(startedAt); err != nil {
			return nil, errors.Wrapf(err, "parse started_at for step %s", step.Name)
		}
		if step.FinishedAt, err = parseNullTime(finishedAt); err != nil {
			return nil, errors.Wrapf(err, "parse finished_at for step %s", step.Name)
		}
		steps = append(steps, step)
	}
	return steps, errors.Wrap(rows.Err(), "iterating steps")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var state, startedAt string
	var previous, next, finishedAt sql.NullString

	if err := row.Scan(&run.ID, &run.Branch, &run.HeadCommit,
		&previous, &next, &state, &startedAt, &finishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan run")
	}

	run.State = RunState(state)
	run.PreviousVersion = previous.String
	run.NewVersion = next.String

	t, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse started_at for run %s", run.ID)
	}
	run.StartedAt = t

	finished, err := parseNullTime(finishedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse finished_at for run %s", run.ID)
	}
	run.FinishedAt = finished

	return &run, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
