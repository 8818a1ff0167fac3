package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/relcut/db"
)

var pipelineSteps = []string{"gate", "bump", "label", "changelog", "push", "release"}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "journal.db"), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

func newRun(id string) *Run {
	return &Run{
		ID:         id,
		Branch:     "main",
		HeadCommit: "abc1234",
		State:      RunRunning,
		StartedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func TestCreateAndLatestRun(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateRun(newRun("run-1"), pipelineSteps))

	run, err := store.LatestRun("main")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, RunRunning, run.State)
	require.Len(t, run.Steps, len(pipelineSteps))
	for _, step := range run.Steps {
		assert.Equal(t, StepPending, step.State)
		assert.Nil(t, step.StartedAt)
	}
}

func TestLatestRunEmptyJournal(t *testing.T) {
	store := newTestStore(t)
	run, err := store.LatestRun("main")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestStepLifecycle(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateRun(newRun("run-1"), pipelineSteps))

	require.NoError(t, store.StartStep("run-1", "bump"))
	require.NoError(t, store.FinishStep("run-1", "bump", StepSucceeded, "2.3.5 -> 2.3.6"))
	require.NoError(t, store.SetVersions("run-1", "2.3.5", "2.3.6"))
	require.NoError(t, store.FinishStep("run-1", "push", StepFailed, "remote rejected"))
	require.NoError(t, store.FinishRun("run-1", RunFailed))

	run, err := store.LatestRun("main")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, RunFailed, run.State)
	assert.NotNil(t, run.FinishedAt)
	assert.Equal(t, "2.3.5", run.PreviousVersion)
	assert.Equal(t, "2.3.6", run.NewVersion)

	byName := map[string]StepRecord{}
	for _, s := range run.Steps {
		byName[s.Name] = s
	}
	assert.Equal(t, StepSucceeded, byName["bump"].State)
	assert.NotNil(t, byName["bump"].StartedAt)
	assert.Equal(t, "2.3.5 -> 2.3.6", byName["bump"].Detail)
	assert.Equal(t, StepFailed, byName["push"].State)
	assert.Equal(t, "remote rejected", byName["push"].Detail)
	assert.Equal(t, StepPending, byName["release"].State, "steps after the failure remain pending for resume")
}

func TestLatestRunPicksNewest(t *testing.T) {
	store := newTestStore(t)

	first := newRun("run-1")
	first.StartedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.CreateRun(first, pipelineSteps))
	require.NoError(t, store.CreateRun(newRun("run-2"), pipelineSteps))

	run, err := store.LatestRun("main")
	require.NoError(t, err)
	assert.Equal(t, "run-2", run.ID)
}

func TestListRuns(t *testing.T) {
	store := newTestStore(t)
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		run := newRun(id)
		run.StartedAt = time.Now().UTC().Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.CreateRun(run, pipelineSteps))
	}

	runs, err := store.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, "run-2", runs[1].ID)
}

func TestCreateRunRollsBackOnStepFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO pipeline_runs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO pipeline_steps").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	store := NewStore(mockDB)
	err = store.CreateRun(newRun("run-1"), []string{"gate"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunningReopensRun(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateRun(newRun("run-1"), pipelineSteps))
	require.NoError(t, store.FinishRun("run-1", RunFailed))

	require.NoError(t, store.MarkRunning("run-1"))

	run, err := store.LatestRun("main")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, run.State)
	assert.Nil(t, run.FinishedAt)
}
