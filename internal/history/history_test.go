package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadpilot/internal/driver"
	"loadpilot/internal/pipeline"
	"loadpilot/internal/planner"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRun(status pipeline.Status) *pipeline.Run {
	return &pipeline.Run{
		ID:        uuid.Must(uuid.NewV7()).String(),
		StartedAt: time.Now().UTC().Truncate(time.Millisecond),
		Status:    status,
		Stages:    []pipeline.StageOutcome{{Name: "log-analysis", Status: status}},
	}
}

func TestSaveAndGet(t *testing.T) {
	s := openStore(t)
	run := newRun(pipeline.StatusSuccess)
	cfg := planner.TestConfig{URL: "http://x", TestType: planner.Load, DurationSeconds: 3600, Connections: 5, TargetTPS: 5}
	res := driver.TestResult{TotalRequests: 42}

	require.NoError(t, s.Save(Record{Run: run, Config: &cfg, Result: &res}))

	got, err := s.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.Run.ID)
	assert.Equal(t, pipeline.StatusSuccess, got.Run.Status)
	assert.Equal(t, cfg, *got.Config)
	assert.Equal(t, uint64(42), got.Result.TotalRequests)
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)
	_, err := s.Get("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveRequiresID(t *testing.T) {
	s := openStore(t)
	assert.Error(t, s.Save(Record{}))
	assert.Error(t, s.Save(Record{Run: &pipeline.Run{}}))
}

func TestListNewestFirst(t *testing.T) {
	s := openStore(t)
	var ids []string
	for i := 0; i < 3; i++ {
		run := newRun(pipeline.StatusFailed)
		ids = append(ids, run.ID)
		require.NoError(t, s.Save(Record{Run: run}))
		time.Sleep(2 * time.Millisecond)
	}

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].Run.ID)
	assert.Equal(t, ids[0], all[2].Run.ID)
	assert.Nil(t, all[0].Config)

	two, err := s.List(2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	run := newRun(pipeline.StatusSuccess)
	require.NoError(t, s.Save(Record{Run: run}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Get(run.ID)
	assert.NoError(t, err)
}
