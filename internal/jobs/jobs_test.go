package jobs

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	reg := NewRegistry()
	created := reg.Create("acme_co", "conn_abc")

	assert.True(t, strings.HasPrefix(created.ID, "job_"))
	assert.Equal(t, StatusQueued, created.Status)
	assert.Equal(t, "acme_co", created.Tenant)
	assert.Equal(t, "conn_abc", created.ConnectionID)
	assert.False(t, created.StartedAt.IsZero())
	assert.Nil(t, created.CompletedAt)
	assert.NotNil(t, created.Errors)

	got, err := reg.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestGetUnknown(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("job_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateProgress(t *testing.T) {
	reg := NewRegistry()
	created := reg.Create("acme_co", "conn_abc")

	err := reg.Update(created.ID, func(j *Job) {
		j.Status = StatusRunning
		j.TotalDocs = 5
		j.ProcessedDocs = 4
		j.ProcessedPages = 12
		j.Errors = append(j.Errors, "report.pdf: download failed")
	})
	require.NoError(t, err)

	got, err := reg.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 4, got.ProcessedDocs)
	assert.Equal(t, 12, got.ProcessedPages)
	assert.Equal(t, []string{"report.pdf: download failed"}, got.Errors)
}

func TestSnapshotIsolation(t *testing.T) {
	reg := NewRegistry()
	created := reg.Create("acme_co", "conn_abc")
	require.NoError(t, reg.Update(created.ID, func(j *Job) {
		j.Errors = append(j.Errors, "first")
	}))

	snap, err := reg.Get(created.ID)
	require.NoError(t, err)
	snap.Errors[0] = "mutated"
	snap.Errors = append(snap.Errors, "extra")

	got, err := reg.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, got.Errors)
}

func TestListFiltersByTenantNewestFirst(t *testing.T) {
	reg := NewRegistry()
	clock := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	first := reg.Create("acme_co", "conn_abc")
	reg.Create("other_co", "conn_xyz")
	second := reg.Create("acme_co", "conn_abc")

	list := reg.List("acme_co")
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	assert.Empty(t, reg.List("unknown_co"))
}

func TestComplete(t *testing.T) {
	reg := NewRegistry()
	created := reg.Create("acme_co", "conn_abc")

	require.NoError(t, reg.Complete(created.ID, StatusCompleted))
	got, err := reg.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.False(t, got.CompletedAt.Before(got.StartedAt))
}

func TestCompleteRejectsNonTerminal(t *testing.T) {
	reg := NewRegistry()
	created := reg.Create("acme_co", "conn_abc")
	assert.Error(t, reg.Complete(created.ID, StatusRunning))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestJobIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewJobID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
