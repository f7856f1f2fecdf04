package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaforge/internal/models"
)

func newConversion(id string, status models.JobStatus) models.ConversionJob {
	now := time.Now()
	return models.ConversionJob{
		ID:        id,
		Kind:      models.KindAudio,
		Format:    "mp3",
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateAndGet(t *testing.T) {
	r := New[models.ConversionJob](nil)

	require.True(t, r.Create("a", newConversion("a", models.StatusPending)))
	job, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", job.ID)
	assert.Equal(t, models.StatusPending, job.Status)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	r := New[models.ConversionJob](nil)

	require.True(t, r.Create("a", newConversion("a", models.StatusPending)))
	assert.False(t, r.Create("a", newConversion("a", models.StatusPending)))
	assert.Equal(t, 1, r.Len())
}

func TestGetReturnsCopy(t *testing.T) {
	r := New[models.ConversionJob](nil)
	require.True(t, r.Create("a", newConversion("a", models.StatusPending)))

	job, ok := r.Get("a")
	require.True(t, ok)
	job.Status = models.StatusError
	job.Progress = 77

	stored, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, 0, stored.Progress)
}

func TestUpdateMutatesOnlyTouchedFields(t *testing.T) {
	r := New[models.ConversionJob](nil)
	require.True(t, r.Create("a", newConversion("a", models.StatusPending)))

	updated, ok := r.Update("a", func(j *models.ConversionJob) {
		j.Status = models.StatusProcessing
		j.Progress = 42
	})
	require.True(t, ok)
	assert.Equal(t, models.StatusProcessing, updated.Status)
	assert.Equal(t, 42, updated.Progress)
	assert.Equal(t, "mp3", updated.Format)

	_, ok = r.Update("missing", func(j *models.ConversionJob) {})
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	r := New[models.ConversionJob](nil)
	require.True(t, r.Create("a", newConversion("a", models.StatusPending)))

	assert.True(t, r.Delete("a"))
	assert.False(t, r.Delete("a"))
	_, ok := r.Get("a")
	assert.False(t, ok)
}

func TestListPreservesCreationOrder(t *testing.T) {
	r := New[models.ConversionJob](nil)
	for _, id := range []string{"first", "second", "third"} {
		require.True(t, r.Create(id, newConversion(id, models.StatusPending)))
	}
	require.True(t, r.Delete("second"))

	jobs := r.List()
	require.Len(t, jobs, 2)
	assert.Equal(t, "first", jobs[0].ID)
	assert.Equal(t, "third", jobs[1].ID)
}

func TestListByStatus(t *testing.T) {
	r := New[models.ConversionJob](nil)
	require.True(t, r.Create("a", newConversion("a", models.StatusPending)))
	require.True(t, r.Create("b", newConversion("b", models.StatusCompleted)))
	require.True(t, r.Create("c", newConversion("c", models.StatusPending)))

	pending := r.ListByStatus(models.StatusPending)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, "c", pending[1].ID)

	assert.Empty(t, r.ListByStatus(models.StatusError))
}

func TestMirrorReceivesSnapshots(t *testing.T) {
	var seen []models.ConversionJob
	r := New(func(j models.ConversionJob) { seen = append(seen, j) })

	require.True(t, r.Create("a", newConversion("a", models.StatusPending)))
	_, ok := r.Update("a", func(j *models.ConversionJob) { j.Status = models.StatusCompleted })
	require.True(t, ok)

	require.Len(t, seen, 2)
	assert.Equal(t, models.StatusPending, seen[0].Status)
	assert.Equal(t, models.StatusCompleted, seen[1].Status)
}
