package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitVec(dims, hot int) []float32 {
	v := make([]float32, dims)
	v[hot] = 1
	return v
}

func TestIndexUpsertAndSearch(t *testing.T) {
	idx, err := OpenVectorIndex(t.TempDir(), 4)
	require.NoError(t, err)

	require.NoError(t, idx.Upsert("a", unitVec(4, 0)))
	require.NoError(t, idx.Upsert("b", unitVec(4, 1)))
	require.NoError(t, idx.Upsert("c", []float32{0.9, 0.1, 0, 0}))

	hits := idx.Search(unitVec(4, 0), 2)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "c", hits[1].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestIndexUpsertOverwrites(t *testing.T) {
	idx, err := OpenVectorIndex(t.TempDir(), 4)
	require.NoError(t, err)

	require.NoError(t, idx.Upsert("a", unitVec(4, 0)))
	require.NoError(t, idx.Upsert("a", unitVec(4, 3)))
	assert.Equal(t, 1, idx.Len())

	hits := idx.Search(unitVec(4, 3), 1)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestIndexRejectsWrongDimensions(t *testing.T) {
	idx, err := OpenVectorIndex(t.TempDir(), 4)
	require.NoError(t, err)
	assert.Error(t, idx.Upsert("a", unitVec(8, 0)))
}

func TestIndexRemove(t *testing.T) {
	idx, err := OpenVectorIndex(t.TempDir(), 4)
	require.NoError(t, err)

	require.NoError(t, idx.Upsert("a", unitVec(4, 0)))
	require.NoError(t, idx.Remove("a"))
	assert.Equal(t, 0, idx.Len())
	assert.Empty(t, idx.Search(unitVec(4, 0), 5))
}

func TestIndexPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	idx, err := OpenVectorIndex(dir, 4)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert("a", unitVec(4, 0)))
	require.NoError(t, idx.Upsert("b", unitVec(4, 1)))
	require.NoError(t, idx.Remove("b"))

	reopened, err := OpenVectorIndex(dir, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())

	hits := reopened.Search(unitVec(4, 0), 1)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
}

func TestIndexDimensionChangeInvalidates(t *testing.T) {
	dir := t.TempDir()

	idx, err := OpenVectorIndex(dir, 4)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert("a", unitVec(4, 0)))

	widened, err := OpenVectorIndex(dir, 8)
	require.NoError(t, err)
	assert.Equal(t, 0, widened.Len(), "stale index with other dimensions starts empty")
}

func TestIndexRebuildCompacts(t *testing.T) {
	dir := t.TempDir()

	idx, err := OpenVectorIndex(dir, 4)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert("a", unitVec(4, 0)))
	require.NoError(t, idx.Upsert("b", unitVec(4, 1)))

	require.NoError(t, idx.Rebuild(map[string][]float32{
		"b": unitVec(4, 1),
		"c": unitVec(4, 2),
	}))
	assert.Equal(t, 2, idx.Len())
	for _, hit := range idx.Search(unitVec(4, 0), 10) {
		assert.NotEqual(t, "a", hit.ID)
	}

	hits := idx.Search(unitVec(4, 2), 1)
	require.Len(t, hits, 1)
	assert.Equal(t, "c", hits[0].ID)

	reopened, err := OpenVectorIndex(dir, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())
}
