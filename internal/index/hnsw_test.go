// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package index

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex() *HNSW {
	return New(Options{M: 8, EfConstruction: 64, EfSearch: 32, Seed: 42})
}

// randomUnitVector produces a deterministic pseudo-random unit vector
func randomUnitVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return Normalize(v)
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-6)
}

func TestNormalize_ZeroVector(t *testing.T) {
	v := Normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestCosine(t *testing.T) {
	a := Normalize([]float32{1, 0})
	b := Normalize([]float32{0, 1})
	c := Normalize([]float32{1, 0.01})

	assert.InDelta(t, 0.0, Cosine(a, b), 1e-6)
	assert.InDelta(t, 1.0, Cosine(a, a), 1e-6)
	assert.Greater(t, Cosine(a, c), 0.99)
}

func TestInsert_MissingEmbedding(t *testing.T) {
	idx := newTestIndex()

	err := idx.Insert("a", nil)
	assert.ErrorIs(t, err, ErrMissingEmbedding)

	err = idx.Insert("a", []float32{0, 0, 0})
	assert.ErrorIs(t, err, ErrMissingEmbedding)

	assert.Equal(t, 0, idx.Len())
}

func TestSearch_EmptyIndex(t *testing.T) {
	idx := newTestIndex()

	results := idx.Search([]float32{1, 0, 0}, 5)
	assert.Empty(t, results)
}

func TestSearch_SingleElement(t *testing.T) {
	idx := newTestIndex()
	require.NoError(t, idx.Insert("only", []float32{1, 0, 0}))

	results := idx.Search([]float32{1, 0, 0}, 5)
	require.Len(t, results, 1)
	assert.Equal(t, "only", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
}

func TestSearch_ReturnsNearest(t *testing.T) {
	idx := newTestIndex()

	require.NoError(t, idx.Insert("x", []float32{1, 0, 0}))
	require.NoError(t, idx.Insert("y", []float32{0, 1, 0}))
	require.NoError(t, idx.Insert("z", []float32{0, 0, 1}))
	require.NoError(t, idx.Insert("near-x", []float32{0.95, 0.05, 0}))

	results := idx.Search([]float32{1, 0, 0}, 2)
	require.Len(t, results, 2)
	assert.Equal(t, "x", results[0].ID)
	assert.Equal(t, "near-x", results[1].ID)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
}

func TestSearch_FewerThanK(t *testing.T) {
	idx := newTestIndex()
	require.NoError(t, idx.Insert("a", []float32{1, 0}))
	require.NoError(t, idx.Insert("b", []float32{0, 1}))

	results := idx.Search([]float32{1, 0}, 5)
	assert.Len(t, results, 2)
}

func TestRemove_ExcludedFromResults(t *testing.T) {
	idx := newTestIndex()
	require.NoError(t, idx.Insert("a", []float32{1, 0}))
	require.NoError(t, idx.Insert("b", []float32{0.9, 0.1}))

	idx.Remove("a")
	assert.Equal(t, 1, idx.Len())
	assert.False(t, idx.Contains("a"))

	results := idx.Search([]float32{1, 0}, 2)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestRemove_Unknown(t *testing.T) {
	idx := newTestIndex()
	idx.Remove("ghost") // no-op
	assert.Equal(t, 0, idx.Len())
}

func TestRemove_AllThenReinsert(t *testing.T) {
	idx := newTestIndex()
	require.NoError(t, idx.Insert("a", []float32{1, 0}))
	idx.Remove("a")

	assert.Empty(t, idx.Search([]float32{1, 0}, 3))

	require.NoError(t, idx.Insert("b", []float32{0, 1}))
	results := idx.Search([]float32{0, 1}, 3)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestInsert_ReplaceExisting(t *testing.T) {
	idx := newTestIndex()
	require.NoError(t, idx.Insert("a", []float32{1, 0}))
	require.NoError(t, idx.Insert("a", []float32{0, 1}))

	assert.Equal(t, 1, idx.Len())

	results := idx.Search([]float32{0, 1}, 1)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
}

func TestSearch_RecallOnClusteredData(t *testing.T) {
	idx := New(Options{M: 16, EfConstruction: 128, EfSearch: 64, Seed: 7})
	rng := rand.New(rand.NewSource(99))

	const dim = 32
	centers := [][]float32{
		randomUnitVector(rng, dim),
		randomUnitVector(rng, dim),
		randomUnitVector(rng, dim),
	}

	// 60 points, 20 per cluster, small perturbations around each center
	for c, center := range centers {
		for i := 0; i < 20; i++ {
			v := make([]float32, dim)
			for d := 0; d < dim; d++ {
				v[d] = center[d] + float32(rng.NormFloat64())*0.05
			}
			id := fmt.Sprintf("c%d-%d", c, i)
			require.NoError(t, idx.Insert(id, v))
		}
	}

	// Querying each center should return members of that cluster
	for c, center := range centers {
		results := idx.Search(center, 10)
		require.Len(t, results, 10)
		for _, r := range results {
			assert.Equal(t, fmt.Sprintf("c%d", c), r.ID[:2],
				"query for cluster %d returned %s (sim %f)", c, r.ID, r.Similarity)
		}
	}
}

func TestSearch_OrderedBySimilarity(t *testing.T) {
	idx := New(Options{M: 8, EfConstruction: 64, Seed: 3})
	rng := rand.New(rand.NewSource(5))

	for i := 0; i < 50; i++ {
		require.NoError(t, idx.Insert(fmt.Sprintf("r%d", i), randomUnitVector(rng, 16)))
	}

	query := randomUnitVector(rng, 16)
	results := idx.Search(query, 20)
	require.NotEmpty(t, results)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
}

func TestSearchWithEf_WiderBreadth(t *testing.T) {
	idx := New(Options{M: 4, EfConstruction: 16, EfSearch: 4, Seed: 11})
	rng := rand.New(rand.NewSource(17))

	for i := 0; i < 200; i++ {
		require.NoError(t, idx.Insert(fmt.Sprintf("r%d", i), randomUnitVector(rng, 8)))
	}

	query := randomUnitVector(rng, 8)
	narrow := idx.SearchWithEf(query, 10, 10)
	wide := idx.SearchWithEf(query, 10, 128)

	require.NotEmpty(t, narrow)
	require.Len(t, wide, 10)
	// Wider breadth never finds a worse best match
	assert.GreaterOrEqual(t, wide[0].Similarity+1e-9, narrow[0].Similarity)
}

func TestConcurrentInsertSearchRemove(t *testing.T) {
	idx := New(Options{M: 8, EfConstruction: 32, Seed: 23})

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker)))
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("w%d-%d", worker, i)
				err := idx.Insert(id, randomUnitVector(rng, 8))
				assert.NoError(t, err)
				idx.Search(randomUnitVector(rng, 8), 5)
				if i%10 == 9 {
					idx.Remove(id)
				}
			}
		}(w)
	}
	wg.Wait()

	// 4 workers x 50 inserts, 5 removals each
	assert.Equal(t, 4*(50-5), idx.Len())
}

func TestSearch_ZeroK(t *testing.T) {
	idx := newTestIndex()
	require.NoError(t, idx.Insert("a", []float32{1, 0}))
	assert.Empty(t, idx.Search([]float32{1, 0}, 0))
}

func TestCosine_SelfSimilarityAfterNormalize(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	for i := 0; i < 10; i++ {
		v := randomUnitVector(rng, 24)
		assert.False(t, math.IsNaN(Cosine(v, v)))
		assert.InDelta(t, 1.0, Cosine(v, v), 1e-5)
	}
}
