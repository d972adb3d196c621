// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package index provides an in-process approximate nearest-neighbor
// index over memory embeddings, implemented as a hierarchical navigable
// small world (HNSW) graph. Similarity is cosine, computed on normalized
// vectors. The index is safe for concurrent use; it is rebuilt from the
// record store at startup and updated incrementally afterwards, so a
// brief window where a record exists but is not yet searchable is
// acceptable.
package index

import (
	"container/heap"
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// ErrMissingEmbedding is returned when an index operation is attempted
// for a record that has no embedding vector yet.
var ErrMissingEmbedding = errors.New("record has no embedding")

// Default HNSW construction parameters. M and EfConstruction are fixed
// at build time; EfSearch may be overridden per query.
const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 64
)

// Result is a single similarity-search hit
type Result struct {
	ID         string
	Similarity float64
}

// Options configures HNSW construction
type Options struct {
	M              int
	EfConstruction int
	EfSearch       int
	Seed           int64
}

// node is a single graph vertex. Removed nodes are tombstoned rather
// than unlinked so they keep routing traversals; they are excluded from
// results and from counts.
type node struct {
	id        string
	vector    []float32
	level     int
	neighbors [][]string
	deleted   bool
}

// HNSW is a hierarchical navigable small world graph index
type HNSW struct {
	mu sync.RWMutex

	m              int
	mMax0          int
	efConstruction int
	efSearch       int
	levelMult      float64

	nodes    map[string]*node
	entry    string
	maxLevel int
	live     int

	rng *rand.Rand
}

// New creates an empty HNSW index with the given options. Zero-valued
// options fall back to defaults.
func New(opts Options) *HNSW {
	if opts.M < 2 {
		opts.M = DefaultM
	}
	if opts.EfConstruction < opts.M {
		opts.EfConstruction = DefaultEfConstruction
	}
	if opts.EfSearch <= 0 {
		opts.EfSearch = DefaultEfSearch
	}
	if opts.Seed == 0 {
		opts.Seed = 1
	}

	return &HNSW{
		m:              opts.M,
		mMax0:          opts.M * 2,
		efConstruction: opts.EfConstruction,
		efSearch:       opts.EfSearch,
		levelMult:      1.0 / math.Log(float64(opts.M)),
		nodes:          make(map[string]*node),
		maxLevel:       -1,
		rng:            rand.New(rand.NewSource(opts.Seed)),
	}
}

// Normalize returns a unit-length copy of the vector. A zero vector is
// returned unchanged.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	copy(out, v)
	if norm == 0 {
		return out
	}
	inv := 1.0 / math.Sqrt(norm)
	for i := range out {
		out[i] = float32(float64(out[i]) * inv)
	}
	return out
}

// Cosine computes cosine similarity between two normalized vectors
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// Len returns the number of live (non-tombstoned) entries
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.live
}

// Contains reports whether the index holds a live entry for the id
func (h *HNSW) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n, ok := h.nodes[id]
	return ok && !n.deleted
}

// Insert adds a vector to the index under the given id. The vector is
// normalized internally. Inserting an id that is already present
// replaces its previous vector. An empty or zero vector is rejected
// with ErrMissingEmbedding.
func (h *HNSW) Insert(id string, vector []float32) error {
	if len(vector) == 0 {
		return ErrMissingEmbedding
	}
	var norm float64
	for _, x := range vector {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return ErrMissingEmbedding
	}

	vec := Normalize(vector)

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.nodes[id]; ok && !old.deleted {
		h.tombstone(old)
	}

	level := h.randomLevel()
	n := &node{
		id:        id,
		vector:    vec,
		level:     level,
		neighbors: make([][]string, level+1),
	}

	if h.entry == "" {
		h.nodes[id] = n
		h.entry = id
		h.maxLevel = level
		h.live++
		return nil
	}

	ep := h.entry

	// Greedy descent through layers above the new node's level
	for lc := h.maxLevel; lc > level; lc-- {
		ep = h.greedyClosest(vec, ep, lc)
	}

	// Build connections from the insertion level down
	top := level
	if top > h.maxLevel {
		top = h.maxLevel
	}
	for lc := top; lc >= 0; lc-- {
		candidates := h.searchLayer(vec, ep, h.efConstruction, lc)

		maxConn := h.m
		if lc == 0 {
			maxConn = h.mMax0
		}
		selected := h.selectNeighbors(candidates, h.m)

		n.neighbors[lc] = make([]string, 0, len(selected))
		for _, c := range selected {
			n.neighbors[lc] = append(n.neighbors[lc], c.id)
			h.link(c.id, id, lc, maxConn)
		}

		if len(candidates) > 0 {
			ep = candidates[0].id
		}
	}

	h.nodes[id] = n
	h.live++

	if level > h.maxLevel {
		h.maxLevel = level
		h.entry = id
	}
	return nil
}

// Remove tombstones the entry for the id. Removing an unknown id is a
// no-op.
func (h *HNSW) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, ok := h.nodes[id]
	if !ok || n.deleted {
		return
	}
	h.tombstone(n)
}

// Search returns up to k live entries most similar to the query,
// ordered by descending cosine similarity. Searching an empty index
// returns an empty slice, not an error.
func (h *HNSW) Search(query []float32, k int) []Result {
	return h.SearchWithEf(query, k, 0)
}

// SearchWithEf is Search with an explicit search-breadth override.
// ef <= 0 uses the configured default. Larger ef trades latency for
// recall.
func (h *HNSW) SearchWithEf(query []float32, k int, ef int) []Result {
	if k <= 0 {
		return []Result{}
	}

	q := Normalize(query)

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.entry == "" || h.live == 0 {
		return []Result{}
	}

	if ef <= 0 {
		ef = h.efSearch
	}
	if ef < k {
		ef = k
	}

	ep := h.entry
	for lc := h.maxLevel; lc > 0; lc-- {
		ep = h.greedyClosest(q, ep, lc)
	}

	candidates := h.searchLayer(q, ep, ef, 0)

	results := make([]Result, 0, k)
	for _, c := range candidates {
		n := h.nodes[c.id]
		if n == nil || n.deleted {
			continue
		}
		results = append(results, Result{ID: c.id, Similarity: 1.0 - c.dist})
		if len(results) == k {
			break
		}
	}
	return results
}

// tombstone marks a node deleted and repairs the entry point if needed.
// The caller must hold the write lock.
func (h *HNSW) tombstone(n *node) {
	n.deleted = true
	h.live--

	if h.entry != n.id {
		return
	}

	// Pick the highest-level surviving node as the new entry point.
	// Tombstones stay linked and keep routing traversals below it.
	h.entry = ""
	h.maxLevel = -1
	for id, other := range h.nodes {
		if other.deleted {
			continue
		}
		if other.level > h.maxLevel {
			h.maxLevel = other.level
			h.entry = id
		}
	}
}

// randomLevel draws a level from the standard HNSW geometric
// distribution. The caller must hold the write lock.
func (h *HNSW) randomLevel() int {
	r := h.rng.Float64()
	for r == 0 {
		r = h.rng.Float64()
	}
	return int(-math.Log(r) * h.levelMult)
}

// distance converts cosine similarity to a distance in [0, 2]
func (h *HNSW) distance(q []float32, id string) float64 {
	return 1.0 - Cosine(q, h.nodes[id].vector)
}

// greedyClosest walks layer lc greedily toward the query from the given
// entry point and returns the closest node found.
func (h *HNSW) greedyClosest(q []float32, ep string, lc int) string {
	cur := ep
	curDist := h.distance(q, cur)

	for {
		improved := false
		n := h.nodes[cur]
		if n == nil || lc >= len(n.neighbors) {
			return cur
		}
		for _, nb := range n.neighbors[lc] {
			if _, ok := h.nodes[nb]; !ok {
				continue
			}
			d := h.distance(q, nb)
			if d < curDist {
				cur = nb
				curDist = d
				improved = true
			}
		}
		if !improved {
			return cur
		}
	}
}

type scored struct {
	id   string
	dist float64
}

// minHeap orders candidates closest-first
type minHeap []scored

func (p minHeap) Len() int            { return len(p) }
func (p minHeap) Less(i, j int) bool  { return p[i].dist < p[j].dist }
func (p minHeap) Swap(i, j int)       { p[i], p[j] = p[j], p[i] }
func (p *minHeap) Push(x interface{}) { *p = append(*p, x.(scored)) }
func (p *minHeap) Pop() interface{} {
	old := *p
	n := len(old)
	item := old[n-1]
	*p = old[:n-1]
	return item
}

// maxHeap orders the bounded result set farthest-first for eviction
type maxHeap []scored

func (p maxHeap) Len() int            { return len(p) }
func (p maxHeap) Less(i, j int) bool  { return p[i].dist > p[j].dist }
func (p maxHeap) Swap(i, j int)       { p[i], p[j] = p[j], p[i] }
func (p *maxHeap) Push(x interface{}) { *p = append(*p, x.(scored)) }
func (p *maxHeap) Pop() interface{} {
	old := *p
	n := len(old)
	item := old[n-1]
	*p = old[:n-1]
	return item
}

// searchLayer performs bounded best-first search on a single layer and
// returns up to ef candidates ordered closest-first. The caller must
// hold at least the read lock.
func (h *HNSW) searchLayer(q []float32, ep string, ef int, lc int) []scored {
	visited := map[string]bool{ep: true}

	epDist := h.distance(q, ep)
	candidates := minHeap{{id: ep, dist: epDist}}
	found := maxHeap{{id: ep, dist: epDist}}
	heap.Init(&candidates)
	heap.Init(&found)

	for candidates.Len() > 0 {
		cur := heap.Pop(&candidates).(scored)
		if cur.dist > found[0].dist && found.Len() >= ef {
			break
		}

		n := h.nodes[cur.id]
		if n == nil || lc >= len(n.neighbors) {
			continue
		}
		for _, nb := range n.neighbors[lc] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			if _, ok := h.nodes[nb]; !ok {
				continue
			}

			d := h.distance(q, nb)
			if found.Len() < ef || d < found[0].dist {
				heap.Push(&candidates, scored{id: nb, dist: d})
				heap.Push(&found, scored{id: nb, dist: d})
				if found.Len() > ef {
					heap.Pop(&found)
				}
			}
		}
	}

	out := make([]scored, found.Len())
	copy(out, found)
	sort.Slice(out, func(i, j int) bool { return out[i].dist < out[j].dist })
	return out
}

// selectNeighbors keeps the m closest candidates (simple selection
// heuristic)
func (h *HNSW) selectNeighbors(candidates []scored, m int) []scored {
	if len(candidates) <= m {
		return candidates
	}
	return candidates[:m]
}

// link adds a backward edge from an existing node to the new node,
// shrinking the neighbor list to the closest maxConn entries when it
// overflows. The caller must hold the write lock.
func (h *HNSW) link(from, to string, lc int, maxConn int) {
	n := h.nodes[from]
	if n == nil || lc >= len(n.neighbors) {
		return
	}

	n.neighbors[lc] = append(n.neighbors[lc], to)
	if len(n.neighbors[lc]) <= maxConn {
		return
	}

	// Keep the closest maxConn neighbors
	nbs := make([]scored, 0, len(n.neighbors[lc]))
	for _, nb := range n.neighbors[lc] {
		other := h.nodes[nb]
		if other == nil {
			continue
		}
		nbs = append(nbs, scored{id: nb, dist: 1.0 - Cosine(n.vector, other.vector)})
	}
	sort.Slice(nbs, func(i, j int) bool { return nbs[i].dist < nbs[j].dist })
	if len(nbs) > maxConn {
		nbs = nbs[:maxConn]
	}

	kept := make([]string, len(nbs))
	for i, s := range nbs {
		kept[i] = s.id
	}
	n.neighbors[lc] = kept
}
