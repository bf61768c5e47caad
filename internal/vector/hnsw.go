package vector

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hyperjump/ruiji/internal/models"
)

// HNSWConfig holds Hierarchical Navigable Small World graph parameters.
type HNSWConfig struct {
	M              int   // max links per node above layer 0 (2*M at layer 0)
	EfConstruction int   // candidate list size while inserting
	EfSearch       int   // candidate list size while searching (raised to k when smaller)
	Seed           int64 // level generator seed; equal seeds and inputs give equal graphs
}

// DefaultHNSWConfig returns parameters that keep recall high for corpora up to ~1e6 items.
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{M: 16, EfConstruction: 200, EfSearch: 64, Seed: 42}
}

// HNSWIndex is an approximate nearest neighbour index. Build constructs a fresh graph
// off-lock and swaps it in, so queries keep hitting the previous graph until it is ready.
type HNSWIndex struct {
	dimensions int
	cfg        HNSWConfig
	g          *hnswGraph
	generation atomic.Uint64
	mu         sync.RWMutex
}

type hnswNode struct {
	id      string
	vec     []float32
	friends [][]string // friends[level] = neighbour ids
}

type hnswGraph struct {
	cfg        HNSWConfig
	nodes      map[string]*hnswNode
	entryPoint string
	maxLevel   int
	levelMult  float64
	rng        *rand.Rand
}

func newHNSWGraph(cfg HNSWConfig) *hnswGraph {
	return &hnswGraph{
		cfg:       cfg,
		nodes:     make(map[string]*hnswNode),
		maxLevel:  -1,
		levelMult: 1 / math.Log(float64(cfg.M)),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}
}

// NewHNSWIndex creates an HNSW index. Zero config fields take DefaultHNSWConfig values.
func NewHNSWIndex(dimensions int, cfg HNSWConfig) (*HNSWIndex, error) {
	if err := checkDimensions(dimensions); err != nil {
		return nil, err
	}
	def := DefaultHNSWConfig()
	if cfg.M <= 1 {
		cfg.M = def.M
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = def.EfConstruction
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = def.EfSearch
	}
	return &HNSWIndex{dimensions: dimensions, cfg: cfg, g: newHNSWGraph(cfg)}, nil
}

// Type returns the index type identifier.
func (h *HNSWIndex) Type() string {
	return string(IndexTypeHNSW)
}

// Build constructs a new graph from entries and replaces the current one.
func (h *HNSWIndex) Build(ctx context.Context, entries []Entry) error {
	deduped, err := dedupeEntries(entries, h.dimensions)
	if err != nil {
		return err
	}
	g := newHNSWGraph(h.cfg)
	for i, e := range deduped {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		g.insert(e.ID, e.Vector)
	}
	h.mu.Lock()
	h.g = g
	h.mu.Unlock()
	h.generation.Add(1)
	return nil
}

// Insert adds or replaces one entry.
func (h *HNSWIndex) Insert(ctx context.Context, entry Entry) error {
	if err := checkVector(entry.ID, entry.Vector, h.dimensions); err != nil {
		return err
	}
	vec := make([]float32, h.dimensions)
	copy(vec, entry.Vector)
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.g.nodes[entry.ID]; ok {
		h.g.remove(entry.ID)
	}
	h.g.insert(entry.ID, vec)
	h.generation.Add(1)
	return nil
}

// Remove deletes id from every layer and repairs the neighbours it leaves behind.
func (h *HNSWIndex) Remove(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.g.nodes[id]; !ok {
		return fmt.Errorf("%w: vector %q", models.ErrNotFound, id)
	}
	h.g.remove(id)
	h.generation.Add(1)
	return nil
}

// Search returns approximately the top-k entries by inner product.
func (h *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := checkVector("query", query, h.dimensions); err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	g := h.g
	if len(g.nodes) == 0 {
		return nil, models.ErrEmptyIndex
	}
	if k <= 0 {
		return []*VectorResult{}, nil
	}
	ef := g.cfg.EfSearch
	if ef < k {
		ef = k
	}
	ep := g.entryPoint
	for level := g.maxLevel; level > 0; level-- {
		ep = g.greedy(query, ep, level)
	}
	results := g.searchLayer(query, ep, ef, 0)
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Contains reports whether id has a vector.
func (h *HNSWIndex) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.g.nodes[id]
	return ok
}

// Entries returns a copy of all entries ordered by id.
func (h *HNSWIndex) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Entry, 0, len(h.g.nodes))
	for id, n := range h.g.nodes {
		vec := make([]float32, len(n.vec))
		copy(vec, n.vec)
		out = append(out, Entry{ID: id, Vector: vec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Size returns the number of vectors in the index.
func (h *HNSWIndex) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.g.nodes)
}

// Dimensions returns the vector dimension.
func (h *HNSWIndex) Dimensions() int {
	return h.dimensions
}

// Generation returns the mutation counter.
func (h *HNSWIndex) Generation() uint64 {
	return h.generation.Load()
}

// Close releases the graph.
func (h *HNSWIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.g = newHNSWGraph(h.cfg)
	return nil
}

func (g *hnswGraph) maxConn(level int) int {
	if level == 0 {
		return g.cfg.M * 2
	}
	return g.cfg.M
}

func (g *hnswGraph) randomLevel() int {
	return int(math.Floor(-math.Log(1-g.rng.Float64()) * g.levelMult))
}

func (g *hnswGraph) insert(id string, vec []float32) {
	level := g.randomLevel()
	node := &hnswNode{id: id, vec: vec, friends: make([][]string, level+1)}
	g.nodes[id] = node
	if g.entryPoint == "" {
		g.entryPoint = id
		g.maxLevel = level
		return
	}

	ep := g.entryPoint
	for l := g.maxLevel; l > level; l-- {
		ep = g.greedy(vec, ep, l)
	}
	for l := min(level, g.maxLevel); l >= 0; l-- {
		candidates := g.searchLayer(vec, ep, g.cfg.EfConstruction, l)
		sortResults(candidates)
		neighbours := make([]string, 0, g.cfg.M)
		for _, c := range candidates {
			if c.ID == id {
				continue
			}
			neighbours = append(neighbours, c.ID)
			if len(neighbours) == g.cfg.M {
				break
			}
		}
		node.friends[l] = neighbours
		for _, nid := range neighbours {
			g.link(g.nodes[nid], id, l)
		}
		if len(candidates) > 0 {
			ep = candidates[0].ID
		}
	}
	if level > g.maxLevel {
		g.maxLevel = level
		g.entryPoint = id
	}
}

// link adds a directed edge n -> id at level, keeping only the closest maxConn links.
func (g *hnswGraph) link(n *hnswNode, id string, level int) {
	for _, f := range n.friends[level] {
		if f == id {
			return
		}
	}
	n.friends[level] = append(n.friends[level], id)
	limit := g.maxConn(level)
	if len(n.friends[level]) <= limit {
		return
	}
	scored := make([]*VectorResult, 0, len(n.friends[level]))
	for _, f := range n.friends[level] {
		scored = append(scored, &VectorResult{ID: f, Score: InnerProduct(n.vec, g.nodes[f].vec)})
	}
	sortResults(scored)
	kept := make([]string, limit)
	for i := range kept {
		kept[i] = scored[i].ID
	}
	n.friends[level] = kept
}

func (g *hnswGraph) remove(id string) {
	node := g.nodes[id]
	delete(g.nodes, id)
	for level, friends := range node.friends {
		for _, fid := range friends {
			if f, ok := g.nodes[fid]; ok && level < len(f.friends) {
				f.friends[level] = without(f.friends[level], id)
			}
		}
		// Reconnect orphaned neighbours to each other, closest first.
		for _, fid := range friends {
			f, ok := g.nodes[fid]
			if !ok || level >= len(f.friends) {
				continue
			}
			scored := make([]*VectorResult, 0, len(friends))
			for _, oid := range friends {
				o, ok := g.nodes[oid]
				if !ok || oid == fid || level >= len(o.friends) {
					continue
				}
				scored = append(scored, &VectorResult{ID: oid, Score: InnerProduct(f.vec, o.vec)})
			}
			sortResults(scored)
			for _, s := range scored {
				if len(f.friends[level]) >= g.maxConn(level) {
					break
				}
				g.link(f, s.ID, level)
			}
		}
	}
	// Drop any remaining back-references from nodes that were not listed as friends.
	for _, n := range g.nodes {
		for level := range n.friends {
			n.friends[level] = without(n.friends[level], id)
		}
	}
	if g.entryPoint == id {
		g.selectEntryPoint()
	}
}

func (g *hnswGraph) selectEntryPoint() {
	g.entryPoint = ""
	g.maxLevel = -1
	for id, n := range g.nodes {
		top := len(n.friends) - 1
		if top > g.maxLevel || (top == g.maxLevel && id < g.entryPoint) {
			g.entryPoint = id
			g.maxLevel = top
		}
	}
}

func without(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

// greedy walks level from ep towards the query until no neighbour is closer.
func (g *hnswGraph) greedy(query []float32, ep string, level int) string {
	best := InnerProduct(query, g.nodes[ep].vec)
	for changed := true; changed; {
		changed = false
		n := g.nodes[ep]
		if level >= len(n.friends) {
			break
		}
		for _, fid := range n.friends[level] {
			s := InnerProduct(query, g.nodes[fid].vec)
			if s > best || (s == best && fid < ep) {
				best, ep, changed = s, fid, true
			}
		}
	}
	return ep
}

// searchLayer is the best-first beam search over one layer, returning up to ef hits (unordered).
func (g *hnswGraph) searchLayer(query []float32, ep string, ef, level int) []*VectorResult {
	visited := map[string]struct{}{ep: {}}
	start := &VectorResult{ID: ep, Score: InnerProduct(query, g.nodes[ep].vec)}
	candidates := &maxHeap{start}
	results := &minHeap{start}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(*VectorResult)
		if results.Len() >= ef && c.Score < (*results)[0].Score {
			break
		}
		n := g.nodes[c.ID]
		if level >= len(n.friends) {
			continue
		}
		for _, fid := range n.friends[level] {
			if _, seen := visited[fid]; seen {
				continue
			}
			visited[fid] = struct{}{}
			r := &VectorResult{ID: fid, Score: InnerProduct(query, g.nodes[fid].vec)}
			if results.Len() < ef || r.Score > (*results)[0].Score {
				heap.Push(candidates, r)
				heap.Push(results, r)
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}
	return []*VectorResult(*results)
}

type maxHeap []*VectorResult

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].Score > h[j].Score }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(*VectorResult)) }
func (h *maxHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

type minHeap []*VectorResult

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(*VectorResult)) }
func (h *minHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
