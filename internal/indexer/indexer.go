// Package indexer keeps the corpus registry, similarity index, and persistent store in step.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperjump/ruiji/internal/corpus"
	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/ingest"
	"github.com/hyperjump/ruiji/internal/metrics"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/storage"
	"github.com/hyperjump/ruiji/internal/vector"
	"go.uber.org/zap"
)

// State is the lifecycle of the served index.
type State int32

const (
	StateEmpty State = iota
	StateBuilding
	StateReady
	StateUpdating
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	case StateUpdating:
		return "updating"
	default:
		return "unknown"
	}
}

// Config selects the index implementation and the recall check applied to approximate builds.
type Config struct {
	IndexType        string
	HNSW             vector.HNSWConfig
	RecallThreshold  float64
	RecallSampleSize int
	RecallK          int
}

// Stats is a point-in-time view of the indexer.
type Stats struct {
	State      string  `json:"state"`
	Items      int     `json:"items"`
	Vectors    int     `json:"vectors"`
	IndexType  string  `json:"index_type"`
	Dimensions int     `json:"dimensions"`
	Generation uint64  `json:"generation"`
	Recall     float64 `json:"recall,omitempty"`
}

type served struct {
	idx vector.Index
}

// Indexer owns all corpus mutations. Mutations are serialized; queries read the current index
// without taking the mutation lock.
type Indexer struct {
	registry *corpus.Registry
	embedder embedding.Embedder
	store    storage.Storage // optional
	cfg      Config
	logger   *zap.Logger

	mu      sync.Mutex
	current atomic.Pointer[served]
	state   atomic.Int32
	recall  atomic.Uint64

	reader  *ingest.Reader
	filesMu sync.Mutex
	files   map[string]fileStamp
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for index lifecycle events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithStorage persists items and vectors to store.
func WithStorage(store storage.Storage) IndexerOption {
	return func(idx *Indexer) { idx.store = store }
}

// NewIndexer creates an indexer with an empty index of cfg.IndexType.
func NewIndexer(registry *corpus.Registry, embedder embedding.Embedder, cfg Config, opts ...IndexerOption) (*Indexer, error) {
	if cfg.RecallK <= 0 {
		cfg.RecallK = 5
	}
	idx := &Indexer{
		registry: registry,
		embedder: embedder,
		cfg:      cfg,
		logger:   zap.NewNop(),
		reader:   ingest.NewReader(),
		files:    make(map[string]fileStamp),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = zap.NewNop()
	}
	empty, err := vector.NewIndex(cfg.IndexType, embedder.Dimensions(), cfg.HNSW)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	idx.current.Store(&served{idx: empty})
	idx.state.Store(int32(StateEmpty))
	return idx, nil
}

// Index returns the index currently serving queries.
func (idx *Indexer) Index() vector.Index {
	return idx.current.Load().idx
}

// Registry returns the corpus registry the indexer writes to.
func (idx *Indexer) Registry() *corpus.Registry {
	return idx.registry
}

// State returns the current lifecycle state.
func (idx *Indexer) State() State {
	return State(idx.state.Load())
}

// Stats returns counters for the status endpoint.
func (idx *Indexer) Stats() Stats {
	cur := idx.Index()
	return Stats{
		State:      idx.State().String(),
		Items:      idx.registry.Len(),
		Vectors:    cur.Size(),
		IndexType:  cur.Type(),
		Dimensions: cur.Dimensions(),
		Generation: cur.Generation(),
		Recall:     math.Float64frombits(idx.recall.Load()),
	}
}

// AddItem registers, embeds, indexes, and persists one item, returning its id.
func (idx *Indexer) AddItem(ctx context.Context, input models.ItemInput) (string, error) {
	ids, err := idx.AddItems(ctx, []models.ItemInput{input})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// AddItems registers a batch of items. The batch is rejected as a whole when any item has empty
// text or conflicts with a registered id; items already registered with the same text are kept
// as they are. New items are persisted before they are registered and indexed, so a failed
// save leaves nothing behind.
func (idx *Indexer) AddItems(ctx context.Context, inputs []models.ItemInput) ([]string, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	texts := make([]string, len(inputs))
	for i := range inputs {
		inputs[i].Text = Preprocess(inputs[i].Text)
		inputs[i].ID = strings.TrimSpace(inputs[i].ID)
		if inputs[i].Text == "" {
			return nil, fmt.Errorf("%w: item %d has empty text", models.ErrInvalidConfig, i)
		}
		texts[i] = inputs[i].Text
	}
	if err := idx.checkConflicts(inputs); err != nil {
		return nil, err
	}

	start := time.Now()
	vecs, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	prev := idx.State()
	idx.state.Store(int32(StateUpdating))
	defer func() {
		if idx.Index().Size() > 0 {
			idx.state.Store(int32(StateReady))
		} else {
			idx.state.Store(int32(prev))
		}
	}()

	if err := idx.checkConflicts(inputs); err != nil {
		return nil, err
	}
	cur := idx.Index()
	ids := make([]string, len(inputs))
	added := make([]storage.StoredItem, 0, len(inputs))
	pending := make(map[string]struct{}, len(inputs))
	for i, in := range inputs {
		item := idx.registry.Prepare(in)
		ids[i] = item.ID
		if _, dup := pending[item.ID]; dup {
			continue
		}
		if idx.registry.Contains(item.ID) && cur.Contains(item.ID) {
			continue
		}
		pending[item.ID] = struct{}{}
		added = append(added, storage.StoredItem{Item: &item, Vector: vecs[i]})
	}
	// Persisted before registration so a storage failure leaves the registry and index as they were.
	if idx.store != nil && len(added) > 0 {
		if err := idx.store.BatchSaveItems(ctx, added); err != nil {
			return nil, fmt.Errorf("failed to persist items: %w", err)
		}
	}
	for i, a := range added {
		wasRegistered := idx.registry.Contains(a.Item.ID)
		if err := idx.registry.Restore(a.Item); err != nil {
			idx.discard(ctx, added[i:])
			return nil, fmt.Errorf("failed to register item: %w", err)
		}
		if err := cur.Insert(ctx, vector.Entry{ID: a.Item.ID, Vector: a.Vector}); err != nil {
			if !wasRegistered {
				_ = idx.registry.Remove(a.Item.ID)
			}
			idx.discard(ctx, added[i:])
			return nil, fmt.Errorf("failed to index item %s: %w", a.Item.ID, err)
		}
	}
	metrics.IndexSize.Set(float64(cur.Size()))
	idx.logger.Debug("indexer items added",
		zap.Int("requested", len(inputs)),
		zap.Int("added", len(added)),
		zap.Duration("elapsed", time.Since(start)))
	return ids, nil
}

// discard deletes persisted items that never made it into the registry and index.
func (idx *Indexer) discard(ctx context.Context, items []storage.StoredItem) {
	if idx.store == nil {
		return
	}
	for _, it := range items {
		if idx.registry.Contains(it.Item.ID) {
			continue
		}
		if err := idx.store.DeleteItem(ctx, it.Item.ID); err != nil {
			idx.logger.Warn("failed to discard persisted item", zap.String("id", it.Item.ID), zap.Error(err))
		}
	}
}

func (idx *Indexer) checkConflicts(inputs []models.ItemInput) error {
	seen := make(map[string]string, len(inputs))
	for _, in := range inputs {
		if in.ID == "" {
			continue
		}
		if prev, ok := seen[in.ID]; ok && prev != in.Text {
			return fmt.Errorf("%w: %q appears twice with different text", models.ErrDuplicateID, in.ID)
		}
		seen[in.ID] = in.Text
		if existing, err := idx.registry.Text(in.ID); err == nil && existing != in.Text {
			return fmt.Errorf("%w: %q already registered with different text", models.ErrDuplicateID, in.ID)
		}
	}
	return nil
}

// RemoveItem deletes id from the index, then the registry, then storage, so the index never
// holds an id the registry does not.
func (idx *Indexer) RemoveItem(ctx context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.registry.Contains(id) {
		return fmt.Errorf("%w: item %q", models.ErrNotFound, id)
	}
	idx.logger.Debug("indexer removing item", zap.String("id", id))

	cur := idx.Index()
	if err := cur.Remove(ctx, id); err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to delete from vector index: %w", err)
	}
	if err := idx.registry.Remove(id); err != nil {
		return err
	}
	if idx.store != nil {
		if err := idx.store.DeleteItem(ctx, id); err != nil {
			return fmt.Errorf("failed to delete item: %w", err)
		}
	}
	if cur.Size() == 0 {
		idx.state.Store(int32(StateEmpty))
	}
	metrics.IndexSize.Set(float64(cur.Size()))
	return nil
}

// Build rebuilds the index from every registered item and swaps it in. Vectors already in the
// served index are reused; other items are embedded. Queries keep using the previous index
// until the swap.
func (idx *Indexer) Build(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.buildLocked(ctx, nil)
}

func (idx *Indexer) buildLocked(ctx context.Context, known map[string][]float32) (err error) {
	start := time.Now()
	prev := idx.State()
	idx.state.Store(int32(StateBuilding))
	typ := idx.cfg.IndexType
	if typ == "" {
		typ = string(vector.IndexTypeExact)
	}
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			idx.state.Store(int32(prev))
		}
		metrics.IndexBuilds.WithLabelValues(typ, outcome).Inc()
	}()

	old := idx.Index()
	for _, e := range old.Entries() {
		if _, ok := known[e.ID]; !ok {
			if known == nil {
				known = make(map[string][]float32)
			}
			known[e.ID] = e.Vector
		}
	}

	var entries []vector.Entry
	var missing []models.Item
	dim := idx.embedder.Dimensions()
	for item := range idx.registry.All() {
		if v, ok := known[item.ID]; ok && len(v) == dim {
			entries = append(entries, vector.Entry{ID: item.ID, Vector: v})
			continue
		}
		missing = append(missing, item)
	}
	if len(entries)+len(missing) == 0 {
		return models.ErrEmptyCorpus
	}
	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for i, it := range missing {
			texts[i] = it.Text
		}
		vecs, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to generate embeddings: %w", err)
		}
		stored := make([]storage.StoredItem, len(missing))
		for i := range missing {
			entries = append(entries, vector.Entry{ID: missing[i].ID, Vector: vecs[i]})
			stored[i] = storage.StoredItem{Item: &missing[i], Vector: vecs[i]}
		}
		if idx.store != nil {
			if err := idx.store.BatchSaveItems(ctx, stored); err != nil {
				return fmt.Errorf("failed to persist vectors: %w", err)
			}
		}
	}

	next, err := idx.buildIndex(ctx, typ, entries)
	if err != nil {
		return err
	}
	// The previous index is left open: queries that resolved it before the swap may still be
	// searching it. It is reclaimed once unreachable.
	idx.current.Store(&served{idx: next})
	idx.state.Store(int32(StateReady))
	metrics.IndexSize.Set(float64(next.Size()))
	idx.logger.Info("index built",
		zap.String("type", next.Type()),
		zap.Int("vectors", next.Size()),
		zap.Int("embedded", len(missing)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// buildIndex builds an index of typ. An approximate index whose sampled recall falls below the
// configured threshold is replaced by an exact one.
func (idx *Indexer) buildIndex(ctx context.Context, typ string, entries []vector.Entry) (vector.Index, error) {
	dim := idx.embedder.Dimensions()
	next, err := vector.NewIndex(typ, dim, idx.cfg.HNSW)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	if err := next.Build(ctx, entries); err != nil {
		_ = next.Close()
		return nil, fmt.Errorf("failed to build %s index: %w", typ, err)
	}
	if !vector.IndexType(typ).IsApproximate() {
		return next, nil
	}

	exact, err := vector.NewExactIndex(dim)
	if err != nil {
		return nil, err
	}
	if err := exact.Build(ctx, entries); err != nil {
		return nil, err
	}
	sample := idx.cfg.RecallSampleSize
	if sample <= 0 {
		sample = 100
	}
	queries := vector.SampleQueries(entries, sample, idx.cfg.HNSW.Seed)
	recall, err := vector.MeasureRecall(ctx, next, exact, queries, idx.cfg.RecallK)
	if err != nil {
		_ = next.Close()
		return nil, fmt.Errorf("failed to measure recall: %w", err)
	}
	idx.recall.Store(math.Float64bits(recall))
	metrics.IndexRecall.Set(recall)
	if recall < idx.cfg.RecallThreshold {
		idx.logger.Warn("approximate index below recall threshold, falling back to exact search",
			zap.String("type", typ),
			zap.Float64("recall", recall),
			zap.Float64("threshold", idx.cfg.RecallThreshold))
		_ = next.Close()
		return exact, nil
	}
	_ = exact.Close()
	return next, nil
}

// Load restores the registry from storage and builds the index, reusing stored vectors whose
// dimension matches the embedder. It returns the number of items loaded.
func (idx *Indexer) Load(ctx context.Context) (int, error) {
	if idx.store == nil {
		return 0, nil
	}
	rows, err := idx.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load items: %w", err)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	known := make(map[string][]float32, len(rows))
	for _, row := range rows {
		if err := idx.registry.Restore(row.Item); err != nil {
			idx.logger.Warn("skipping stored item", zap.String("id", row.Item.ID), zap.Error(err))
			continue
		}
		if row.Vector != nil {
			known[row.Item.ID] = row.Vector
		}
	}
	if idx.registry.Len() == 0 {
		return 0, nil
	}
	if err := idx.buildLocked(ctx, known); err != nil {
		return 0, err
	}
	return idx.registry.Len(), nil
}

// Close releases the served index.
func (idx *Indexer) Close() error {
	return idx.Index().Close()
}
