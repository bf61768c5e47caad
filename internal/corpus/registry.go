// Package corpus holds the authoritative set of recommendable items.
package corpus

import (
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/ruiji/internal/models"
)

// Registry is an in-memory, insertion-ordered item store safe for one writer and many readers.
type Registry struct {
	mu     sync.RWMutex
	items  map[string]*models.Item
	order  []string
	byText map[string][]string
	now    func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		items:  make(map[string]*models.Item),
		byText: make(map[string][]string),
		now:    time.Now,
	}
}

// Prepare returns the item input would become without registering it. A registered id yields
// the stored item; an empty id is assigned a random UUID.
func (r *Registry) Prepare(input models.ItemInput) models.Item {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.New().String()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if existing, ok := r.items[id]; ok {
		return *existing
	}
	return models.Item{ID: id, Text: input.Text, Metadata: input.Metadata, CreatedAt: r.now().UTC()}
}

// Register stores input and returns its id. An empty id is assigned a random UUID.
// Registering an existing id with the same text is a no-op; with different text it fails
// with models.ErrDuplicateID.
func (r *Registry) Register(input models.ItemInput) (string, error) {
	if strings.TrimSpace(input.Text) == "" {
		return "", fmt.Errorf("item text cannot be empty")
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.New().String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.items[id]; ok {
		if existing.Text == input.Text {
			return id, nil
		}
		return "", fmt.Errorf("%w: %q already registered with different text", models.ErrDuplicateID, id)
	}
	r.items[id] = &models.Item{
		ID:        id,
		Text:      input.Text,
		Metadata:  input.Metadata,
		CreatedAt: r.now().UTC(),
	}
	r.order = append(r.order, id)
	r.byText[input.Text] = append(r.byText[input.Text], id)
	return id, nil
}

// Restore inserts a previously persisted item, keeping its timestamps.
func (r *Registry) Restore(item *models.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.items[item.ID]; ok && existing.Text != item.Text {
		return fmt.Errorf("%w: %q already registered with different text", models.ErrDuplicateID, item.ID)
	} else if ok {
		return nil
	}
	cp := *item
	r.items[item.ID] = &cp
	r.order = append(r.order, item.ID)
	r.byText[item.Text] = append(r.byText[item.Text], item.ID)
	return nil
}

// Get returns a copy of the item with id.
func (r *Registry) Get(id string) (models.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[id]
	if !ok {
		return models.Item{}, fmt.Errorf("%w: item %q", models.ErrNotFound, id)
	}
	return *it, nil
}

// Text returns the text of id.
func (r *Registry) Text(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[id]
	if !ok {
		return "", fmt.Errorf("%w: item %q", models.ErrNotFound, id)
	}
	return it.Text, nil
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[id]
	return ok
}

// LookupText returns the ids whose text equals text exactly, in registration order.
func (r *Registry) LookupText(text string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byText[text]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Remove deletes id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return fmt.Errorf("%w: item %q", models.ErrNotFound, id)
	}
	delete(r.items, id)
	r.order = removeID(r.order, id)
	if rest := removeID(r.byText[it.Text], id); len(rest) > 0 {
		r.byText[it.Text] = rest
	} else {
		delete(r.byText, it.Text)
	}
	return nil
}

// All iterates items in registration order over a snapshot taken when iteration starts.
// The sequence can be ranged over repeatedly; each pass takes a fresh snapshot.
func (r *Registry) All() iter.Seq[models.Item] {
	return func(yield func(models.Item) bool) {
		r.mu.RLock()
		snapshot := make([]models.Item, 0, len(r.order))
		for _, id := range r.order {
			snapshot = append(snapshot, *r.items[id])
		}
		r.mu.RUnlock()
		for _, it := range snapshot {
			if !yield(it) {
				return
			}
		}
	}
}

// Len returns the number of registered items.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
