// Package storage defines the persistence interface for corpus items and their embeddings.
package storage

import (
	"context"

	"github.com/hyperjump/ruiji/internal/models"
)

// Storage defines item and vector persistence operations.
type Storage interface {
	// Item operations
	SaveItem(ctx context.Context, item *models.Item, vec []float32) error
	GetItem(ctx context.Context, id string) (*models.Item, error)
	DeleteItem(ctx context.Context, id string) error
	ListItems(ctx context.Context, offset, limit int) ([]*models.Item, error)

	// Batch operations
	BatchSaveItems(ctx context.Context, items []StoredItem) error
	LoadAll(ctx context.Context) ([]StoredItem, error)

	// Vector operations
	GetVector(ctx context.Context, id string) ([]float32, error)

	// Stats
	CountItems(ctx context.Context) (int64, error)

	Close() error
}

// StoredItem pairs an item with the embedding it was indexed under.
// Vector is nil when the item was stored before it could be embedded.
type StoredItem struct {
	Item   *models.Item
	Vector []float32
}
