package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/vector"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_items_created_at ON items(created_at);

	CREATE TABLE IF NOT EXISTS item_vectors (
		item_id TEXT PRIMARY KEY,
		dimensions INTEGER NOT NULL,
		vector BLOB NOT NULL,
		FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveItem(ctx context.Context, db execer, item *models.Item, vec []float32) error {
	metadataJSON, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO items (id, text, metadata, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET text = excluded.text, metadata = excluded.metadata`,
		item.ID, item.Text, string(metadataJSON), item.CreatedAt,
	)
	if err != nil {
		return err
	}
	if vec == nil {
		return nil
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO item_vectors (item_id, dimensions, vector) VALUES (?, ?, ?)
		 ON CONFLICT(item_id) DO UPDATE SET dimensions = excluded.dimensions, vector = excluded.vector`,
		item.ID, len(vec), vector.EncodeVector(vec),
	)
	return err
}

// SaveItem inserts or replaces an item and, when vec is non-nil, its embedding.
func (s *SQLiteStorage) SaveItem(ctx context.Context, item *models.Item, vec []float32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := saveItem(ctx, tx, item, vec); err != nil {
		return err
	}
	return tx.Commit()
}

// GetItem returns an item by ID.
func (s *SQLiteStorage) GetItem(ctx context.Context, id string) (*models.Item, error) {
	var item models.Item
	var metadataJSON sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, text, metadata, created_at FROM items WHERE id = ?`, id,
	).Scan(&item.ID, &item.Text, &metadataJSON, &item.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: item %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := decodeMetadata(metadataJSON, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetVector returns the stored embedding of an item.
func (s *SQLiteStorage) GetVector(ctx context.Context, id string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT vector FROM item_vectors WHERE item_id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: vector for %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return vector.DecodeVector(blob), nil
}

// DeleteItem removes an item and its embedding. Deleting a missing item is not an error.
func (s *SQLiteStorage) DeleteItem(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM item_vectors WHERE item_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ListItems returns items with offset and limit, newest first.
func (s *SQLiteStorage) ListItems(ctx context.Context, offset, limit int) ([]*models.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, metadata, created_at
		 FROM items ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		var item models.Item
		var metadataJSON sql.NullString
		if err := rows.Scan(&item.ID, &item.Text, &metadataJSON, &item.CreatedAt); err != nil {
			return nil, err
		}
		_ = decodeMetadata(metadataJSON, &item)
		items = append(items, &item)
	}
	return items, rows.Err()
}

// BatchSaveItems inserts or replaces multiple items in a transaction.
func (s *SQLiteStorage) BatchSaveItems(ctx context.Context, items []StoredItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, it := range items {
		if err := saveItem(ctx, tx, it.Item, it.Vector); err != nil {
			return fmt.Errorf("save %s: %w", it.Item.ID, err)
		}
	}
	return tx.Commit()
}

// LoadAll returns every stored item with its embedding, oldest first.
func (s *SQLiteStorage) LoadAll(ctx context.Context) ([]StoredItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.id, i.text, i.metadata, i.created_at, v.vector
		 FROM items i LEFT JOIN item_vectors v ON v.item_id = i.id
		 ORDER BY i.created_at, i.id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredItem
	for rows.Next() {
		var item models.Item
		var metadataJSON sql.NullString
		var blob []byte
		if err := rows.Scan(&item.ID, &item.Text, &metadataJSON, &item.CreatedAt, &blob); err != nil {
			return nil, err
		}
		_ = decodeMetadata(metadataJSON, &item)
		st := StoredItem{Item: &item}
		if len(blob) > 0 {
			st.Vector = vector.DecodeVector(blob)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CountItems returns the total number of items.
func (s *SQLiteStorage) CountItems(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func decodeMetadata(raw sql.NullString, item *models.Item) error {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), &item.Metadata); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return nil
}
