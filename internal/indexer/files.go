package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/ruiji/internal/ingest"
	"github.com/hyperjump/ruiji/internal/models"
	"go.uber.org/zap"
)

type fileStamp struct {
	mtime time.Time
	size  int64
}

// IndexFile reads the feed at path and adds its items. If allowedExts is non-nil and non-empty,
// the file's extension must be in the list (case-insensitive). Rows whose id is already
// registered with different text replace the earlier item. A file already indexed with the same
// mtime and size is skipped. Returns the number of items read.
func (idx *Indexer) IndexFile(ctx context.Context, path string, allowedExts []string) (int, error) {
	idx.logger.Debug("indexer indexing file", zap.String("path", path))
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return 0, fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return 0, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("not a regular file: %s", absPath)
	}
	stamp := fileStamp{mtime: info.ModTime(), size: info.Size()}
	if idx.unchanged(absPath, stamp) {
		idx.logger.Debug("indexer skipping unchanged file", zap.String("path", absPath))
		return 0, nil
	}

	items, err := idx.reader.ReadFile(absPath)
	if err != nil {
		return 0, fmt.Errorf("read feed: %w", err)
	}
	for _, in := range items {
		if in.ID == "" {
			continue
		}
		if text, err := idx.registry.Text(in.ID); err == nil && text != in.Text {
			if err := idx.RemoveItem(ctx, in.ID); err != nil {
				return 0, fmt.Errorf("replace %s: %w", in.ID, err)
			}
		}
	}
	if _, err := idx.AddItems(ctx, dedupeInputs(items)); err != nil {
		return 0, err
	}

	idx.filesMu.Lock()
	idx.files[absPath] = stamp
	idx.filesMu.Unlock()
	idx.logger.Debug("indexer file indexed", zap.String("path", absPath), zap.Int("items", len(items)))
	return len(items), nil
}

func (idx *Indexer) unchanged(path string, stamp fileStamp) bool {
	idx.filesMu.Lock()
	defer idx.filesMu.Unlock()
	prev, ok := idx.files[path]
	return ok && prev.size == stamp.size && prev.mtime.Equal(stamp.mtime)
}

// dedupeInputs keeps the last row for each id.
func dedupeInputs(items []models.ItemInput) []models.ItemInput {
	pos := make(map[string]int, len(items))
	out := make([]models.ItemInput, 0, len(items))
	for _, in := range items {
		if i, ok := pos[in.ID]; ok && in.ID != "" {
			out[i] = in
			continue
		}
		pos[in.ID] = len(out)
		out = append(out, in)
	}
	return out
}

// IndexDirectory walks dir recursively and indexes each regular file whose extension
// is in allowedExts (if non-nil and non-empty; otherwise every supported feed format).
// Returns the number of files indexed and the first error encountered, if any.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string, allowedExts []string) (n int, err error) {
	if len(allowedExts) == 0 {
		allowedExts = ingest.SupportedExtensions
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !extensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		// Resolve symlinks so we only index regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		if _, indexErr := idx.IndexFile(ctx, path, allowedExts); indexErr != nil {
			return indexErr
		}
		n++
		return nil
	})
	return n, err
}

// ForgetFile drops the recorded stamp for path so the next IndexFile re-reads it.
func (idx *Indexer) ForgetFile(path string) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return
	}
	idx.filesMu.Lock()
	delete(idx.files, absPath)
	idx.filesMu.Unlock()
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
