// Package ingest reads headline feeds (CSV, XLSX, plain text) into item inputs.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/hyperjump/ruiji/internal/models"
)

// SupportedExtensions lists the feed formats Read understands.
var SupportedExtensions = []string{".csv", ".xlsx", ".txt"}

// textColumns are the header names accepted for the item text, in priority order.
var textColumns = []string{"title", "text", "headline"}

const idColumn = "id"

var itemNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/hyperjump/ruiji/items"))

// Reader parses feed files into item inputs.
type Reader struct{}

// NewReader returns a new Reader.
func NewReader() *Reader {
	return &Reader{}
}

// ReadFile reads the feed at path. The format is chosen by extension.
func (r *Reader) ReadFile(path string) ([]models.ItemInput, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	items, err := r.ReadBytes(content, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	for i := range items {
		if items[i].Metadata == nil {
			items[i].Metadata = map[string]interface{}{}
		}
		items[i].Metadata["source"] = filepath.Base(path)
	}
	return items, nil
}

// ReadBytes parses content according to ext (with leading dot).
func (r *Reader) ReadBytes(content []byte, ext string) ([]models.ItemInput, error) {
	switch ext {
	case ".csv":
		return readCSV(content)
	case ".xlsx":
		return readExcel(content)
	case ".txt", "":
		return readPlain(content)
	default:
		return nil, fmt.Errorf("unsupported feed format %q", ext)
	}
}

// ItemID derives a stable id from text, so re-reading a feed yields the same ids.
func ItemID(text string) string {
	return uuid.NewSHA1(itemNamespace, []byte(normalize(text))).String()
}

func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// fromRows converts a header row plus data rows into inputs. Rows with no text are skipped.
func fromRows(rows [][]string) ([]models.ItemInput, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}
	textCol, idCol := -1, -1
	for _, name := range textColumns {
		for i, h := range header {
			if h == name {
				textCol = i
				break
			}
		}
		if textCol >= 0 {
			break
		}
	}
	if textCol < 0 {
		return nil, fmt.Errorf("no text column (want one of %s)", strings.Join(textColumns, ", "))
	}
	for i, h := range header {
		if h == idColumn {
			idCol = i
		}
	}

	var out []models.ItemInput
	for _, row := range rows[1:] {
		if textCol >= len(row) {
			continue
		}
		text := normalize(row[textCol])
		if text == "" {
			continue
		}
		in := models.ItemInput{Text: text}
		if idCol >= 0 && idCol < len(row) {
			in.ID = strings.TrimSpace(row[idCol])
		}
		if in.ID == "" {
			in.ID = ItemID(text)
		}
		for i, v := range row {
			if i == textCol || i == idCol || i >= len(header) || header[i] == "" || v == "" {
				continue
			}
			if in.Metadata == nil {
				in.Metadata = map[string]interface{}{}
			}
			in.Metadata[header[i]] = v
		}
		out = append(out, in)
	}
	return out, nil
}
