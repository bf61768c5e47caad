package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/hyperjump/ruiji/internal/models"
)

func readCSV(content []byte) ([]models.ItemInput, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}
	return fromRows(rows)
}
