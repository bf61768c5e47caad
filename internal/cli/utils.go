// Package cli provides output helpers for the ruiji command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/pkg/utils"
)

// OutputFormat is the format for recommendation output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value to an OutputFormat. Unknown values fall back to text.
func ParseOutputFormat(s string) OutputFormat {
	if strings.EqualFold(strings.TrimSpace(s), string(OutputJSON)) {
		return OutputJSON
	}
	return OutputText
}

// WriteRecommendations writes a recommendation response to w in the given format.
func WriteRecommendations(w io.Writer, response *models.RecommendResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	default:
		writeRecommendationsText(w, response)
		return nil
	}
}

func writeRecommendationsText(w io.Writer, response *models.RecommendResponse) {
	query := response.QueryID
	if query == "" {
		query = TruncateWords(response.Query, 12)
	}
	fmt.Fprintf(w, "\n%d related headlines for %q in %dms\n", len(response.Recommendations), query, response.QueryTime)
	if response.Degraded {
		fmt.Fprintln(w, "(degraded: reranking unavailable, showing retrieval order)")
	}
	if response.Reason != "" {
		fmt.Fprintf(w, "%s\n", response.Reason)
	}
	fmt.Fprintln(w)
	for _, rec := range response.Recommendations {
		writeOneRecommendation(w, rec)
	}
}

func writeOneRecommendation(w io.Writer, rec *models.Recommendation) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f (Retrieval: %.4f)\n", rec.Rank, rec.Score, rec.Stage1Score)
	fmt.Fprintf(w, "ID: %s\n", rec.ID)
	fmt.Fprintf(w, "%s\n\n", utils.Truncate(rec.Text, 200))
}

// PrintRecommendations prints a response to stdout in text format.
func PrintRecommendations(response *models.RecommendResponse) {
	_ = WriteRecommendations(os.Stdout, response, OutputText)
}

// WriteJSON writes v to w as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
