package ingest

import (
	"bufio"
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/ruiji/internal/models"
)

// readPlain treats each non-blank line as one headline.
// Invalid UTF-8 sequences are replaced with the replacement character.
func readPlain(content []byte) ([]models.ItemInput, error) {
	if !utf8.Valid(content) {
		content = []byte(strings.ToValidUTF8(string(content), "\ufffd"))
	}
	var out []models.ItemInput
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		text := normalize(sc.Text())
		if text == "" {
			continue
		}
		out = append(out, models.ItemInput{ID: ItemID(text), Text: text})
	}
	return out, sc.Err()
}
