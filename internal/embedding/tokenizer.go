package embedding

import (
	"strings"
	"unicode"
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
	TokenizePair(first, second string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

const (
	tokenCLS = 101
	tokenSEP = 102
	vocab    = 30000
)

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs (for testing or fallback).
type SimpleTokenizer struct{}

// Tokenize produces [CLS] words [SEP] padded to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	return t.TokenizePair(text, "", maxTokens)
}

// TokenizePair produces [CLS] first [SEP] second [SEP] for cross-encoders; second-segment
// tokens get token type 1. An empty second segment yields the single-sentence layout.
func (t *SimpleTokenizer) TokenizePair(first, second string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = tokenCLS
	attentionMask[0] = 1
	pos := 1

	segments := [][]string{SplitWords(first)}
	if second != "" {
		segments = append(segments, SplitWords(second))
	}
	for seg, words := range segments {
		for _, word := range words {
			if pos >= maxTokens-1 {
				break
			}
			inputIDs[pos] = int64(HashString(strings.ToLower(word)) % vocab)
			attentionMask[pos] = 1
			tokenTypeIDs[pos] = int64(seg)
			pos++
		}
		if pos < maxTokens {
			inputIDs[pos] = tokenSEP
			attentionMask[pos] = 1
			tokenTypeIDs[pos] = int64(seg)
			pos++
		}
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// SplitWords splits text on whitespace and returns non-empty words.
func SplitWords(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	return words
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "as": {}, "in": {}, "of": {}, "on": {}, "to": {},
	"and": {}, "for": {}, "with": {}, "at": {}, "by": {}, "is": {}, "are": {},
}

// Words lowercases text, splits it on anything that is not a letter or digit, and drops
// common English stop words. Han, Kana and Hangul runs are unspaced, so each of their runes is
// its own word. A text made only of stop words keeps them. Used for hashed features.
func Words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var all []string
	for _, f := range fields {
		all = appendScriptRuns(all, f)
	}
	out := make([]string, 0, len(all))
	for _, w := range all {
		if _, stop := stopWords[w]; !stop {
			out = append(out, w)
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}

// appendScriptRuns appends field to words, splitting CJK runes out of it one by one.
func appendScriptRuns(words []string, field string) []string {
	start := -1
	for i, r := range field {
		if !isCJK(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			words = append(words, field[start:i])
			start = -1
		}
		words = append(words, string(r))
	}
	if start >= 0 {
		words = append(words, field[start:])
	}
	return words
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// HashString returns a deterministic hash for use as a simple token ID.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
