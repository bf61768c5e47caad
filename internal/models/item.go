// Package models defines core data structures for items, candidates, and recommendations.
package models

import "time"

// Item is a registered corpus entry (a headline and its metadata).
type Item struct {
	ID        string                 `json:"id" db:"id"`
	Text      string                 `json:"text" db:"text"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// ItemInput is the input for registering an item. ID is assigned when empty.
type ItemInput struct {
	ID       string                 `json:"id,omitempty"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Candidate is a stage-1 hit from the similarity index.
type Candidate struct {
	ID          string  `json:"id"`
	Stage1Score float64 `json:"stage1_score"`
}

// ScoredCandidate is a candidate after pairwise rescoring.
type ScoredCandidate struct {
	ID          string  `json:"id"`
	Stage2Score float64 `json:"stage2_score"`
	Stage1Score float64 `json:"stage1_score"`
}
