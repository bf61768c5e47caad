package models

import (
	"fmt"
	"strings"
)

// RecommendRequest asks for items related to a corpus item (by ID) or to free text.
// Exactly one of ID and Text must be set. Zero TopK values take configured defaults.
type RecommendRequest struct {
	ID           string `json:"id,omitempty"`
	Text         string `json:"text,omitempty"`
	TopKRetrieve int    `json:"top_k_retrieve,omitempty"`
	TopKFinal    int    `json:"top_k_final,omitempty"`
}

// Validate checks the request shape and fills zero TopK values from the given defaults.
func (r *RecommendRequest) Validate(defaultRetrieve, defaultFinal int) error {
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" && strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: id or text is required", ErrInvalidConfig)
	}
	if r.ID != "" && r.Text != "" {
		return fmt.Errorf("%w: set only one of id and text", ErrInvalidConfig)
	}
	if r.TopKRetrieve == 0 {
		r.TopKRetrieve = defaultRetrieve
	}
	if r.TopKFinal == 0 {
		r.TopKFinal = defaultFinal
	}
	return ValidateTopK(r.TopKRetrieve, r.TopKFinal)
}

// ValidateTopK enforces 0 < topKFinal <= topKRetrieve.
func ValidateTopK(topKRetrieve, topKFinal int) error {
	if topKFinal <= 0 {
		return fmt.Errorf("%w: top_k_final must be positive, got %d", ErrInvalidConfig, topKFinal)
	}
	if topKRetrieve < topKFinal {
		return fmt.Errorf("%w: top_k_retrieve (%d) must be >= top_k_final (%d)", ErrInvalidConfig, topKRetrieve, topKFinal)
	}
	return nil
}
