package models

// Recommendation is a single related item in final order.
type Recommendation struct {
	ID          string                 `json:"id"`
	Text        string                 `json:"text"`
	Score       float64                `json:"score"`
	Stage1Score float64                `json:"stage1_score"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Rank        int                    `json:"rank"`
}

// RecommendResponse is the response for a recommendation request.
type RecommendResponse struct {
	Query           string            `json:"query"`
	QueryID         string            `json:"query_id,omitempty"`
	Recommendations []*Recommendation `json:"recommendations"`
	// Degraded is set when stage-2 scoring was unavailable and results are in stage-1 order.
	Degraded  bool   `json:"degraded,omitempty"`
	Reason    string `json:"reason,omitempty"`
	QueryTime int64  `json:"query_time_ms"`
}
