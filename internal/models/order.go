package models

import "sort"

// SortCandidates orders candidates by stage-1 score descending, ties by ascending id.
func SortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Stage1Score != c[j].Stage1Score {
			return c[i].Stage1Score > c[j].Stage1Score
		}
		return c[i].ID < c[j].ID
	})
}

// SortScored orders scored candidates by stage-2 score descending, ties by ascending id.
func SortScored(c []ScoredCandidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Stage2Score != c[j].Stage2Score {
			return c[i].Stage2Score > c[j].Stage2Score
		}
		return c[i].ID < c[j].ID
	})
}
