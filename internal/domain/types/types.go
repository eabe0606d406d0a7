// Package types contains the request and response bodies of the HTTP API.
package types

// SubmitRequest is the body of POST /scores. A missing or null score
// removes the entity.
type SubmitRequest struct {
	ID     string  `json:"id,omitempty"`
	Entity string  `json:"entity"`
	Score  []int64 `json:"score"`
}

// SubmitResponse acknowledges a submission.
type SubmitResponse struct {
	Status    string `json:"status"`
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// RankResponse reports the rank of an entity or score.
type RankResponse struct {
	Entity string  `json:"entity,omitempty"`
	Score  []int64 `json:"score"`
	Rank   int64   `json:"rank"`
}

// ScoreResponse reports the score at a rank.
type ScoreResponse struct {
	Rank        int64   `json:"rank"`
	Score       []int64 `json:"score"`
	RankOfTie   int64   `json:"rank_of_tie"`
	Approximate bool    `json:"approximate,omitempty"`
}

// Stats is the body of GET /stats.
type Stats struct {
	Handle          string  `json:"handle"`
	ScoreRange      []int64 `json:"score_range"`
	BranchingFactor int64   `json:"branching_factor"`
	TotalRanked     int64   `json:"total_ranked"`
	QueueDepth      int     `json:"queue_depth"`
	QueueCapacity   int     `json:"queue_capacity"`
	DedupeSize      int64   `json:"dedupe_size"`
	Workers         int     `json:"workers"`
	Accepted        int64   `json:"accepted"`
	Duplicates      int64   `json:"duplicates"`
	Applied         int64   `json:"applied"`
	Failed          int64   `json:"failed"`
}
