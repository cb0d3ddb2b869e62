package storage

import "time"

// Run kinds accepted by StartRun.
const (
	RunKindMatch  = "match"
	RunKindEnrich = "enrich"
)

// PipelineRun is one recorded execution of the match or enrichment
// pipeline.
type PipelineRun struct {
	ID          int64      `json:"id"`
	Kind        string     `json:"kind"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Processed   int        `json:"processed"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Status      string     `json:"status"`
}

// EnrichmentFailure is a durable record of a transaction that could not be
// classified, with enough context to reprocess it later.
type EnrichmentFailure struct {
	ID            string    `json:"id"` // uuid
	RunID         int64     `json:"run_id"`
	TransactionID string    `json:"transaction_id"`
	Stage         string    `json:"stage"` // "provider", "persist"
	Provider      string    `json:"provider,omitempty"`
	ErrorKind     string    `json:"error_kind"`
	Message       string    `json:"message"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// CacheStats summarizes the enrichment cache.
type CacheStats struct {
	Entries   int `json:"entries"`
	TotalHits int `json:"total_hits"`
}
