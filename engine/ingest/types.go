package ingest

import "time"

const (
	// DefaultBatchSize is the number of accepted records embedded and
	// upserted together.
	DefaultBatchSize = 100
	// DefaultMaxSamples caps the accepted records of one run.
	DefaultMaxSamples = 50000
	// MinQuestionRunes is the exclusive lower bound on question length.
	MinQuestionRunes = 20
	// CollectionDescription is stored as collection metadata on rebuild.
	CollectionDescription = "Medical reasoning Q&A pairs from OpenMed dataset"
	// VerifyQuery is the probe issued after ingestion.
	VerifyQuery = "What are the symptoms of diabetes?"
	// CompletedSubject is the NATS subject announcing a finished run.
	CompletedSubject = "knowledge.ingest.completed"

	verifyK            = 2
	verifyPreviewRunes = 200
	metaQuestionRunes  = 500
	metaPreviewRunes   = 1000
)

// Stats summarises one ingestion run.
type Stats struct {
	Seen     int `json:"seen"`
	Accepted int `json:"accepted"`
	Skipped  int `json:"skipped"`
	Batches  int `json:"batches"`
}

// VerifyReport is the outcome of the post-ingestion probe query.
type VerifyReport struct {
	Query   string `json:"query"`
	Found   int    `json:"found"`
	Preview string `json:"preview,omitempty"`
}

// CompletedEvent is published on CompletedSubject.
type CompletedEvent struct {
	Collection string        `json:"collection"`
	Stats      Stats         `json:"stats"`
	Count      int           `json:"count"`
	Verify     VerifyReport  `json:"verify"`
	Duration   time.Duration `json:"duration_ns"`
	FinishedAt time.Time     `json:"finished_at"`
}
