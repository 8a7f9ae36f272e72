package metrics

// Series names shared by the API and the ingestion binary.
const (
	SearchRequests       = "medkb_search_requests_total"
	SearchErrors         = "medkb_search_errors_total"
	SearchLatencySeconds = "medkb_search_duration_seconds"
	SearchResults        = "medkb_search_results_total"
	IndexEntries         = "medkb_index_entries"

	IngestAccepted      = "medkb_ingest_accepted_total"
	IngestSkipped       = "medkb_ingest_skipped_total"
	IngestBatches       = "medkb_ingest_batches_total"
	IngestEmbedSeconds  = "medkb_ingest_embed_duration_seconds"
	IngestUpsertSeconds = "medkb_ingest_upsert_duration_seconds"

	HTTPRequests = "medkb_http_requests_total"
)
