package models

import "time"

// SystemMetrics is an aggregated snapshot of runtime statistics exposed on
// the operational status endpoint.
type SystemMetrics struct {
	CacheHitRatio            float64    `json:"cache_hit_ratio"`
	CacheHits                uint64     `json:"cache_hits"`
	CacheMisses              uint64     `json:"cache_misses"`
	RequestsTotal            uint64     `json:"requests_total"`
	AverageRequestDurationMs float64    `json:"average_request_duration_ms"`
	DBQueryCount             uint64     `json:"db_query_count"`
	AverageDBQueryDurationMs float64    `json:"average_db_query_duration_ms"`
	SyncRuns                 uint64     `json:"sync_runs"`
	SyncedRecords            uint64     `json:"synced_records"`
	SkippedRecords           uint64     `json:"skipped_records"`
	LastSyncAt               *time.Time `json:"last_sync_at,omitempty"`
	Goroutines               int        `json:"goroutines"`
	GeneratedAt              time.Time  `json:"generated_at"`
}
