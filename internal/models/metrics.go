package models

import "time"

// SystemMetrics is a lightweight runtime snapshot served by the health endpoint.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	LedgerAppends            uint64    `json:"ledgerAppends"`
	LedgerAppendErrors       uint64    `json:"ledgerAppendErrors"`
	InvalidVerifications     uint64    `json:"invalidVerifications"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}
