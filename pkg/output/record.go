// Package output provides JSONL output for photometry fetches.
//
// Output is structured as typed record envelopes containing detections,
// errors, summaries and cache listings. Each line is a self-contained JSON
// object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/forcedphot/pkg/photometry"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: forcedphot.<type>.v<version>
const (
	// TypePhotometry identifies a single detection.
	TypePhotometry = "forcedphot.photometry.v1"

	// TypeError identifies error records.
	TypeError = "forcedphot.error.v1"

	// TypeSummary identifies the per-fetch summary.
	TypeSummary = "forcedphot.summary.v1"

	// TypeBatchSummary identifies the final summary of a batch run.
	TypeBatchSummary = "forcedphot.batch_summary.v1"

	// TypeCacheEntry identifies cache listing records.
	TypeCacheEntry = "forcedphot.cache_entry.v1"
)

// DefaultSource is the envelope source for ATLAS fetches.
const DefaultSource = "atlas"

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "forcedphot.photometry.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// FetchID is the correlation ID of the fetch the record belongs to.
	FetchID string `json:"fetch_id,omitempty"`

	// Source identifies the photometry service (e.g., "atlas").
	Source string `json:"source"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// PhotometryRecord is the data payload for one detection.
type PhotometryRecord struct {
	// Target is the caller's name for the transient, if any.
	Target string `json:"target,omitempty"`

	Fingerprint string `json:"fingerprint"`

	photometry.PhotometryRecord
}

// ErrorRecord is the data payload for errors.
//
// In batch runs a failed target is reported as a record rather than
// aborting the remaining targets.
type ErrorRecord struct {
	// Code is a machine-readable error code (e.g., "AUTH_FAILED").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	Target string `json:"target,omitempty"`

	// StatusCode is the upstream HTTP status, if one was received.
	StatusCode int `json:"status_code,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// SummaryRecord is the data payload emitted after each fetch.
type SummaryRecord struct {
	Target      string                  `json:"target,omitempty"`
	Fingerprint string                  `json:"fingerprint"`
	Request     photometry.FetchRequest `json:"request"`

	Records   int       `json:"records"`
	FromCache bool      `json:"from_cache"`
	FetchedAt time.Time `json:"fetched_at"`

	// Row counts dropped by the parser. Absent for cache hits.
	UpperLimits *int `json:"upper_limits,omitempty"`
	LowSignal   *int `json:"low_signal,omitempty"`
	Skipped     *int `json:"skipped,omitempty"`

	// Duration is the wall time of the fetch.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// BatchSummaryRecord is the data payload emitted at the end of a batch.
type BatchSummaryRecord struct {
	Targets   int `json:"targets"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	FromCache int `json:"from_cache"`
	Records   int `json:"records"`

	// Skipped counts targets never started because the batch was
	// canceled or stopped on a failure.
	Skipped int `json:"skipped"`

	// FailuresByCode counts failed targets per error code.
	FailuresByCode map[string]int `json:"failures_by_code,omitempty"`

	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`
}

// CacheEntryRecord is the data payload for cache listings.
type CacheEntryRecord struct {
	Fingerprint string                  `json:"fingerprint"`
	FetchedAt   time.Time               `json:"fetched_at"`
	Fresh       bool                    `json:"fresh"`
	Age         time.Duration           `json:"age_ns"`
	AgeHuman    string                  `json:"age"`
	Records     int                     `json:"records"`
	Request     photometry.FetchRequest `json:"request"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
