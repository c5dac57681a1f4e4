// Package photcache persists fetched photometry keyed by request fingerprint.
//
// A Cache wraps a Store backend and applies the freshness horizon. Backends
// only move entries in and out; they never judge age.
package photcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/forcedphot/pkg/photometry"
)

// ErrNotFound indicates no entry exists for a fingerprint.
var ErrNotFound = errors.New("cache entry not found")

// Entry is an immutable snapshot of one successful fetch.
//
// NOTE: This is the on-disk JSON contract for every backend. Add fields,
// don't rename them.
type Entry struct {
	Fingerprint string                        `json:"fingerprint"`
	Records     []photometry.PhotometryRecord `json:"records"`
	FetchedAt   time.Time                     `json:"fetched_at"`
	Request     photometry.FetchRequest       `json:"request"`
}

//go:generate mockgen -source=store.go -destination=mock_store_test.go -package=photcache

// Store is a keyed persistence backend for cache entries.
//
// Implementations must tolerate concurrent readers. Concurrent Saves for the
// same fingerprint resolve last-writer-wins.
type Store interface {
	// Load returns the entry for fingerprint or ErrNotFound.
	Load(ctx context.Context, fingerprint string) (*Entry, error)

	// Save writes entry, replacing any previous entry for its fingerprint.
	Save(ctx context.Context, entry *Entry) error

	// List returns every stored entry.
	List(ctx context.Context) ([]Entry, error)

	// Delete removes the entry for fingerprint. Missing entries are not an error.
	Delete(ctx context.Context, fingerprint string) error

	Close() error
}

// ValidateFingerprint rejects keys that are not lower-case hex. Keys become
// file names and object keys, so nothing else is allowed through.
func ValidateFingerprint(fingerprint string) error {
	if fingerprint == "" {
		return errors.New("fingerprint is required")
	}
	for _, r := range fingerprint {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return fmt.Errorf("invalid fingerprint %q", fingerprint)
		}
	}
	return nil
}

func validateEntry(entry *Entry) error {
	if entry == nil {
		return errors.New("cache entry is nil")
	}
	if err := ValidateFingerprint(strings.TrimSpace(entry.Fingerprint)); err != nil {
		return err
	}
	if entry.FetchedAt.IsZero() {
		return errors.New("cache entry fetched_at is required")
	}
	return nil
}
