package photcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStore keeps one JSON file per fingerprint in a directory.
//
// Directory layout:
//
//	<root>/<fingerprint>.json
//
// Writes go through a temp file and rename, so readers never observe a
// partially written entry and the last rename wins.
type FileStore struct {
	root string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(root string) *FileStore {
	return &FileStore{root: strings.TrimSpace(root)}
}

func (s *FileStore) RootDir() string {
	return s.root
}

func (s *FileStore) EntryPath(fingerprint string) string {
	return filepath.Join(s.root, fingerprint+".json")
}

func (s *FileStore) ensureRoot() error {
	if s.root == "" {
		return fmt.Errorf("cache root dir is empty")
	}
	// #nosec G301 -- cache directories use 0755 for multi-user access compatibility
	return os.MkdirAll(s.root, 0755)
}

func (s *FileStore) Save(_ context.Context, entry *Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(s.root, entry.Fingerprint+".json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache file: %w", err)
	}

	if err := os.Rename(tmpName, s.EntryPath(entry.Fingerprint)); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, fingerprint string) (*Entry, error) {
	if err := ValidateFingerprint(fingerprint); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.EntryPath(fingerprint))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("cache file %s is empty", fingerprint)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(trimmed), &entry); err != nil {
		return nil, fmt.Errorf("parse cache file %s: %w", fingerprint, err)
	}
	return &entry, nil
}

func (s *FileStore) List(ctx context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache root: %w", err)
	}

	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		e, err := s.Load(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		out = append(out, *e)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].FetchedAt.After(out[j].FetchedAt)
	})
	return out, nil
}

func (s *FileStore) Delete(_ context.Context, fingerprint string) error {
	if err := ValidateFingerprint(fingerprint); err != nil {
		return err
	}
	if err := os.Remove(s.EntryPath(fingerprint)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cache file: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
