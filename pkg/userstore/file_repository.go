package userstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

const fileStoreName = "users.json"

// FileStore implements Store on top of InMemoryStore, writing the committed
// state to a JSON file in dataDir on every commit.
type FileStore struct {
	*InMemoryStore
	dataDir string
}

// NewFileStore creates a new file-based user store, loading existing data from dataDir
func NewFileStore(dataDir string) (*FileStore, error) {
	// Create data directory if it doesn't exist
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store := &FileStore{
		InMemoryStore: NewInMemoryStore(),
		dataDir:       dataDir,
	}
	store.InMemoryStore.persist = store.save

	if err := store.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return store, nil
}

// load reads user data from file
func (s *FileStore) load() error {
	filePath := filepath.Join(s.dataDir, fileStoreName)

	// If file doesn't exist, start with empty map
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	// If file is empty, start with empty map
	if len(data) == 0 {
		return nil
	}

	var records []*Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*Record, len(records))
	for _, rec := range records {
		s.records[rec.ID] = rec
	}

	slog.Debug("Loaded user records", "count", len(records), "dir", s.dataDir)
	return nil
}

// save writes user data to file atomically
func (s *FileStore) save(records map[string]*Record) error {
	// Convert map to slice, sorted for stable diffs
	list := make([]*Record, 0, len(records))
	for _, rec := range records {
		list = append(list, rec)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Write to temp file first
	tempFile := filepath.Join(s.dataDir, fileStoreName+".tmp")
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	// Atomic rename
	finalFile := filepath.Join(s.dataDir, fileStoreName)
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}
