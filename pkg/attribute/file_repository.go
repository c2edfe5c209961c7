package attribute

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const fileStoreName = "attributes.json"

// FileStore implements Store on top of InMemoryStore, rewriting a JSON file in
// dataDir after every change.
type FileStore struct {
	*InMemoryStore
	dataDir string
}

// NewFileStore creates a new file-based attribute store, loading existing data from dataDir
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store := &FileStore{
		InMemoryStore: NewInMemoryStore(),
		dataDir:       dataDir,
	}
	if err := store.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}
	return store, nil
}

func (s *FileStore) Set(ctx context.Context, userID, name string, values []string) error {
	if err := s.InMemoryStore.Set(ctx, userID, name, values); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) Remove(ctx context.Context, userID, name string) error {
	if err := s.InMemoryStore.Remove(ctx, userID, name); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) RemoveAll(ctx context.Context, userID string) error {
	if err := s.InMemoryStore.RemoveAll(ctx, userID); err != nil {
		return err
	}
	return s.save()
}

// load reads attribute data from file
func (s *FileStore) load() error {
	data, err := os.ReadFile(filepath.Join(s.dataDir, fileStoreName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	users := make(map[string]map[string][]string)
	if err := json.Unmarshal(data, &users); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = users
	return nil
}

// save writes attribute data to file atomically
func (s *FileStore) save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.users, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(s.dataDir, fileStoreName+".tmp")
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, filepath.Join(s.dataDir, fileStoreName)); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
