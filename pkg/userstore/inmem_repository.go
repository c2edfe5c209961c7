package userstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-federation/pkg/errors"
)

// InMemoryStore implements Store using in-memory storage.
// Transactions stage their writes and apply them atomically on Commit, where
// username uniqueness is validated against the committed state.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record // keyed by record ID
	now     func() time.Time

	// persist is invoked with the complete next state before it is swapped in.
	// A failing persist aborts the commit.
	persist func(records map[string]*Record) error
}

// NewInMemoryStore creates a new in-memory user store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Seed adds records to the store outside of a transaction (for testing/seeding)
func (s *InMemoryStore) Seed(records ...*Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		c := rec.Clone()
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = s.now()
			c.UpdatedAt = c.CreatedAt
		}
		s.records[c.ID] = c
	}
}

// Begin starts a new staged transaction
func (s *InMemoryStore) Begin(ctx context.Context) (Tx, error) {
	return &memTx{
		store:  s,
		staged: make(map[string]*Record),
	}, nil
}

// Close is a no-op for the in-memory store
func (s *InMemoryStore) Close() error {
	return nil
}

// memTx overlays staged writes on the committed records. A nil staged value
// marks a removal.
type memTx struct {
	store  *InMemoryStore
	staged map[string]*Record
	closed bool
}

var errTxClosed = fmt.Errorf("transaction already closed")

// view merges committed and staged records. Callers must not hold the store lock.
func (t *memTx) view() map[string]*Record {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	merged := make(map[string]*Record, len(t.store.records)+len(t.staged))
	for id, rec := range t.store.records {
		merged[id] = rec
	}
	for id, rec := range t.staged {
		if rec == nil {
			delete(merged, id)
			continue
		}
		merged[id] = rec
	}
	return merged
}

// sorted returns the merged records in store order (username, then id)
func (t *memTx) sorted() []*Record {
	merged := t.view()
	records := make([]*Record, 0, len(merged))
	for _, rec := range merged {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Username != records[j].Username {
			return records[i].Username < records[j].Username
		}
		return records[i].ID < records[j].ID
	})
	return records
}

func (t *memTx) FindByID(ctx context.Context, id string) (*Record, error) {
	if t.closed {
		return nil, errTxClosed
	}
	rec, ok := t.view()[id]
	if !ok {
		slog.Debug("Record not found", "id", id)
		return nil, nil
	}
	return rec.Clone(), nil
}

func (t *memTx) FindByUsername(ctx context.Context, username string) (*Record, error) {
	if t.closed {
		return nil, errTxClosed
	}
	for _, rec := range t.sorted() {
		if rec.Username == username {
			return rec.Clone(), nil
		}
	}
	return nil, nil
}

func (t *memTx) FindByEmail(ctx context.Context, email string) (*Record, error) {
	if t.closed {
		return nil, errTxClosed
	}
	for _, rec := range t.sorted() {
		if rec.Email != nil && *rec.Email == email {
			return rec.Clone(), nil
		}
	}
	return nil, nil
}

func (t *memTx) Create(ctx context.Context, username string) (*Record, error) {
	if t.closed {
		return nil, errTxClosed
	}
	now := t.store.now()
	rec := &Record{
		ID:        uuid.New().String(),
		Username:  username,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if findUsernameConflict(t.view(), rec) {
		return nil, errors.Conflict("username", username)
	}
	t.staged[rec.ID] = rec
	slog.Debug("Record staged", "id", rec.ID, "username", username)
	return rec.Clone(), nil
}

func (t *memTx) Update(ctx context.Context, record *Record) error {
	if t.closed {
		return errTxClosed
	}
	current, ok := t.view()[record.ID]
	if !ok {
		return errors.NotFound("record", record.ID)
	}
	next := record.Clone()
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = t.store.now()
	if findUsernameConflict(t.view(), next) {
		return errors.Conflict("username", next.Username)
	}
	t.staged[next.ID] = next
	return nil
}

func (t *memTx) Remove(ctx context.Context, id string) (bool, error) {
	if t.closed {
		return false, errTxClosed
	}
	if _, ok := t.view()[id]; !ok {
		return false, nil
	}
	t.staged[id] = nil
	return true, nil
}

func (t *memTx) Count(ctx context.Context) (int, error) {
	if t.closed {
		return 0, errTxClosed
	}
	return len(t.view()), nil
}

func (t *memTx) Search(ctx context.Context, filter string, page Page) ([]*Record, error) {
	if t.closed {
		return nil, errTxClosed
	}
	var matched []*Record
	for _, rec := range t.sorted() {
		if matchesFilter(rec.Username, filter) {
			matched = append(matched, rec)
		}
	}
	window := page.apply(matched)
	result := make([]*Record, 0, len(window))
	for _, rec := range window {
		result = append(result, rec.Clone())
	}
	return result, nil
}

// Commit applies the staged writes, re-validating username uniqueness against
// whatever other transactions committed in the meantime.
func (t *memTx) Commit(ctx context.Context) error {
	if t.closed {
		return errTxClosed
	}
	t.closed = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*Record, len(s.records)+len(t.staged))
	for id, rec := range s.records {
		next[id] = rec
	}
	for id, rec := range t.staged {
		if rec == nil {
			delete(next, id)
			continue
		}
		next[id] = rec
	}
	for id, rec := range t.staged {
		if rec != nil && findUsernameConflict(next, next[id]) {
			slog.Debug("Commit rejected by username constraint", "username", rec.Username)
			return errors.Conflict("username", rec.Username)
		}
	}

	if s.persist != nil {
		if err := s.persist(next); err != nil {
			return errors.StoreUnavailable(err, "commit")
		}
	}
	s.records = next
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.closed = true
	t.staged = nil
	return nil
}

// findUsernameConflict reports whether another record in records already uses rec's username
func findUsernameConflict(records map[string]*Record, rec *Record) bool {
	for id, other := range records {
		if id != rec.ID && other.Username == rec.Username {
			return true
		}
	}
	return false
}
