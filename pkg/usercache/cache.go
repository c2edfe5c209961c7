// Package usercache is a host-side user cache for federated users. Cached
// users are read-only snapshots; credential checks against them only see the
// values attached when the user was cached.
package usercache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/tendant/simple-federation/pkg/errors"
	"github.com/tendant/simple-federation/pkg/federation"
	"github.com/tendant/simple-federation/pkg/userstore"
)

// Config sizes the cache
type Config struct {
	NumCounters int64 `env:"USER_CACHE_NUM_COUNTERS" env-default:"100000"`
	MaxCost     int64 `env:"USER_CACHE_MAX_COST" env-default:"10000"`
	BufferItems int64 `env:"USER_CACHE_BUFFER_ITEMS" env-default:"64"`

	// TTL bounds how long a snapshot is served; zero keeps entries until evicted.
	// Changes made to the external table by other writers show up after TTL.
	TTL time.Duration `env:"USER_CACHE_TTL" env-default:"5m"`
}

// DefaultConfig returns a cache sized for about ten thousand users
func DefaultConfig() Config {
	return Config{
		NumCounters: 100000,
		MaxCost:     10000,
		BufferItems: 64,
		TTL:         5 * time.Minute,
	}
}

// entry is one cached user, reachable under its id key and its username key
type entry struct {
	id       string
	record   *userstore.Record // password stripped
	attached map[string]string
}

// attachment collects the values a provider attaches while a user is cached
type attachment map[string]string

func (a attachment) Put(key, value string) {
	a[key] = value
}

// Cache caches federated users across requests
type Cache struct {
	cache *ristretto.Cache[string, *entry]
	ttl   time.Duration

	// generation advances on every eviction; a load that started in an older
	// generation may have read a superseded row and is not stored
	mu         sync.Mutex
	generation uint64
}

// New creates a cache
func New(config Config) (*Cache, error) {
	if config.NumCounters <= 0 || config.MaxCost <= 0 || config.BufferItems <= 0 {
		ttl := config.TTL
		config = DefaultConfig()
		config.TTL = ttl
	}
	if config.TTL < 0 {
		config.TTL = 0
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *entry]{
		NumCounters: config.NumCounters,
		MaxCost:     config.MaxCost,
		BufferItems: config.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user cache: %w", err)
	}
	return &Cache{cache: cache, ttl: config.TTL}, nil
}

func idKey(id string) string { return "id:" + id }

func usernameKey(username string) string { return "username:" + username }

func (c *Cache) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// put stores e unless an eviction happened since generation
func (c *Cache) put(e *entry, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return false
	}
	c.cache.SetWithTTL(idKey(e.id), e, 1, c.ttl)
	c.cache.SetWithTTL(usernameKey(e.record.Username), e, 1, c.ttl)
	c.cache.Wait()
	return true
}

// Invalidate evicts the user with canonical id
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	if e, ok := c.cache.Get(idKey(id)); ok {
		c.cache.Del(usernameKey(e.record.Username))
	}
	c.cache.Del(idKey(id))
	slog.Debug("Invalidated cached user", "id", id)
}

// Clear evicts every user
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.cache.Clear()
}

// Close stops the cache's background goroutines
func (c *Cache) Close() {
	c.cache.Close()
}

// Session binds the cache to one federation session
func (c *Cache) Session(sess *federation.Session) *Session {
	return &Session{cache: c, sess: sess}
}

// Session is a request-scoped cache view
type Session struct {
	cache *Cache
	sess  *federation.Session
}

// UserByID returns the cached user with id, loading it on a miss. Raw
// external keys are looked up under their canonical id. It returns nil when
// the user does not exist.
func (s *Session) UserByID(ctx context.Context, id string) (*CachedUser, error) {
	id = s.sess.CanonicalID(id)
	if e, ok := s.cache.cache.Get(idKey(id)); ok {
		return s.wrap(e), nil
	}
	generation := s.cache.currentGeneration()
	adapter, err := s.sess.UserByID(ctx, id)
	if err != nil || adapter == nil {
		return nil, err
	}
	return s.populate(adapter, generation), nil
}

// UserByUsername returns the cached user with username, loading it on a miss
func (s *Session) UserByUsername(ctx context.Context, username string) (*CachedUser, error) {
	if e, ok := s.cache.cache.Get(usernameKey(username)); ok {
		return s.wrap(e), nil
	}
	generation := s.cache.currentGeneration()
	adapter, err := s.sess.UserByUsername(ctx, username)
	if err != nil || adapter == nil {
		return nil, err
	}
	return s.populate(adapter, generation), nil
}

// populate snapshots adapter and lets the provider attach its values. The
// snapshot is returned even when it is too old to be stored.
func (s *Session) populate(adapter *federation.UserAdapter, generation uint64) *CachedUser {
	rec := adapter.Record()
	rec.Password = nil

	attached := attachment{}
	s.sess.OnCache(attached, adapter)

	e := &entry{
		id:       adapter.ID(),
		record:   rec,
		attached: attached,
	}
	if s.cache.put(e, generation) {
		slog.Debug("Cached user", "id", e.id)
	} else {
		slog.Debug("Skipped caching superseded user", "id", e.id)
	}
	return s.wrap(e)
}

func (s *Session) wrap(e *entry) *CachedUser {
	return &CachedUser{entry: e, session: s}
}

// CachedUser is a snapshot of a federated user
type CachedUser struct {
	entry   *entry
	session *Session
}

func (u *CachedUser) ID() string { return u.entry.id }

func (u *CachedUser) Username() string { return u.entry.record.Username }

func (u *CachedUser) Email() string { return userstore.StringValue(u.entry.record.Email) }

func (u *CachedUser) Phone() string { return userstore.StringValue(u.entry.record.Phone) }

// View returns the cached credential view
func (u *CachedUser) View() federation.View {
	return federation.View{Kind: federation.CachedView, Cached: u}
}

// CachedValue returns a value attached when the user was cached
func (u *CachedUser) CachedValue(key string) (string, bool) {
	v, ok := u.entry.attached[key]
	return v, ok
}

// DelegateForUpdate evicts the snapshot and returns the live adapter from the
// session. The snapshot is evicted again once the session commits, so loads
// that ran before the commit do not outlive it.
func (u *CachedUser) DelegateForUpdate(ctx context.Context) (*federation.UserAdapter, error) {
	cache, id := u.session.cache, u.entry.id
	cache.Invalidate(id)
	u.session.sess.AfterCommit(func() { cache.Invalidate(id) })
	adapter, err := u.session.sess.UserByID(ctx, u.entry.id)
	if err != nil {
		return nil, err
	}
	if adapter == nil {
		return nil, errors.NotFound("user", u.entry.id)
	}
	return adapter, nil
}
