package federation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tendant/simple-federation/pkg/attribute"
	"github.com/tendant/simple-federation/pkg/errors"
	"github.com/tendant/simple-federation/pkg/userstore"
)

// SearchParam is the search parameter holding the username filter
const SearchParam = "search"

// ComponentModel identifies one configured provider instance
type ComponentModel struct {
	ID     string
	Name   string
	Config map[string]string
}

// Provider serves one external user store to the host
type Provider struct {
	model  ComponentModel
	store  userstore.Store
	attrs  attribute.Store
	mapper *IdentityMapper
	creds  *CredentialService
}

// NewProvider creates a provider over store. attrs may be nil, in which case
// generic attributes are kept in memory.
func NewProvider(model ComponentModel, store userstore.Store, attrs attribute.Store) (*Provider, error) {
	if err := ValidateProviderID(model.ID); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.InvalidInput("store", "must not be nil")
	}
	if attrs == nil {
		attrs = attribute.NewInMemoryStore()
	}
	return &Provider{
		model:  model,
		store:  store,
		attrs:  attrs,
		mapper: NewIdentityMapper(model.ID, attrs),
		creds:  NewCredentialService(),
	}, nil
}

// ID returns the provider id embedded in canonical ids
func (p *Provider) ID() string { return p.model.ID }

// Model returns the component model the provider was created from
func (p *Provider) Model() ComponentModel { return p.model }

// Mapper returns the provider's identity mapper
func (p *Provider) Mapper() *IdentityMapper { return p.mapper }

// CanonicalID returns id in canonical form. Raw external keys are composed
// with this provider's id; canonical ids are returned unchanged.
func (p *Provider) CanonicalID(id string) string {
	if _, _, ok := ParseID(id); ok {
		return id
	}
	return ComposeID(p.model.ID, id)
}

// externalID returns the store key of id. ok is false when id is the
// canonical id of another provider.
func (p *Provider) externalID(id string) (string, bool) {
	if providerID, externalID, ok := ParseID(id); ok {
		return externalID, providerID == p.model.ID
	}
	return id, true
}

// Begin opens a session bound to a new store transaction
func (p *Provider) Begin(ctx context.Context) (*Session, error) {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{provider: p, tx: tx}, nil
}

// Do runs fn in one session, committing when fn succeeds and rolling back otherwise
func (p *Provider) Do(ctx context.Context, fn func(*Session) error) error {
	sess, err := p.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		if rbErr := sess.Rollback(ctx); rbErr != nil {
			slog.Error("Failed to roll back session", "err", rbErr)
		}
		return err
	}
	return sess.Commit(ctx)
}

// Close releases the underlying store
func (p *Provider) Close() error {
	return p.store.Close()
}

// Session is the per-request view of the provider. It is not safe for
// concurrent use.
type Session struct {
	provider *Provider
	tx       userstore.Tx
	byID     map[string]*UserAdapter // keyed by external id
	tracked  []*UserAdapter
	done     bool

	afterCommit []func()
}

// track returns the session's adapter for rec, so every lookup of the same
// record within a session shares one adapter and its pending changes.
func (s *Session) track(rec *userstore.Record) *UserAdapter {
	if adapter, ok := s.byID[rec.ID]; ok {
		return adapter
	}
	if s.byID == nil {
		s.byID = make(map[string]*UserAdapter)
	}
	adapter := s.provider.mapper.Wrap(rec)
	s.byID[rec.ID] = adapter
	s.tracked = append(s.tracked, adapter)
	return adapter
}

// UserByID looks up a user by canonical id
func (s *Session) UserByID(ctx context.Context, id string) (*UserAdapter, error) {
	slog.Debug("UserByID", "id", id)
	externalID, ok := s.provider.externalID(id)
	if !ok {
		slog.Debug("Id belongs to another provider", "id", id, "provider_id", s.provider.ID())
		return nil, nil
	}
	rec, err := s.tx.FindByID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		slog.Debug("Could not find user by id", "id", id)
		return nil, nil
	}
	return s.track(rec), nil
}

// UserByUsername looks up a user by exact username
func (s *Session) UserByUsername(ctx context.Context, username string) (*UserAdapter, error) {
	slog.Debug("UserByUsername", "username", username)
	rec, err := s.tx.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		slog.Debug("Could not find username", "username", username)
		return nil, nil
	}
	return s.track(rec), nil
}

// UserByEmail looks up the first user with email
func (s *Session) UserByEmail(ctx context.Context, email string) (*UserAdapter, error) {
	rec, err := s.tx.FindByEmail(ctx, email)
	if err != nil || rec == nil {
		return nil, err
	}
	return s.track(rec), nil
}

// AddUser creates a user holding only username
func (s *Session) AddUser(ctx context.Context, username string) (*UserAdapter, error) {
	rec, err := s.tx.Create(ctx, username)
	if err != nil {
		return nil, err
	}
	slog.Info("Added user", "username", username, "id", rec.ID)
	return s.track(rec), nil
}

// RemoveUser deletes the user with the canonical id and its generic
// attributes. It reports false when no such user exists.
func (s *Session) RemoveUser(ctx context.Context, id string) (bool, error) {
	externalID, ok := s.provider.externalID(id)
	if !ok {
		return false, nil
	}
	removed, err := s.tx.Remove(ctx, externalID)
	if err != nil || !removed {
		return false, err
	}

	if _, ok := s.byID[externalID]; ok {
		delete(s.byID, externalID)
		kept := s.tracked[:0]
		for _, a := range s.tracked {
			if a.ExternalID() != externalID {
				kept = append(kept, a)
			}
		}
		s.tracked = kept
	}

	if err := s.provider.attrs.RemoveAll(ctx, ComposeID(s.provider.ID(), externalID)); err != nil {
		return true, err
	}
	slog.Info("Removed user", "id", id)
	return true, nil
}

// CanonicalID returns id in canonical form for this session's provider
func (s *Session) CanonicalID(id string) string {
	return s.provider.CanonicalID(id)
}

// AfterCommit registers fn to run once the session has committed. Hooks are
// dropped on rollback.
func (s *Session) AfterCommit(fn func()) {
	s.afterCommit = append(s.afterCommit, fn)
}

// UsersCount returns the number of users in the store
func (s *Session) UsersCount(ctx context.Context) (int, error) {
	return s.tx.Count(ctx)
}

// SearchForUsers returns users whose username contains params[SearchParam]
func (s *Session) SearchForUsers(ctx context.Context, params map[string]string, page userstore.Page) ([]*UserAdapter, error) {
	records, err := s.tx.Search(ctx, params[SearchParam], page)
	if err != nil {
		return nil, err
	}
	users := make([]*UserAdapter, 0, len(records))
	for _, rec := range records {
		users = append(users, s.track(rec))
	}
	return users, nil
}

// SearchForUsersByAttribute is not supported by this provider and always
// returns no users.
func (s *Session) SearchForUsersByAttribute(ctx context.Context, name, value string) ([]*UserAdapter, error) {
	return []*UserAdapter{}, nil
}

// GroupMembers is not supported by this provider and always returns no users
func (s *Session) GroupMembers(ctx context.Context, groupID string, page userstore.Page) ([]*UserAdapter, error) {
	return []*UserAdapter{}, nil
}

func (s *Session) SupportsCredentialType(credentialType string) bool {
	return s.provider.creds.Supports(credentialType)
}

func (s *Session) IsConfiguredFor(user View, credentialType string) bool {
	return s.provider.creds.Supports(credentialType) && s.provider.creds.IsConfigured(user)
}

func (s *Session) IsValid(user View, input CredentialInput) bool {
	return s.provider.creds.Validate(user, input)
}

func (s *Session) UpdateCredential(ctx context.Context, user View, input CredentialInput) (bool, error) {
	return s.provider.creds.Update(ctx, user, input)
}

func (s *Session) DisableCredentialType(ctx context.Context, user View, credentialType string) error {
	return s.provider.creds.Disable(ctx, user, credentialType)
}

func (s *Session) DisableableCredentialTypes(user View) []string {
	return s.provider.creds.DisableableTypes(user)
}

// OnCache is called by the host when it caches delegate
func (s *Session) OnCache(cachedWith CacheAttachment, delegate *UserAdapter) {
	s.provider.creds.OnCache(cachedWith, delegate)
}

// flush writes every modified adapter back to the store
func (s *Session) flush(ctx context.Context) error {
	for _, a := range s.tracked {
		if !a.dirty {
			continue
		}
		if err := s.tx.Update(ctx, a.rec); err != nil {
			return fmt.Errorf("flush user %s: %w", a.ID(), err)
		}
		a.dirty = false
	}
	return nil
}

// Commit flushes pending changes and commits the transaction
func (s *Session) Commit(ctx context.Context) error {
	if s.done {
		return nil
	}
	if err := s.flush(ctx); err != nil {
		_ = s.Rollback(ctx)
		return err
	}
	s.done = true
	if err := s.tx.Commit(ctx); err != nil {
		return err
	}
	for _, fn := range s.afterCommit {
		fn()
	}
	return nil
}

// Rollback discards the transaction. It is a no-op after Commit.
func (s *Session) Rollback(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	return s.tx.Rollback(ctx)
}
