package federation

import (
	"context"
	"crypto/subtle"
	"log/slog"
)

// PasswordType is the only credential type this provider manages
const PasswordType = "password"

// PasswordCacheKey is the key under which the password is attached to a cached user
const PasswordCacheKey = "federation.UserAdapter.password"

// CredentialInput is a credential presented for validation or update
type CredentialInput struct {
	Type  string
	Value string
}

// ViewKind tells live and cached user views apart
type ViewKind int

const (
	// LiveView is backed by a record in the current transaction
	LiveView ViewKind = iota
	// CachedView is a host cache snapshot
	CachedView
)

func (k ViewKind) String() string {
	switch k {
	case LiveView:
		return "live"
	case CachedView:
		return "cached"
	default:
		return "unknown"
	}
}

// CachedSource is the host cache's side of a cached view
type CachedSource interface {
	// CachedValue returns the value attached under key when the user was cached
	CachedValue(key string) (string, bool)
	// DelegateForUpdate returns the live adapter for writes, evicting the snapshot
	DelegateForUpdate(ctx context.Context) (*UserAdapter, error)
}

// View is the user as seen by credential operations. Exactly one of Live and
// Cached is set, as selected by Kind.
type View struct {
	Kind   ViewKind
	Live   *UserAdapter
	Cached CachedSource
}

// CacheAttachment receives the values attached to a user when the host caches it
type CacheAttachment interface {
	Put(key, value string)
}

// CredentialService validates and updates passwords stored in the user record
type CredentialService struct{}

// NewCredentialService creates a new credential service
func NewCredentialService() *CredentialService {
	return &CredentialService{}
}

// Supports reports whether credentialType is managed here
func (s *CredentialService) Supports(credentialType string) bool {
	return credentialType == PasswordType
}

// password resolves the password visible through view. Cached views only
// see the attached value; they never fall back to the store.
func (s *CredentialService) password(view View) (string, bool) {
	switch view.Kind {
	case CachedView:
		if view.Cached == nil {
			return "", false
		}
		return view.Cached.CachedValue(PasswordCacheKey)
	case LiveView:
		if view.Live == nil || view.Live.password() == nil {
			return "", false
		}
		return *view.Live.password(), true
	default:
		return "", false
	}
}

// IsConfigured reports whether a password is resolvable for view
func (s *CredentialService) IsConfigured(view View) bool {
	_, ok := s.password(view)
	return ok
}

// Validate compares input against the resolvable password
func (s *CredentialService) Validate(view View, input CredentialInput) bool {
	if !s.Supports(input.Type) {
		return false
	}
	password, ok := s.password(view)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(input.Value)) == 1
}

// live returns the adapter writes go to
func (s *CredentialService) live(ctx context.Context, view View) (*UserAdapter, error) {
	if view.Kind == CachedView {
		if view.Cached == nil {
			return nil, nil
		}
		return view.Cached.DelegateForUpdate(ctx)
	}
	return view.Live, nil
}

// Update stores input as the new password. It reports false for unsupported types.
func (s *CredentialService) Update(ctx context.Context, view View, input CredentialInput) (bool, error) {
	if !s.Supports(input.Type) {
		return false, nil
	}
	adapter, err := s.live(ctx, view)
	if err != nil {
		return false, err
	}
	if adapter == nil {
		return false, nil
	}
	value := input.Value
	adapter.setPassword(&value)
	slog.Debug("Password updated", "user_id", adapter.ID())
	return true, nil
}

// Disable clears the password. Unsupported types are ignored.
func (s *CredentialService) Disable(ctx context.Context, view View, credentialType string) error {
	if !s.Supports(credentialType) {
		return nil
	}
	adapter, err := s.live(ctx, view)
	if err != nil || adapter == nil {
		return err
	}
	adapter.setPassword(nil)
	slog.Debug("Password disabled", "user_id", adapter.ID())
	return nil
}

// DisableableTypes returns the credential types Disable would clear
func (s *CredentialService) DisableableTypes(view View) []string {
	if s.IsConfigured(view) {
		return []string{PasswordType}
	}
	return []string{}
}

// OnCache attaches the live password to a user the host is caching.
// Nothing is attached when the user has no password.
func (s *CredentialService) OnCache(cachedWith CacheAttachment, delegate *UserAdapter) {
	if delegate == nil || delegate.password() == nil {
		return
	}
	cachedWith.Put(PasswordCacheKey, *delegate.password())
}
