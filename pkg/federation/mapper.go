package federation

import (
	"context"
	"time"

	"github.com/tendant/simple-federation/pkg/attribute"
	"github.com/tendant/simple-federation/pkg/userstore"
)

// PhoneAttribute is the reserved attribute backed by the record's phone column
const PhoneAttribute = "phone"

// AttributeHandler maps one reserved attribute name onto record fields. The
// mapper consults handlers before the generic attribute store.
type AttributeHandler interface {
	Name() string
	// Get returns the current values, empty when unset
	Get(rec *userstore.Record) []string
	// Set stores values; an empty list clears the field
	Set(rec *userstore.Record, values []string)
	Remove(rec *userstore.Record)
}

// PhoneHandler stores the phone attribute in Record.Phone. Only the first
// value of a multi-valued write is kept.
type PhoneHandler struct{}

func (PhoneHandler) Name() string { return PhoneAttribute }

func (PhoneHandler) Get(rec *userstore.Record) []string {
	if rec.Phone == nil {
		return []string{}
	}
	return []string{*rec.Phone}
}

func (PhoneHandler) Set(rec *userstore.Record, values []string) {
	if len(values) == 0 {
		rec.Phone = nil
		return
	}
	phone := values[0]
	rec.Phone = &phone
}

func (PhoneHandler) Remove(rec *userstore.Record) {
	rec.Phone = nil
}

// IdentityMapper turns external records into canonical user views
type IdentityMapper struct {
	providerID string
	handlers   []AttributeHandler
	attrs      attribute.Store
}

// NewIdentityMapper creates a mapper for providerID. Without handlers the
// phone handler is installed.
func NewIdentityMapper(providerID string, attrs attribute.Store, handlers ...AttributeHandler) *IdentityMapper {
	if len(handlers) == 0 {
		handlers = []AttributeHandler{PhoneHandler{}}
	}
	if attrs == nil {
		attrs = attribute.NewInMemoryStore()
	}
	return &IdentityMapper{
		providerID: providerID,
		handlers:   handlers,
		attrs:      attrs,
	}
}

// CanonicalID returns the host id of rec
func (m *IdentityMapper) CanonicalID(rec *userstore.Record) string {
	return ComposeID(m.providerID, rec.ID)
}

// Wrap returns a live view over rec. The adapter mutates rec in place.
func (m *IdentityMapper) Wrap(rec *userstore.Record) *UserAdapter {
	return &UserAdapter{
		mapper: m,
		rec:    rec,
		id:     m.CanonicalID(rec),
	}
}

func (m *IdentityMapper) handler(name string) AttributeHandler {
	for _, h := range m.handlers {
		if h.Name() == name {
			return h
		}
	}
	return nil
}

// UserAdapter is the live canonical view of one external record
type UserAdapter struct {
	mapper *IdentityMapper
	rec    *userstore.Record
	id     string
	dirty  bool
}

// ID returns the canonical id
func (a *UserAdapter) ID() string { return a.id }

// ExternalID returns the store-native key
func (a *UserAdapter) ExternalID() string { return a.rec.ID }

func (a *UserAdapter) Username() string { return a.rec.Username }

func (a *UserAdapter) SetUsername(username string) {
	a.rec.Username = username
	a.dirty = true
}

// Email returns the email address, "" when unset
func (a *UserAdapter) Email() string { return userstore.StringValue(a.rec.Email) }

// SetEmail sets the email address; "" clears it
func (a *UserAdapter) SetEmail(email string) {
	a.rec.Email = userstore.StringPtr(email)
	a.dirty = true
}

func (a *UserAdapter) CreatedAt() time.Time { return a.rec.CreatedAt }

// Record returns a copy of the underlying record
func (a *UserAdapter) Record() *userstore.Record { return a.rec.Clone() }

// Dirty reports whether the adapter holds unflushed changes
func (a *UserAdapter) Dirty() bool { return a.dirty }

func (a *UserAdapter) password() *string { return a.rec.Password }

func (a *UserAdapter) setPassword(password *string) {
	a.rec.Password = password
	a.dirty = true
}

// Attribute returns all values of name
func (a *UserAdapter) Attribute(ctx context.Context, name string) ([]string, error) {
	if h := a.mapper.handler(name); h != nil {
		return h.Get(a.rec), nil
	}
	return a.mapper.attrs.Get(ctx, a.id, name)
}

// FirstAttribute returns the first value of name, "" when unset
func (a *UserAdapter) FirstAttribute(ctx context.Context, name string) (string, error) {
	values, err := a.Attribute(ctx, name)
	if err != nil || len(values) == 0 {
		return "", err
	}
	return values[0], nil
}

// SetAttribute replaces the values of name
func (a *UserAdapter) SetAttribute(ctx context.Context, name string, values []string) error {
	if h := a.mapper.handler(name); h != nil {
		h.Set(a.rec, values)
		a.dirty = true
		return nil
	}
	return a.mapper.attrs.Set(ctx, a.id, name, values)
}

// SetSingleAttribute replaces the values of name with value
func (a *UserAdapter) SetSingleAttribute(ctx context.Context, name, value string) error {
	return a.SetAttribute(ctx, name, []string{value})
}

// RemoveAttribute clears name
func (a *UserAdapter) RemoveAttribute(ctx context.Context, name string) error {
	if h := a.mapper.handler(name); h != nil {
		h.Remove(a.rec)
		a.dirty = true
		return nil
	}
	return a.mapper.attrs.Remove(ctx, a.id, name)
}

// Attributes returns the generic attributes merged with the reserved ones.
// Reserved values win over generic entries of the same name; an unset
// reserved attribute is absent.
func (a *UserAdapter) Attributes(ctx context.Context) (map[string][]string, error) {
	all, err := a.mapper.attrs.All(ctx, a.id)
	if err != nil {
		return nil, err
	}
	for _, h := range a.mapper.handlers {
		values := h.Get(a.rec)
		if len(values) == 0 {
			delete(all, h.Name())
			continue
		}
		all[h.Name()] = values
	}
	return all, nil
}

// View returns the live credential view of the adapter
func (a *UserAdapter) View() View {
	return View{Kind: LiveView, Live: a}
}
