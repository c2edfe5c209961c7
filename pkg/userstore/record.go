package userstore

import (
	"strings"
	"time"
)

// Record is one user row of the external store.
type Record struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     *string   `json:"email"`
	Password  *string   `json:"password"`
	Phone     *string   `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Email = cloneString(r.Email)
	c.Password = cloneString(r.Password)
	c.Phone = cloneString(r.Phone)
	return &c
}

// Page bounds a search result window. Zero or negative values mean unset.
type Page struct {
	Offset int
	Limit  int
}

// Unbounded is the page that returns every matching record.
var Unbounded = Page{}

// HasOffset reports whether an offset was requested
func (p Page) HasOffset() bool { return p.Offset > 0 }

// HasLimit reports whether a limit was requested
func (p Page) HasLimit() bool { return p.Limit > 0 }

// apply slices an already ordered result set to the page window
func (p Page) apply(records []*Record) []*Record {
	if p.HasOffset() {
		if p.Offset >= len(records) {
			return []*Record{}
		}
		records = records[p.Offset:]
	}
	if p.HasLimit() && p.Limit < len(records) {
		records = records[:p.Limit]
	}
	return records
}

// StringPtr returns a pointer to s, or nil when s is empty
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences s, returning "" for nil
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// matchesFilter is the case-insensitive substring match used by search
func matchesFilter(username, filter string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(username), strings.ToLower(filter))
}

// likePattern builds a LIKE pattern for a case-insensitive substring search.
// Wildcards in the filter are escaped with '\' so they match literally.
func likePattern(filter string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(filter)) + "%"
}
