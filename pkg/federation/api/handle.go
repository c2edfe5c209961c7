package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/jinzhu/copier"
	"github.com/tendant/simple-federation/pkg/errors"
	"github.com/tendant/simple-federation/pkg/federation"
	"github.com/tendant/simple-federation/pkg/usercache"
	"github.com/tendant/simple-federation/pkg/userstore"
)

// DefaultPrefix is where RegisterRoutes mounts the federation endpoints
const DefaultPrefix = "/api/v1/federation"

// Handle serves the federation provider over HTTP. Every request runs in
// one provider session.
type Handle struct {
	provider *federation.Provider
	cache    *usercache.Cache
	validate *validator.Validate
	prefix   string
	credMW   []func(http.Handler) http.Handler
}

// Option is a function that configures a Handle
type Option func(*Handle)

// WithUserCache routes credential checks through the host user cache
func WithUserCache(cache *usercache.Cache) Option {
	return func(h *Handle) {
		h.cache = cache
	}
}

// WithPrefix sets the route prefix
func WithPrefix(prefix string) Option {
	return func(h *Handle) {
		h.prefix = prefix
	}
}

// WithCredentialMiddleware wraps the credential validation route, typically
// with a rate limiter
func WithCredentialMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(h *Handle) {
		h.credMW = append(h.credMW, mw...)
	}
}

// NewHandle creates a new federation handler
func NewHandle(provider *federation.Provider, opts ...Option) *Handle {
	h := &Handle{
		provider: provider,
		validate: validator.New(),
		prefix:   DefaultPrefix,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers the federation routes
func (h *Handle) RegisterRoutes(r chi.Router) {
	r.Route(h.prefix, func(r chi.Router) {
		r.Get("/users", h.SearchUsers)
		r.Post("/users", h.CreateUser)
		r.Get("/users/count", h.CountUsers)
		r.Get("/users/by-username/{username}", h.GetUserByUsername)
		r.Get("/users/by-email/{email}", h.GetUserByEmail)
		r.Get("/users/{id}", h.GetUser)
		r.Delete("/users/{id}", h.DeleteUser)
		r.Put("/users/{id}/credentials/password", h.UpdatePassword)
		r.Get("/users/{id}/credentials", h.GetDisableableCredentials)
		r.Delete("/users/{id}/credentials/{type}", h.DisableCredential)
		r.With(h.credMW...).Post("/users/{id}/credentials/validate", h.ValidateCredential)
		r.Put("/users/{id}/attributes/{name}", h.SetAttribute)
		r.Delete("/users/{id}/attributes/{name}", h.RemoveAttribute)
	})
}

// SearchUsers handles GET /users?search=&first=&max=
func (h *Handle) SearchUsers(w http.ResponseWriter, r *http.Request) {
	page := userstore.Page{
		Offset: queryInt(r, "first"),
		Limit:  queryInt(r, "max"),
	}
	params := map[string]string{federation.SearchParam: r.URL.Query().Get("search")}

	var resp UserListResponse
	err := h.provider.Do(r.Context(), func(sess *federation.Session) error {
		users, err := sess.SearchForUsers(r.Context(), params, page)
		if err != nil {
			return err
		}
		resp = UserListResponse{Users: make([]UserResponse, 0, len(users)), First: page.Offset, Max: page.Limit}
		for _, u := range users {
			resp.Users = append(resp.Users, toUserResponse(u))
		}
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// CountUsers handles GET /users/count
func (h *Handle) CountUsers(w http.ResponseWriter, r *http.Request) {
	var count int
	err := h.provider.Do(r.Context(), func(sess *federation.Session) error {
		var err error
		count, err = sess.UsersCount(r.Context())
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, CountResponse{Count: count})
}

// GetUser handles GET /users/{id}
func (h *Handle) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.getOne(w, r, "user", id, func(ctx context.Context, sess *federation.Session) (*federation.UserAdapter, error) {
		return sess.UserByID(ctx, id)
	})
}

// GetUserByUsername handles GET /users/by-username/{username}
func (h *Handle) GetUserByUsername(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	h.getOne(w, r, "username", username, func(ctx context.Context, sess *federation.Session) (*federation.UserAdapter, error) {
		return sess.UserByUsername(ctx, username)
	})
}

// GetUserByEmail handles GET /users/by-email/{email}
func (h *Handle) GetUserByEmail(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	h.getOne(w, r, "email", email, func(ctx context.Context, sess *federation.Session) (*federation.UserAdapter, error) {
		return sess.UserByEmail(ctx, email)
	})
}

func (h *Handle) getOne(w http.ResponseWriter, r *http.Request, kind, key string,
	lookup func(ctx context.Context, sess *federation.Session) (*federation.UserAdapter, error)) {
	var resp UserResponse
	err := h.provider.Do(r.Context(), func(sess *federation.Session) error {
		user, err := lookup(r.Context(), sess)
		if err != nil {
			return err
		}
		if user == nil {
			return errors.NotFound(kind, key)
		}
		resp = toUserResponse(user)
		resp.Attributes, err = user.Attributes(r.Context())
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// CreateUser handles POST /users
func (h *Handle) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	var resp UserResponse
	err := h.provider.Do(r.Context(), func(sess *federation.Session) error {
		user, err := sess.AddUser(r.Context(), req.Username)
		if err != nil {
			return err
		}
		if req.Email != "" {
			user.SetEmail(req.Email)
		}
		if req.Phone != "" {
			if err := user.SetSingleAttribute(r.Context(), federation.PhoneAttribute, req.Phone); err != nil {
				return err
			}
		}
		if req.Password != "" {
			input := federation.CredentialInput{Type: federation.PasswordType, Value: req.Password}
			if _, err := sess.UpdateCredential(r.Context(), user.View(), input); err != nil {
				return err
			}
		}
		resp = toUserResponse(user)
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

// DeleteUser handles DELETE /users/{id}
func (h *Handle) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.provider.Do(r.Context(), func(sess *federation.Session) error {
		removed, err := sess.RemoveUser(r.Context(), id)
		if err != nil {
			return err
		}
		if !removed {
			return errors.NotFound("user", id)
		}
		h.evict(sess, id)
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdatePassword handles PUT /users/{id}/credentials/password
func (h *Handle) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req PasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.provider.Do(r.Context(), func(sess *federation.Session) error {
		view, err := h.view(r.Context(), sess, id)
		if err != nil {
			return err
		}
		input := federation.CredentialInput{Type: federation.PasswordType, Value: req.Value}
		_, err = sess.UpdateCredential(r.Context(), view, input)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetDisableableCredentials handles GET /users/{id}/credentials
func (h *Handle) GetDisableableCredentials(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var types []string
	err := h.provider.Do(r.Context(), func(sess *federation.Session) error {
		view, err := h.view(r.Context(), sess, id)
		if err != nil {
			return err
		}
		types = sess.DisableableCredentialTypes(view)
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, CredentialTypesResponse{Types: types})
}

// DisableCredential handles DELETE /users/{id}/credentials/{type}
func (h *Handle) DisableCredential(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	credentialType := chi.URLParam(r, "type")
	err := h.provider.Do(r.Context(), func(sess *federation.Session) error {
		view, err := h.view(r.Context(), sess, id)
		if err != nil {
			return err
		}
		return sess.DisableCredentialType(r.Context(), view, credentialType)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ValidateCredential handles POST /users/{id}/credentials/validate
func (h *Handle) ValidateCredential(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ValidateCredentialRequest
	if !h.decode(w, r, &req) {
		return
	}

	var valid bool
	err := h.provider.Do(r.Context(), func(sess *federation.Session) error {
		view, err := h.view(r.Context(), sess, id)
		if err != nil {
			// unknown users fail validation like a wrong password
			if errors.IsCode(err, errors.ErrCodeNotFound) {
				return nil
			}
			return err
		}
		valid = sess.IsValid(view, federation.CredentialInput{Type: req.Type, Value: req.Value})
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, ValidateCredentialResponse{Valid: valid})
}

// SetAttribute handles PUT /users/{id}/attributes/{name}
func (h *Handle) SetAttribute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")
	var req AttributeRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.withUser(r.Context(), id, func(sess *federation.Session, user *federation.UserAdapter) error {
		return user.SetAttribute(r.Context(), name, req.Values)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveAttribute handles DELETE /users/{id}/attributes/{name}
func (h *Handle) RemoveAttribute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")
	err := h.withUser(r.Context(), id, func(sess *federation.Session, user *federation.UserAdapter) error {
		return user.RemoveAttribute(r.Context(), name)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// withUser runs fn on the live user in one session and evicts the cached copy
func (h *Handle) withUser(ctx context.Context, id string, fn func(*federation.Session, *federation.UserAdapter) error) error {
	return h.provider.Do(ctx, func(sess *federation.Session) error {
		user, err := sess.UserByID(ctx, id)
		if err != nil {
			return err
		}
		if user == nil {
			return errors.NotFound("user", id)
		}
		h.evict(sess, user.ID())
		return fn(sess, user)
	})
}

// evict drops the cached copy of id now and again once sess commits
func (h *Handle) evict(sess *federation.Session, id string) {
	if h.cache == nil {
		return
	}
	id = sess.CanonicalID(id)
	h.cache.Invalidate(id)
	sess.AfterCommit(func() { h.cache.Invalidate(id) })
}

// view resolves the credential view of id, preferring the host cache
func (h *Handle) view(ctx context.Context, sess *federation.Session, id string) (federation.View, error) {
	if h.cache != nil {
		cached, err := h.cache.Session(sess).UserByID(ctx, id)
		if err != nil {
			return federation.View{}, err
		}
		if cached == nil {
			return federation.View{}, errors.NotFound("user", id)
		}
		return cached.View(), nil
	}

	user, err := sess.UserByID(ctx, id)
	if err != nil {
		return federation.View{}, err
	}
	if user == nil {
		return federation.View{}, errors.NotFound("user", id)
	}
	return user.View(), nil
}

// decode parses and validates a JSON body, writing a 400 on failure
func (h *Handle) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		slog.Debug("Unable to parse body", "err", err)
		writeError(w, r, errors.Wrap(err, errors.ErrCodeInvalidInput, "unable to parse body"))
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, r, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request"))
		return false
	}
	return true
}

func toUserResponse(user *federation.UserAdapter) UserResponse {
	var resp UserResponse
	if err := copier.Copy(&resp, user.Record()); err != nil {
		slog.Error("Failed to copy user", "err", err, "id", user.ID())
	}
	resp.ID = user.ID()
	resp.ExternalID = user.ExternalID()
	return resp
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	status := errors.MapErrorCodeToHTTPStatus(code)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "err", err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Code: string(code), Message: err.Error()})
}

func queryInt(r *http.Request, name string) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
