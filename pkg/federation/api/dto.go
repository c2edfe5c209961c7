package api

import "time"

// UserResponse is the JSON representation of a federated user
type UserResponse struct {
	ID         string              `json:"id"`
	ExternalID string              `json:"externalId"`
	Username   string              `json:"username"`
	Email      *string             `json:"email,omitempty"`
	Phone      *string             `json:"phone,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// UserListResponse wraps a page of users
type UserListResponse struct {
	Users []UserResponse `json:"users"`
	First int            `json:"first"`
	Max   int            `json:"max"`
}

// CountResponse holds the number of users
type CountResponse struct {
	Count int `json:"count"`
}

// CreateUserRequest creates a user
type CreateUserRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Email    string `json:"email" validate:"omitempty,email,max=255"`
	Phone    string `json:"phone" validate:"omitempty,max=64"`
	Password string `json:"password"`
}

// PasswordRequest carries a new password
type PasswordRequest struct {
	Value string `json:"value" validate:"required"`
}

// ValidateCredentialRequest carries a credential to check
type ValidateCredentialRequest struct {
	Type  string `json:"type" validate:"required"`
	Value string `json:"value"`
}

// ValidateCredentialResponse reports the check result
type ValidateCredentialResponse struct {
	Valid bool `json:"valid"`
}

// AttributeRequest replaces the values of one attribute
type AttributeRequest struct {
	Values []string `json:"values" validate:"dive,max=1024"`
}

// CredentialTypesResponse lists credential types
type CredentialTypesResponse struct {
	Types []string `json:"types"`
}

// ErrorResponse is returned for every failed request
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
