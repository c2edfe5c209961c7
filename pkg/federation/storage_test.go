package federation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tendant/simple-federation/pkg/errors"
)

func TestComposeAndParseID(t *testing.T) {
	tests := []struct {
		providerID string
		externalID string
	}{
		{"p1", "123e4567-e89b-12d3-a456-426614174000"},
		{"p1", "42"},
		{"legacy", "key:with:colons"},
		{"p", ""},
	}
	for _, tt := range tests {
		t.Run(tt.providerID+"/"+tt.externalID, func(t *testing.T) {
			id := ComposeID(tt.providerID, tt.externalID)
			providerID, externalID, ok := ParseID(id)
			assert.True(t, ok)
			assert.Equal(t, tt.providerID, providerID)
			assert.Equal(t, tt.externalID, externalID)
		})
	}
}

func TestComposeID_Format(t *testing.T) {
	assert.Equal(t, "f:p1:42", ComposeID("p1", "42"))
}

func TestParseID_LocalIDs(t *testing.T) {
	for _, id := range []string{"", "42", "g:p1:42", "f:p1"} {
		_, _, ok := ParseID(id)
		assert.False(t, ok, id)
	}
}

func TestValidateProviderID(t *testing.T) {
	assert.NoError(t, ValidateProviderID("p1"))
	assert.True(t, errors.IsCode(ValidateProviderID(""), errors.ErrCodeInvalidInput))
	assert.True(t, errors.IsCode(ValidateProviderID("a:b"), errors.ErrCodeInvalidInput))
}
