package federation

import (
	"strings"

	"github.com/tendant/simple-federation/pkg/errors"
)

// federatedPrefix marks canonical ids owned by a federation provider
const federatedPrefix = "f"

// ComposeID builds the canonical id of an external record: "f:<providerID>:<externalID>"
func ComposeID(providerID, externalID string) string {
	return federatedPrefix + ":" + providerID + ":" + externalID
}

// ParseID splits a canonical id into its provider and external parts.
// ok is false for ids that were not produced by ComposeID.
func ParseID(id string) (providerID, externalID string, ok bool) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 || parts[0] != federatedPrefix {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// ValidateProviderID rejects provider ids that would make canonical ids ambiguous
func ValidateProviderID(providerID string) error {
	if providerID == "" {
		return errors.InvalidInput("provider id", "must not be empty")
	}
	if strings.Contains(providerID, ":") {
		return errors.InvalidInput("provider id", "must not contain ':'")
	}
	return nil
}
