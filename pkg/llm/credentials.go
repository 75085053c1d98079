package llm

import (
	"fmt"
	"strings"
)

// Credentials is the interface that all provider credential types must implement.
type Credentials interface {
	// Validate checks if the credentials are properly formatted and present.
	Validate() error

	// Redacted returns a safe-to-log version of the credentials.
	Redacted() string
}

// APIKeyCredentials holds authentication for API-based providers.
type APIKeyCredentials struct {
	// APIKey is the authentication token for the provider's API.
	APIKey string

	// BaseURL is an optional override for the API endpoint.
	// If empty, the provider's default endpoint is used.
	BaseURL string
}

// Validate checks that the API key is present.
// Length and format validation is left to individual providers since key formats vary.
func (c APIKeyCredentials) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	return nil
}

// Redacted returns a safe-to-log version with the API key masked.
func (c APIKeyCredentials) Redacted() string {
	masked := maskSecret(c.APIKey)
	if c.BaseURL != "" {
		return fmt.Sprintf("APIKey: %s, BaseURL: %s", masked, c.BaseURL)
	}
	return fmt.Sprintf("APIKey: %s", masked)
}

// maskSecret replaces all but the first and last four characters of a secret
// with asterisks. Short secrets are fully masked.
func maskSecret(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", 4) + secret[len(secret)-4:]
}
