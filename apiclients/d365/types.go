package d365

import (
	"fmt"
	"log/slog"
	"strings"
)

// Record is a single OData entity as returned by the API, keyed by field name.
type Record map[string]any

// String returns the named field as a string, or "" if it is absent or null.
func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Page is one OData collection response. NextLink is empty on the final page.
type Page struct {
	Value    []Record `json:"value"`
	NextLink string   `json:"@odata.nextLink"`
}

// Query describes a collection fetch. A MaxRecords of zero means no cap.
type Query struct {
	Entity       string
	Select       []string
	CrossCompany bool
	MaxRecords   int
}

// Credentials are the client-credentials inputs for an environment. The secret
// is never rendered in full by String or LogValue.
type Credentials struct {
	TenantID       string
	ClientID       string
	ClientSecret   string
	EnvironmentURL string
}

// String describes the credentials with the secret masked.
func (c Credentials) String() string {
	return fmt.Sprintf("tenant=%s client=%s secret=%s environment=%s",
		c.TenantID, c.ClientID, maskSecret(c.ClientSecret), c.EnvironmentURL)
}

// LogValue implements slog.LogValuer so credentials are safe to log.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("tenant", c.TenantID),
		slog.String("client", c.ClientID),
		slog.String("secret", maskSecret(c.ClientSecret)),
		slog.String("environment", c.EnvironmentURL),
	)
}

// validate reports the first missing credential.
func (c Credentials) validate() error {
	switch {
	case c.TenantID == "":
		return fmt.Errorf("tenant id is missing")
	case c.ClientID == "":
		return fmt.Errorf("client id is missing")
	case c.ClientSecret == "":
		return fmt.Errorf("client secret is missing")
	case c.EnvironmentURL == "":
		return fmt.Errorf("environment url is missing")
	}
	return nil
}

// maskSecret shows at most the first four characters of a secret.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return strings.Repeat("*", 8)
	}
	return s[:4] + strings.Repeat("*", 8)
}
