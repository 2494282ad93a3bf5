package d365

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultAuthorityHost is the Microsoft Entra ID login host.
const DefaultAuthorityHost = "https://login.microsoftonline.com"

// Authenticator obtains client-credentials tokens scoped to one environment and
// caches the current token until it expires or is invalidated.
type Authenticator struct {
	creds         Credentials
	authorityHost string
	httpClient    *http.Client
	log           *slog.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// AuthOption configures an Authenticator.
type AuthOption func(*Authenticator)

// WithAuthorityHost overrides the login host, for example for sovereign clouds
// or testing.
func WithAuthorityHost(host string) AuthOption {
	return func(a *Authenticator) {
		a.authorityHost = strings.TrimRight(host, "/")
	}
}

// WithAuthHTTPClient sets the http.Client used for token requests.
func WithAuthHTTPClient(hc *http.Client) AuthOption {
	return func(a *Authenticator) {
		a.httpClient = hc
	}
}

// WithAuthLogger sets the Authenticator logger.
func WithAuthLogger(logger *slog.Logger) AuthOption {
	return func(a *Authenticator) {
		a.log = logger
	}
}

// NewAuthenticator validates creds and returns an Authenticator. The trailing
// slash of the environment URL is removed.
func NewAuthenticator(creds Credentials, opts ...AuthOption) (*Authenticator, error) {
	if err := creds.validate(); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", err)
	}
	creds.EnvironmentURL = strings.TrimRight(creds.EnvironmentURL, "/")

	a := &Authenticator{
		creds:         creds,
		authorityHost: DefaultAuthorityHost,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = defaultLogger()
	}
	return a, nil
}

// Authority is the token authority for the tenant.
func (a *Authenticator) Authority() string {
	return fmt.Sprintf("%s/%s", a.authorityHost, url.PathEscape(a.creds.TenantID))
}

// Scope is the OAuth2 scope for the environment's API.
func (a *Authenticator) Scope() string {
	return a.creds.EnvironmentURL + "/.default"
}

// EnvironmentURL is the normalised environment URL.
func (a *Authenticator) EnvironmentURL() string {
	return a.creds.EnvironmentURL
}

// Token returns the cached token while it is valid, otherwise it requests a new
// one. Failures are returned as *AuthenticationError and are not retried.
func (a *Authenticator) Token(ctx context.Context) (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token.Valid() {
		a.log.Debug("Token: using cached access token")
		return a.token, nil
	}

	a.log.Info("Token: no cached token found, acquiring new token", "credentials", a.creds)
	if a.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	}

	tok, err := a.config().Token(ctx)
	if err != nil {
		ae := &AuthenticationError{Tenant: a.creds.TenantID, Err: err}
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			ae.Code = re.ErrorCode
			ae.Description = re.ErrorDescription
		}
		a.log.Error(fmt.Sprintf("Token: %v", ae))
		return nil, ae
	}

	a.token = tok
	a.log.Info("Token: access token acquired successfully")
	return tok, nil
}

// Invalidate drops the cached token so the next Token call fetches a new one.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = nil
}

// config builds the client-credentials configuration. Entra ID expects the
// client secret in the form body.
func (a *Authenticator) config() *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     a.creds.ClientID,
		ClientSecret: a.creds.ClientSecret,
		TokenURL:     a.Authority() + "/oauth2/v2.0/token",
		Scopes:       []string{a.Scope()},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
}
