// Package d365 is a resilient client for the Dynamics 365 Finance & Operations
// OData API.
//
// An Authenticator obtains and caches a client-credentials bearer token. A Client
// built with that token fetches paginated entity collections and creates single
// records. Every request runs through a bounded retry loop: rate limiting, server
// errors, connection failures and per-attempt timeouts are retried with
// exponential backoff; authentication rejections and other client errors abort
// the operation at once. Aborted operations return a *FatalError and never a
// partial result.
//
// The client is not safe for concurrent use; callers needing concurrency must
// serialise access.
package d365

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
)

// dataPath is the OData service root below the environment URL.
const dataPath = "data"

// odataVersion is sent as both OData-Version and OData-MaxVersion.
const odataVersion = "4.0"

// Reauthenticator can replace a rejected token. *Authenticator satisfies it.
type Reauthenticator interface {
	Invalidate()
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Client is a wrapper for making authenticated, retried calls to the OData API.
// The base URL and default headers are fixed at construction; only the bearer
// token may be swapped.
type Client struct {
	http       *retryablehttp.Client
	httpClient *http.Client
	baseURL    *url.URL
	headers    http.Header
	token      *oauth2.Token
	policy     RetryPolicy
	reauth     Reauthenticator
	log        *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.log = logger
	}
}

// WithHTTPClient sets the underlying http.Client. Its Timeout is replaced by the
// policy's per-attempt timeout on a copy; the provided client is not modified.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithReauthenticator enables a single token refresh and repeat of a request
// rejected with 401. Without it every 401 is fatal.
func WithReauthenticator(r Reauthenticator) ClientOption {
	return func(c *Client) {
		c.reauth = r
	}
}

// NewClient creates a Client for the environment, presenting token on every
// request and retrying according to policy.
func NewClient(environmentURL string, token *oauth2.Token, policy RetryPolicy, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(environmentURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid environment url %q: %w", environmentURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("environment url %q must be absolute", environmentURL)
	}
	if token == nil || token.AccessToken == "" {
		return nil, errors.New("an access token is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	headers.Set("OData-MaxVersion", odataVersion)
	headers.Set("OData-Version", odataVersion)

	c := &Client{
		baseURL: base,
		headers: headers,
		token:   token,
		policy:  policy,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.log == nil {
		c.log = defaultLogger()
	}

	rc := retryablehttp.NewClient()
	if c.httpClient != nil {
		hc := *c.httpClient
		rc.HTTPClient = &hc
	}
	rc.HTTPClient.Timeout = policy.AttemptTimeout
	rc.RetryMax = policy.MaxAttempts - 1
	rc.CheckRetry = c.checkRetry
	rc.Backoff = c.backoff
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = c.log
	c.http = rc

	return c, nil
}

// SetToken swaps the bearer token presented on subsequent requests.
func (c *Client) SetToken(token *oauth2.Token) {
	c.token = token
}

// FetchAll retrieves every record of q.Entity, following @odata.nextLink until
// the last page or until q.MaxRecords records have been collected. The $select
// and cross-company parameters are sent on the first request only; continuation
// links are self-contained.
func (c *Client) FetchAll(ctx context.Context, q Query) ([]Record, error) {
	if q.Entity == "" {
		return nil, errors.New("an entity name is required")
	}
	if q.MaxRecords < 0 {
		return nil, fmt.Errorf("max records must not be negative, got %d", q.MaxRecords)
	}

	requestURL := c.collectionURL(q)
	visited := map[string]bool{}

	records := []Record{}
	var pageNo int
	for requestURL != "" {
		pageNo++
		if visited[requestURL] {
			c.log.Error(fmt.Sprintf("FetchAll: page %d: %s repeated", pageNo, requestURL))
			return nil, fmt.Errorf("fetch %s page %d: %w", q.Entity, pageNo, ErrPaginationCycle)
		}
		visited[requestURL] = true
		c.log.Debug(fmt.Sprintf("FetchAll: page %d: url %s", pageNo, requestURL))

		r := request{
			op:     "fetch",
			entity: q.Entity,
			page:   pageNo,
			method: http.MethodGet,
			url:    requestURL,
			want:   http.StatusOK,
		}
		var page Page
		if err := c.execute(ctx, r, &page); err != nil {
			c.log.Error(fmt.Sprintf("FetchAll: page %d: %v", pageNo, err))
			return nil, err
		}

		records = append(records, page.Value...)
		c.log.Info(fmt.Sprintf("FetchAll: page %d: %d records (total: %d)", pageNo, len(page.Value), len(records)))

		if q.MaxRecords > 0 && len(records) >= q.MaxRecords {
			records = records[:q.MaxRecords]
			c.log.Info(fmt.Sprintf("FetchAll: reached max records limit (%d), stopping", q.MaxRecords))
			break
		}

		if page.NextLink == "" {
			break
		}
		next, err := c.resolve(page.NextLink)
		if err != nil {
			c.log.Error(fmt.Sprintf("FetchAll: invalid next link for page %d: (%s) %v", pageNo+1, page.NextLink, err))
			return nil, fmt.Errorf("invalid next link for page %d: (%s) %w", pageNo+1, page.NextLink, err)
		}
		requestURL = next
	}

	c.log.Info(fmt.Sprintf("FetchAll: retrieved %d %s records", len(records), q.Entity))
	return records, nil
}

// Create posts payload as a new entity record and returns the created record.
// Only 201 Created counts as success.
func (c *Client) Create(ctx context.Context, entity string, payload any) (Record, error) {
	if entity == "" {
		return nil, errors.New("an entity name is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		c.log.Error(fmt.Sprintf("Create: failed to marshal payload: %v", err))
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	r := request{
		op:     "create",
		entity: entity,
		method: http.MethodPost,
		url:    c.baseURL.JoinPath(dataPath, entity).String(),
		body:   body,
		want:   http.StatusCreated,
	}
	c.log.Debug(fmt.Sprintf("Create: url %s", r.url))

	var created Record
	if err := c.execute(ctx, r, &created); err != nil {
		c.log.Error(fmt.Sprintf("Create: %v", err))
		return nil, err
	}
	c.log.Info(fmt.Sprintf("Create: %s record created", entity))
	return created, nil
}

// request describes a single logical operation for execute.
type request struct {
	op     string
	entity string
	page   int
	method string
	url    string
	body   []byte
	want   int
}

// execute runs r through the retry loop. If a Reauthenticator is set, a 401 is
// answered by fetching a fresh token and running r once more.
func (c *Client) execute(ctx context.Context, r request, v any) error {
	err := c.attempt(ctx, r, v)

	var fe *FatalError
	if c.reauth == nil || !errors.As(err, &fe) || fe.Class != Unauthorized {
		return err
	}

	c.log.Warn(fmt.Sprintf("%s %s: token rejected, re-authenticating once", r.op, r.entity))
	c.reauth.Invalidate()
	tok, terr := c.reauth.Token(ctx)
	if terr != nil {
		return terr
	}
	c.SetToken(tok)
	return c.attempt(ctx, r, v)
}

// attempt performs r with a fresh RetryState and decodes a successful body
// into v.
func (c *Client) attempt(ctx context.Context, r request, v any) error {
	st := &RetryState{}
	ctx = withRetryState(ctx, st)

	req, err := c.newRequest(ctx, r.method, r.url, r.body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.op, r.entity, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", r.op, r.entity, ctxErr)
		}
		return &FatalError{
			Op:       r.op,
			Entity:   r.entity,
			Page:     r.page,
			Class:    classifyError(err),
			Attempts: st.Attempts,
			Err:      err,
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// The body has normally been buffered by checkRetry; a read error here
	// is the last attempt's failure replayed.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", r.op, r.entity, ctxErr)
		}
		var bre *bodyReadError
		if !errors.As(err, &bre) {
			err = &bodyReadError{err: err}
		}
		return &FatalError{
			Op:       r.op,
			Entity:   r.entity,
			Page:     r.page,
			Class:    classifyError(err),
			Attempts: max(st.Attempts, 1),
			Err:      err,
		}
	}

	if resp.StatusCode != r.want {
		class := classifyStatus(resp.StatusCode)
		if class == Success {
			class = UnexpectedStatus
		}
		fe := newStatusError(r.op, r.entity, r.page, class, resp.StatusCode, st.Attempts, body)
		c.log.Error(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, fe.Snippet))
		return fe
	}

	if v != nil {
		if err := json.Unmarshal(body, v); err != nil {
			return fmt.Errorf("%s %s: failed to decode response: %w", r.op, r.entity, err)
		}
	}
	return nil
}

// newRequest is a helper to create a new retryable request with the default
// headers and the current bearer token.
func (c *Client) newRequest(ctx context.Context, method, url string, body []byte) (*retryablehttp.Request, error) {
	var rawBody any
	if body != nil {
		rawBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, rawBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range c.headers {
		req.Header[k] = append([]string(nil), v...)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.token.SetAuthHeader(req.Request)
	return req, nil
}

// collectionURL builds the first-page URL for q.
func (c *Client) collectionURL(q Query) string {
	u := c.baseURL.JoinPath(dataPath, q.Entity)
	params := url.Values{}
	if len(q.Select) > 0 {
		params.Set("$select", strings.Join(q.Select, ","))
	}
	if q.CrossCompany {
		params.Set("cross-company", "true")
	}
	u.RawQuery = params.Encode()
	return u.String()
}

// resolve turns a continuation link into an absolute URL.
func (c *Client) resolve(link string) (string, error) {
	ref, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	return c.baseURL.ResolveReference(ref).String(), nil
}

// defaultLogger is used when no logger is supplied.
func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(
		os.Stdout,
		&slog.HandlerOptions{Level: slog.LevelDebug},
	))
}
