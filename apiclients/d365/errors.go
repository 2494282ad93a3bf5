package d365

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Classification is the outcome category of a single HTTP attempt.
type Classification int

const (
	Success Classification = iota
	Unauthorized
	RateLimited
	ServerError
	ClientError
	UnexpectedStatus
	ConnectionError
	TimeoutError
)

var classificationName = map[Classification]string{
	Success:          "success",
	Unauthorized:     "unauthorized",
	RateLimited:      "rate limited",
	ServerError:      "server error",
	ClientError:      "client error",
	UnexpectedStatus: "unexpected status",
	ConnectionError:  "connection error",
	TimeoutError:     "timeout",
}

// String returns the Classification name.
func (c Classification) String() string {
	return classificationName[c]
}

// Retryable reports whether an attempt with this outcome may be repeated.
func (c Classification) Retryable() bool {
	switch c {
	case RateLimited, ServerError, ConnectionError, TimeoutError:
		return true
	}
	return false
}

// snippetLength is the maximum number of response body bytes kept for
// diagnostics.
const snippetLength = 500

// ErrPaginationCycle is returned when a server sends a continuation link that
// has already been followed.
var ErrPaginationCycle = errors.New("pagination cycle: next link already visited")

// FatalError reports an operation that was aborted, either because the failure
// could not be retried or because the retry ceiling was reached. No partial
// results accompany a FatalError.
type FatalError struct {
	Op           string // "fetch" or "create"
	Entity       string
	Page         int // page number for fetches, zero for creates
	Class        Classification
	StatusCode   int
	Attempts     int
	Code         string
	Message      string
	InnerMessage string
	Snippet      string
	Err          error
}

// Error fulfills the error interface for FatalError.
func (e *FatalError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(" ")
	b.WriteString(e.Entity)
	if e.Page > 0 {
		fmt.Fprintf(&b, " page %d", e.Page)
	}
	b.WriteString(": ")
	b.WriteString(e.Class.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Class.Retryable() {
		fmt.Fprintf(&b, " after %d attempt(s)", e.Attempts)
	}
	if detail := e.Detail(); detail != "" {
		b.WriteString(": ")
		b.WriteString(detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying transport error, if any.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// Detail returns the most specific server diagnostic available: the inner
// error message, then the error message, then the raw response snippet.
func (e *FatalError) Detail() string {
	switch {
	case e.InnerMessage != "":
		return e.InnerMessage
	case e.Message != "":
		return e.Message
	}
	return e.Snippet
}

// AuthenticationError reports a failed token request. It is always fatal.
type AuthenticationError struct {
	Tenant      string
	Code        string
	Description string
	Err         error
}

// Error fulfills the error interface for AuthenticationError.
func (e *AuthenticationError) Error() string {
	msg := fmt.Sprintf("authentication failed for tenant %s", e.Tenant)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Code == "" && e.Description == "" && e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying oauth2 error.
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// odataError is the OData v4 error envelope.
type odataError struct {
	Error struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		InnerError struct {
			Message string `json:"message"`
		} `json:"innererror"`
	} `json:"error"`
}

// newStatusError builds a FatalError from a non-success response body. Bodies
// that are not an OData error envelope are kept as a snippet only.
func newStatusError(op, entity string, page int, class Classification, status, attempts int, body []byte) *FatalError {
	fe := &FatalError{
		Op:         op,
		Entity:     entity,
		Page:       page,
		Class:      class,
		StatusCode: status,
		Attempts:   attempts,
		Snippet:    snippet(body),
	}
	var oe odataError
	if err := json.Unmarshal(body, &oe); err == nil {
		fe.Code = oe.Error.Code
		fe.Message = oe.Error.Message
		fe.InnerMessage = oe.Error.InnerError.Message
	}
	return fe
}

// snippet truncates a response body for diagnostics.
func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > snippetLength {
		return s[:snippetLength]
	}
	return s
}
