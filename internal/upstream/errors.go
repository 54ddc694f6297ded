// Package upstream classifies failures of external collaborators (chat model,
// speech synthesis, weather and news lookups) into a small taxonomy so callers
// can log them uniformly and degrade to fallback text.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// Sentinel errors for the upstream taxonomy.
var (
	// ErrTimeout is returned when an upstream call exceeded its deadline.
	ErrTimeout = errors.New("upstream: timeout")

	// ErrMalformed is returned when an upstream payload could not be decoded
	// or lacked the fields we need.
	ErrMalformed = errors.New("upstream: malformed response")

	// ErrAuth is returned for 401/403 responses or missing credentials.
	ErrAuth = errors.New("upstream: auth error")

	// ErrUnavailable covers transport failures and non-success statuses.
	ErrUnavailable = errors.New("upstream: unavailable")
)

// APIError represents a non-success response from an upstream API.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("upstream [%s]: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Unwrap maps the status code onto the taxonomy.
func (e *APIError) Unwrap() error {
	return kindForStatus(e.StatusCode)
}

// Error wraps a classified failure with provider context.
type Error struct {
	Provider string
	Kind     error
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("upstream [%s]: %v", e.Provider, e.Kind)
	}
	return fmt.Sprintf("upstream [%s]: %v: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Classify maps an arbitrary error from a collaborator onto the taxonomy.
// It returns nil for a nil error.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	return &Error{Provider: provider, Kind: Kind(err), Err: err}
}

// Malformed builds a malformed-response error for provider.
func Malformed(provider, format string, args ...any) error {
	return &Error{Provider: provider, Kind: ErrMalformed, Err: fmt.Errorf(format, args...)}
}

// FromResponse builds an APIError from an HTTP response status and body snippet.
func FromResponse(provider string, resp *http.Response, body []byte) error {
	msg := string(body)
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return &APIError{Provider: provider, StatusCode: resp.StatusCode, Message: msg}
}

// Kind returns the taxonomy sentinel that best describes err.
func Kind(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, ErrAuth):
		return ErrAuth
	case errors.Is(err, ErrMalformed):
		return ErrMalformed
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return kindForStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return kindForStatus(reqErr.HTTPStatusCode)
	}
	var upErr *APIError
	if errors.As(err, &upErr) {
		return kindForStatus(upErr.StatusCode)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return ErrMalformed
	}
	return ErrUnavailable
}

func kindForStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return ErrTimeout
	default:
		return ErrUnavailable
	}
}

// IsTimeout reports whether err is an upstream timeout.
func IsTimeout(err error) bool { return Kind(err) == ErrTimeout }

// IsAuth reports whether err is an upstream auth failure.
func IsAuth(err error) bool { return Kind(err) == ErrAuth }
