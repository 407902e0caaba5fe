package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoToken is returned by New when no admin token is configured.
var ErrNoToken = errors.New("no admin token, run `proxydesk login` first")

// HTTPError is a non-2xx answer from the admin API.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	Body       string
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Body
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s status %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// IsStatus reports whether err wraps an HTTPError with the given status.
func IsStatus(err error, status int) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == status
}

// Message returns the server message of an HTTPError, or err.Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	var he *HTTPError
	if errors.As(err, &he) && he.Message != "" {
		return he.Message
	}
	return err.Error()
}

func newHTTPError(method, path string, status int, body []byte) *HTTPError {
	he := &HTTPError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Body:       strings.TrimSpace(string(body)),
	}
	if len(he.Body) > 512 {
		he.Body = he.Body[:512] + "..."
	}
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		he.Message = errorText(payload.Error)
		if he.Message == "" {
			he.Message = strings.TrimSpace(payload.Message)
		}
	}
	return he
}

// errorText accepts both "error": "text" and "error": {"message": "text"}.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return strings.TrimSpace(obj.Message)
	}
	return ""
}
