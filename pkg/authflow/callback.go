package authflow

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var (
	ErrEmptyCallback       = errors.New("paste the callback URL")
	ErrUnparseableCallback = errors.New("callback URL could not be parsed")
	ErrMissingState        = errors.New("callback URL has no state parameter")
	ErrMissingCodeOrError  = errors.New("callback URL has neither code nor error")
)

// Callback holds the parameters extracted from a pasted redirect.
type Callback struct {
	RedirectURL string `json:"redirect_url"`
	Code        string `json:"code"`
	State       string `json:"state"`
	Error       string `json:"error"`
}

var schemeRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*://`)

// ParseCallback extracts code, state and error from a pasted redirect URL, a
// bare query string, or a fragment. Parameters in the query win over those in
// the fragment.
func ParseCallback(raw string) (Callback, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Callback{}, ErrEmptyCallback
	}
	u, err := parseLoose(raw)
	if err != nil {
		return Callback{}, err
	}
	query := u.Query()
	fragment, _ := url.ParseQuery(u.Fragment)
	pick := func(key string) string {
		if v := strings.TrimSpace(query.Get(key)); v != "" {
			return v
		}
		return strings.TrimSpace(fragment.Get(key))
	}

	cb := Callback{
		RedirectURL: u.String(),
		Code:        pick("code"),
		State:       pick("state"),
		Error:       pick("error"),
	}
	if cb.State == "" {
		if code, state, ok := strings.Cut(cb.Code, "#"); ok {
			cb.Code = code
			cb.State = state
		}
	}
	if cb.Error == "" {
		cb.Error = pick("error_description")
	}
	return cb, nil
}

func parseLoose(raw string) (*url.URL, error) {
	var candidates []string
	switch {
	case schemeRe.MatchString(raw):
		candidates = append(candidates, raw)
	case strings.HasPrefix(raw, "?"):
		candidates = append(candidates, "http://localhost"+raw)
	case strings.ContainsAny(raw, "/?#:"):
		candidates = append(candidates, "http://"+raw)
		if strings.Contains(raw, "=") {
			candidates = append(candidates, "http://localhost/?"+raw)
		}
	case strings.Contains(raw, "="):
		candidates = append(candidates, "http://localhost/?"+raw)
	default:
		return nil, ErrUnparseableCallback
	}
	for _, c := range candidates {
		if u, err := url.Parse(c); err == nil {
			return u, nil
		}
	}
	return nil, ErrUnparseableCallback
}
