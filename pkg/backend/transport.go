package backend

import (
	"net/http"
	"strings"
)

// authRoundTripper attaches the admin token and user agent to every request.
type authRoundTripper struct {
	Base      http.RoundTripper
	Token     string
	UserAgent string
}

func wrapTransport(base http.RoundTripper, token, userAgent string) http.RoundTripper {
	return authRoundTripper{
		Base:      base,
		Token:     strings.TrimSpace(token),
		UserAgent: strings.TrimSpace(userAgent),
	}
}

func (rt authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := rt.Base
	if base == nil {
		base = http.DefaultTransport
	}
	out := req.Clone(req.Context())
	out.Header = req.Header.Clone()
	if rt.Token != "" {
		out.Header.Set("Authorization", "Bearer "+rt.Token)
	}
	if rt.UserAgent != "" && out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", rt.UserAgent)
	}
	if out.Header.Get("Accept") == "" {
		out.Header.Set("Accept", "application/json")
	}
	return base.RoundTrip(out)
}
