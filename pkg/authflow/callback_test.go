package authflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallback(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		code  string
		state string
		err   string
	}{
		{name: "bare query", in: "code=abc&state=xyz", code: "abc", state: "xyz"},
		{name: "leading question mark", in: "?code=abc&state=xyz", code: "abc", state: "xyz"},
		{name: "full url", in: "http://localhost:1455/auth/callback?code=c1&state=s1", code: "c1", state: "s1"},
		{name: "no scheme with path", in: "localhost:8085/oauth2callback?code=c2&state=s2", code: "c2", state: "s2"},
		{name: "fragment params", in: "https://host/cb#code=c3&state=s3", code: "c3", state: "s3"},
		{name: "query wins over fragment", in: "https://host/cb?code=q#code=f&state=s", code: "q", state: "s"},
		{name: "legacy code#state", in: "https://host/cb#code=abc#xyz", code: "abc", state: "xyz"},
		{name: "error description promoted", in: "https://host/cb?state=s&error_description=denied+by+user", state: "s", err: "denied by user"},
		{name: "error kept", in: "?error=access_denied&error_description=nope&state=s", state: "s", err: "access_denied"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cb, err := ParseCallback(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.code, cb.Code)
			assert.Equal(t, tc.state, cb.State)
			assert.Equal(t, tc.err, cb.Error)
		})
	}
}

func TestParseCallbackRejects(t *testing.T) {
	_, err := ParseCallback("   ")
	assert.ErrorIs(t, err, ErrEmptyCallback)
	_, err = ParseCallback("justsometext")
	assert.ErrorIs(t, err, ErrUnparseableCallback)
}

func TestNormalizeCookie(t *testing.T) {
	assert.Equal(t, "", NormalizeCookie("  "))
	assert.Equal(t, "BXAuth=abc", NormalizeCookie(" abc "))
	assert.Equal(t, "foo=1; BXAuth=abc", NormalizeCookie("foo=1; BXAuth=abc"))
}

func TestLookupAuthType(t *testing.T) {
	typ, ok := LookupAuthType(" Codex ")
	require.True(t, ok)
	assert.Equal(t, "/api/admin/auth/codex-auth-url", typ.Endpoint)
	_, ok = LookupAuthType("nope")
	assert.False(t, ok)

	cookie, ok := LookupAuthType("iflow-cookie")
	require.True(t, ok)
	assert.True(t, cookie.Cookie)
	assert.Len(t, AuthTypes(), 7)
}
