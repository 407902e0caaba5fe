package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lkarlslund/proxydesk/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuperAdminCanEverything(t *testing.T) {
	s := New(Stored{Token: "t", IsSuperAdmin: true})
	assert.True(t, s.Can("DELETE", "/api/admin/users/:id"))
	assert.True(t, s.Can("get", "/anything"))
}

func TestExplicitPermissions(t *testing.T) {
	s := New(Stored{Token: "t", Permissions: []string{
		"GET /api/admin/auth-files",
		"put:/api/admin/auth-files/:id/",
		"bogus",
		"FETCH /x",
	}})
	assert.True(t, s.Can("GET", "/api/admin/auth-files"))
	assert.True(t, s.Can("get", "/api/admin/auth-files/"))
	assert.True(t, s.Can("PUT", "/api/admin/auth-files/:id"))
	assert.False(t, s.Can("DELETE", "/api/admin/auth-files/:id"))
	assert.False(t, s.Can("POST", "/api/admin/auth-files"))
	assert.Equal(t, []string{"GET /api/admin/auth-files", "PUT /api/admin/auth-files/:id"}, s.Stored().Permissions)
}

func TestAnonymousDeniesEverything(t *testing.T) {
	assert.False(t, Anonymous.Can("GET", "/api/admin/users"))
	assert.False(t, Anonymous.LoggedIn())
}

func TestLoadMissingAndMalformedFailClosed(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, cache.ErrNotFound)
	assert.False(t, s.Can("GET", "/api/admin/users"))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"token":`), 0o600))
	s, err = Load(bad)
	assert.Error(t, err)
	assert.False(t, s.LoggedIn())

	s, err = Parse([]byte(`[1,2]`))
	assert.Error(t, err)
	assert.False(t, s.IsSuperAdmin())
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	in := New(Stored{Token: " tok ", Username: "root", Permissions: []string{"GET /api/admin/me"}})
	require.NoError(t, Save(path, in))

	out, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok", out.Token())
	assert.Equal(t, "root", out.Username())
	assert.True(t, out.Can("GET", "/api/admin/me"))
}
