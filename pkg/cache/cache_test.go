package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTripAndPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	require.NoError(t, SaveJSON(path, map[string]string{"token": "abc"}))

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	var out map[string]string
	require.NoError(t, LoadJSON(path, &out))
	assert.Equal(t, "abc", out["token"])

	require.NoError(t, RemoveJSON(path))
	require.NoError(t, RemoveJSON(path))
	assert.ErrorIs(t, LoadJSON(path, &out), ErrNotFound)
}

func TestLoadJSONCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	var out map[string]any
	assert.ErrorIs(t, LoadJSON(path, &out), ErrCorrupt)

	require.NoError(t, os.WriteFile(path, nil, 0o600))
	assert.ErrorIs(t, LoadJSON(path, &out), ErrCorrupt)
}

func TestTTLMapExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewTTLMap[string, int]().WithClock(func() time.Time { return now })
	m.Set("a", 1, time.Minute)
	m.Set("b", 2, 0)

	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(time.Minute)
	_, ok = m.Get("a")
	assert.False(t, ok)
	_, ok = m.Get("b")
	assert.True(t, ok)

	m.Purge()
	assert.Equal(t, 0, m.Len())
}

func TestTTLMapFetchDoesNotCacheErrors(t *testing.T) {
	m := NewTTLMap[string, int]()
	calls := 0
	_, err := m.Fetch("k", time.Minute, func() (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	require.Error(t, err)
	v, err := m.Fetch("k", time.Minute, func() (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	v, err = m.Fetch("k", time.Minute, func() (int, error) {
		calls++
		return 9, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 2, calls)
}
