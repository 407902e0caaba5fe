package export

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func TestWriteFileAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "rules.jsonl.zst")
	n, err := WriteFile(path, []any{row{1, "a"}, row{2, "b"}, map[string]any{"id": 3, "name": "c"}})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := ReadFile[row](path)
	require.NoError(t, err)
	assert.Equal(t, []row{{1, "a"}, {2, "b"}, {3, "c"}}, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileIsZstdJSONLines(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.Write(row{1, "a"}))
	require.NoError(t, w.Write(row{2, "b"}))
	require.NoError(t, w.Close())

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	plain, err := dec.DecodeAll(buf.Bytes(), nil)
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":1,\"name\":\"a\"}\n{\"id\":2,\"name\":\"b\"}\n", string(plain))
}

func TestScanReportsBadLine(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	data := enc.EncodeAll([]byte("{\"id\":1}\n\nnot json\n"), nil)
	require.NoError(t, enc.Close())

	var seen []row
	err = Scan(bytes.NewReader(data), func(r row) error {
		seen = append(seen, r)
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
	assert.Equal(t, []row{{ID: 1}}, seen)
}

func TestScanStopsOnCallbackError(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	for i := range 5 {
		require.NoError(t, w.Write(row{ID: int64(i)}))
	}
	require.NoError(t, w.Close())

	stop := errors.New("stop")
	calls := 0
	err = Scan(&buf, func(row) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, calls)
}
