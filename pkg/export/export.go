// Package export writes and reads list snapshots as zstd compressed JSON
// Lines.
package export

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const maxLine = 2 << 20

// Writer encodes one JSON document per line into a zstd stream.
type Writer struct {
	enc   *zstd.Encoder
	count int
}

func NewWriter(w io.Writer) (*Writer, error) {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, err
	}
	return &Writer{enc: enc}, nil
}

func (w *Writer) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode row %d: %w", w.count, err)
	}
	if _, err := w.enc.Write(append(line, '\n')); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count is the number of rows written so far.
func (w *Writer) Count() int { return w.count }

// Close flushes the zstd frame. The underlying writer is left open.
func (w *Writer) Close() error { return w.enc.Close() }

// WriteFile writes rows to path through a temp file and a rename, so a
// failed export never leaves a truncated file behind.
func WriteFile(path string, rows []any) (int, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return 0, err
	}
	f, err := os.CreateTemp(dir, ".export-*.jsonl.zst.tmp")
	if err != nil {
		return 0, err
	}
	tmp := f.Name()
	fail := func(err error) (int, error) {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, err
	}
	w, err := NewWriter(f)
	if err != nil {
		return fail(err)
	}
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			_ = w.Close()
			return fail(err)
		}
	}
	if err := w.Close(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return w.Count(), nil
}

// Scan decodes every line of a zstd JSONL stream into a T and calls fn.
// Blank lines are skipped; a malformed line is an error.
func Scan[T any](r io.Reader, fn func(T) error) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()
	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ReadFile loads every row of an export file.
func ReadFile[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []T
	err = Scan(f, func(v T) error {
		out = append(out, v)
		return nil
	})
	return out, err
}
