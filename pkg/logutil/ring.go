package logutil

import (
	"bytes"
	"sync"
)

// Ring keeps the most recent complete log lines. It is meant to be installed
// with SetOutputTee so the console server can expose recent logs.
type Ring struct {
	mu    sync.Mutex
	max   int
	lines []string
	buf   []byte
}

func NewRing(max int) *Ring {
	if max <= 0 {
		max = 500
	}
	return &Ring{max: max}
}

func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, p...)
	for {
		idx := bytes.IndexByte(r.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(r.buf[:idx])
		r.buf = r.buf[idx+1:]
		if line == "" {
			continue
		}
		r.lines = append(r.lines, line)
		if over := len(r.lines) - r.max; over > 0 {
			r.lines = append([]string(nil), r.lines[over:]...)
		}
	}
	return len(p), nil
}

// Lines returns up to limit of the newest lines, oldest first. limit <= 0
// returns everything kept.
func (r *Ring) Lines(limit int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := 0
	if limit > 0 && len(r.lines) > limit {
		start = len(r.lines) - limit
	}
	return append([]string(nil), r.lines[start:]...)
}
