package console

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lkarlslund/proxydesk/pkg/export"
	"github.com/lkarlslund/proxydesk/pkg/listing"
	"github.com/lkarlslund/proxydesk/pkg/pages"
)

const maxBody = 1 << 20

// reserved query keys; everything else becomes a page filter.
var reservedQuery = map[string]bool{"q": true, "group": true, "page": true, "refresh": true}

func intParam(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return def
	}
	return n
}

func queryFrom(r *http.Request) pages.Query {
	v := r.URL.Query()
	q := pages.Query{
		Text:   v.Get("q"),
		Groups: listing.ParseIDs(v.Get("group")),
		Page:   intParam(r, "page", 1),
	}
	q.Refresh, _ = strconv.ParseBool(v.Get("refresh"))
	for key, vals := range v {
		if reservedQuery[key] || len(vals) == 0 || vals[0] == "" {
			continue
		}
		if q.Extra == nil {
			q.Extra = map[string]string{}
		}
		q.Extra[key] = vals[0]
	}
	return q
}

func readBody(r *http.Request) (json.RawMessage, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if len(b) > 0 && !json.Valid(b) {
		return nil, fmt.Errorf("%w: not JSON", errBadRequest)
	}
	return b, nil
}

// page resolves {page} and checks the gate for action. It writes the error
// response itself and returns nil when the request should stop.
func (s *Server) page(w http.ResponseWriter, r *http.Request, action string) pages.Page {
	p, err := s.pages.Get(chi.URLParam(r, "page"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return nil
	}
	method, path := p.Permission(action)
	if !s.session.Can(method, path) {
		s.writeError(w, r, fmt.Errorf("%w: %s %s", pages.ErrForbidden, method, path), nil)
		return nil
	}
	return p
}

type pageInfo struct {
	Name    string        `json:"name"`
	Actions pages.Actions `json:"actions"`
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	var out []pageInfo
	for _, name := range s.pages.Visible() {
		p, _ := s.pages.Get(name)
		out = append(out, pageInfo{Name: name, Actions: p.Actions()})
	}
	if out == nil {
		out = []pageInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": out})
}

func (s *Server) viewPage(w http.ResponseWriter, r *http.Request) {
	p := s.page(w, r, "view")
	if p == nil {
		return
	}
	view, err := p.View(r.Context(), queryFrom(r))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) createEntity(w http.ResponseWriter, r *http.Request) {
	p := s.page(w, r, "create")
	if p == nil {
		return
	}
	raw, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	out, err := p.CreateJSON(r.Context(), raw)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) updateEntity(w http.ResponseWriter, r *http.Request) {
	p := s.page(w, r, "update")
	if p == nil {
		return
	}
	raw, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	out, err := p.UpdateJSON(r.Context(), chi.URLParam(r, "id"), raw)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteEntity(w http.ResponseWriter, r *http.Request) {
	p := s.page(w, r, "delete")
	if p == nil {
		return
	}
	if err := p.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// exportPage streams every row of a page as zstd compressed JSON Lines.
func (s *Server) exportPage(w http.ResponseWriter, r *http.Request) {
	p := s.page(w, r, "view")
	if p == nil {
		return
	}
	rows, err := p.Export(r.Context())
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", p.Name()+".jsonl.zst"))
	ew, err := export.NewWriter(w)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	for _, row := range rows {
		if err := ew.Write(row); err != nil {
			s.logger.Warn("export write failed", "page", p.Name(), "err", err)
			break
		}
	}
	if err := ew.Close(); err != nil {
		s.logger.Warn("export flush failed", "page", p.Name(), "err", err)
	}
}
