package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lkarlslund/proxydesk/pkg/authflow"
	"github.com/lkarlslund/proxydesk/pkg/backend"
	"github.com/lkarlslund/proxydesk/pkg/pages"
)

var errFlowNotFound = errors.New("auth flow not found")

type authTypeInfo struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Cookie bool   `json:"cookie,omitempty"`
}

func (s *Server) authTypes(w http.ResponseWriter, r *http.Request) {
	out := []authTypeInfo{}
	for _, t := range s.pages.AuthFiles.AuthTypes() {
		out = append(out, authTypeInfo{Key: t.Key, Label: t.Label, Cookie: t.Cookie})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"auth_types":   out,
		"assign_group": s.pages.AuthFiles.DetailedActions().AssignGroup,
	})
}

func (s *Server) lookupFlow(id string) (*authflow.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errFlowNotFound, id)
	}
	return f, nil
}

func (s *Server) dropFlow(id string) *authflow.Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.flows[id]
	delete(s.flows, id)
	return f
}

// gate checks method+path and writes a 403 when the session may not call it.
func (s *Server) gate(w http.ResponseWriter, r *http.Request, method, path string) bool {
	if s.session.Can(method, path) {
		return true
	}
	s.writeError(w, r, fmt.Errorf("%w: %s %s", pages.ErrForbidden, method, path), nil)
	return false
}

func decodeInto(r *http.Request, v any) error {
	raw, err := readBody(r)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

type flowResponse struct {
	ID      string        `json:"id"`
	URL     string        `json:"url,omitempty"`
	Session authflow.View `json:"session"`
}

func (s *Server) createFlow(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type    string `json:"type"`
		GroupID int64  `json:"group_id"`
	}
	if err := decodeInto(r, &body); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	id := uuid.NewString()
	hooks := pages.FlowHooks{
		CloseModal: func() { s.hub.publish(Event{Type: EventFlowDone, FlowID: id}) },
		OnChange: func(v authflow.View) {
			s.hub.publish(Event{Type: EventFlow, FlowID: id, Session: &v})
		},
	}
	f := s.pages.AuthFiles.NewFlow(hooks, s.flowOps...)
	if err := s.pages.AuthFiles.StartFlow(r.Context(), f, strings.TrimSpace(body.Type)); err != nil {
		view := f.Session()
		f.Close()
		s.writeError(w, r, err, &view)
		return
	}
	if body.GroupID > 0 {
		_ = f.SetTargetGroup(body.GroupID)
	}
	s.mu.Lock()
	s.flows[id] = f
	s.mu.Unlock()
	s.logger.Debug("auth flow started", "id", id, "type", body.Type)
	writeJSON(w, http.StatusCreated, flowResponse{ID: id, Session: f.Session()})
}

func (s *Server) withFlow(w http.ResponseWriter, r *http.Request) (string, *authflow.Flow) {
	id := chi.URLParam(r, "id")
	f, err := s.lookupFlow(id)
	if err != nil {
		s.writeError(w, r, err, nil)
		return id, nil
	}
	return id, f
}

func (s *Server) getFlow(w http.ResponseWriter, r *http.Request) {
	id, f := s.withFlow(w, r)
	if f == nil {
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{ID: id, Session: f.Session()})
}

func (s *Server) closeFlow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	f := s.dropFlow(id)
	if f == nil {
		s.writeError(w, r, fmt.Errorf("%w: %s", errFlowNotFound, id), nil)
		return
	}
	f.Close()
	w.WriteHeader(http.StatusNoContent)
}

// commitFlow is called once the user opened or copied the authorization
// URL. It starts status polling.
func (s *Server) commitFlow(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r, http.MethodPost, backend.PathAuthStatus) {
		return
	}
	id, f := s.withFlow(w, r)
	if f == nil {
		return
	}
	u, err := f.Commit()
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{ID: id, URL: u, Session: f.Session()})
}

func (s *Server) submitCallback(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r, http.MethodPost, backend.PathOAuthCallback) {
		return
	}
	id, f := s.withFlow(w, r)
	if f == nil {
		return
	}
	var body struct {
		Input string `json:"input"`
	}
	if err := decodeInto(r, &body); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if err := f.SubmitCallback(r.Context(), body.Input); err != nil {
		view := f.Session()
		s.writeError(w, r, err, &view)
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{ID: id, Session: f.Session()})
}

func (s *Server) submitCookie(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r, http.MethodPost, backend.PathIFlowCookie) {
		return
	}
	id, f := s.withFlow(w, r)
	if f == nil {
		return
	}
	var body struct {
		Cookie string `json:"cookie"`
	}
	if err := decodeInto(r, &body); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if err := f.SubmitCookie(r.Context(), body.Cookie); err != nil {
		view := f.Session()
		s.writeError(w, r, err, &view)
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{ID: id, Session: f.Session()})
}

func (s *Server) setFlowGroup(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r, http.MethodPut, backend.PathAuthFile) {
		return
	}
	id, f := s.withFlow(w, r)
	if f == nil {
		return
	}
	var body struct {
		GroupID int64 `json:"group_id"`
	}
	if err := decodeInto(r, &body); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if err := f.SetTargetGroup(body.GroupID); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{ID: id, Session: f.Session()})
}
