// Package session holds the admin session resolved once at startup and the
// permission gate derived from it.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/lkarlslund/proxydesk/pkg/cache"
)

// Stored is the on-disk shape of the session file.
type Stored struct {
	Token        string   `json:"token"`
	Username     string   `json:"username,omitempty"`
	IsSuperAdmin bool     `json:"is_super_admin,omitempty"`
	Permissions  []string `json:"permissions,omitempty"`
}

// Session is immutable after construction. Pass it to pages and servers
// instead of re-reading storage.
type Session struct {
	token      string
	username   string
	superAdmin bool
	perms      map[string]struct{}
}

// Anonymous has no token and no permissions.
var Anonymous = Session{}

func New(s Stored) Session {
	perms := make(map[string]struct{}, len(s.Permissions))
	for _, raw := range s.Permissions {
		if key, ok := parsePermission(raw); ok {
			perms[key] = struct{}{}
		}
	}
	return Session{
		token:      strings.TrimSpace(s.Token),
		username:   strings.TrimSpace(s.Username),
		superAdmin: s.IsSuperAdmin,
		perms:      perms,
	}
}

// Load reads the session file. A missing file or malformed content yields
// Anonymous together with the reason; callers may log the error but should
// keep going with the returned value.
func Load(path string) (Session, error) {
	var stored Stored
	if err := cache.LoadJSON(path, &stored); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return Anonymous, err
		}
		return Anonymous, fmt.Errorf("session file %s: %w", path, err)
	}
	return New(stored), nil
}

// Parse decodes raw session JSON with the same fail-closed rule as Load.
func Parse(raw []byte) (Session, error) {
	var stored Stored
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Anonymous, fmt.Errorf("decode session: %w", err)
	}
	return New(stored), nil
}

func Save(path string, s Session) error {
	return cache.SaveJSON(path, s.Stored())
}

func (s Session) Stored() Stored {
	out := Stored{
		Token:        s.token,
		Username:     s.username,
		IsSuperAdmin: s.superAdmin,
	}
	for k := range s.perms {
		out.Permissions = append(out.Permissions, k)
	}
	sort.Strings(out.Permissions)
	return out
}

func (s Session) Token() string      { return s.token }
func (s Session) Username() string   { return s.username }
func (s Session) IsSuperAdmin() bool { return s.superAdmin }

// LoggedIn reports whether the session carries a token.
func (s Session) LoggedIn() bool { return s.token != "" }

// Can reports whether the session may call method on pathTemplate, e.g.
// Can("PUT", "/api/admin/auth-files/:id").
func (s Session) Can(method, pathTemplate string) bool {
	if s.superAdmin {
		return true
	}
	if len(s.perms) == 0 {
		return false
	}
	_, ok := s.perms[Key(method, pathTemplate)]
	return ok
}

// Key is the canonical permission key for a method and path template.
func Key(method, pathTemplate string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	p := strings.TrimSpace(pathTemplate)
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return method + " " + p
}

// parsePermission accepts "GET /path" and "GET:/path".
func parsePermission(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	idx := strings.IndexAny(raw, " :")
	if idx <= 0 {
		return "", false
	}
	method := raw[:idx]
	p := strings.TrimSpace(raw[idx+1:])
	if !strings.HasPrefix(p, "/") || !isMethod(method) {
		return "", false
	}
	return Key(method, p), true
}

func isMethod(m string) bool {
	switch strings.ToUpper(m) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
