// Package authflow drives the OAuth flows that create upstream credential
// records: fetching the authorization URL, polling for completion, manual
// callback and cookie submission, and moving new records into a group.
package authflow

import (
	"strings"

	"github.com/lkarlslund/proxydesk/pkg/backend"
)

// AuthType describes one way of creating a credential record.
type AuthType struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Endpoint string `json:"endpoint"`
	// Provider is sent with manual callbacks and used to filter the record
	// list during reconciliation.
	Provider string `json:"provider"`
	// Cookie types skip the redirect and take a pasted session cookie.
	Cookie bool `json:"cookie,omitempty"`
}

// CookieMarker must be present in a submitted iFlow cookie.
const CookieMarker = "BXAuth="

var catalog = []AuthType{
	{Key: "codex", Label: "Codex", Endpoint: "/api/admin/auth/codex-auth-url", Provider: "codex"},
	{Key: "anthropic", Label: "Claude", Endpoint: "/api/admin/auth/anthropic-auth-url", Provider: "anthropic"},
	{Key: "gemini-cli", Label: "Gemini CLI", Endpoint: "/api/admin/auth/gemini-cli-auth-url", Provider: "gemini"},
	{Key: "qwen", Label: "Qwen", Endpoint: "/api/admin/auth/qwen-auth-url", Provider: "qwen"},
	{Key: "antigravity", Label: "Antigravity", Endpoint: "/api/admin/auth/antigravity-auth-url", Provider: "antigravity"},
	{Key: "iflow", Label: "iFlow", Endpoint: "/api/admin/auth/iflow-auth-url", Provider: "iflow"},
	{Key: "iflow-cookie", Label: "iFlow (cookie)", Endpoint: backend.PathIFlowCookie, Provider: "iflow", Cookie: true},
}

// AuthTypes returns a copy of the catalog in display order.
func AuthTypes() []AuthType {
	return append([]AuthType(nil), catalog...)
}

// LookupAuthType finds a catalog entry by key, case-insensitively.
func LookupAuthType(key string) (AuthType, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, t := range catalog {
		if t.Key == key {
			return t, true
		}
	}
	return AuthType{}, false
}

// NormalizeCookie trims the pasted value and prefixes the marker when it is
// missing. An empty input stays empty.
func NormalizeCookie(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}
	if !strings.Contains(v, CookieMarker) {
		v = CookieMarker + v
	}
	return v
}
