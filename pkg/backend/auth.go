package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const groupCacheTTL = 30 * time.Second

// AuthURL asks an auth-type endpoint for an authorization URL and state.
func (c *Client) AuthURL(ctx context.Context, endpoint string) (AuthURL, error) {
	return sendOne[AuthURL](ctx, c, http.MethodPost, endpoint, nil)
}

// AuthStatus polls the state of an OAuth exchange. Not retried.
func (c *Client) AuthStatus(ctx context.Context, state string) (AuthStatus, error) {
	var out AuthStatus
	q := url.Values{"state": []string{state}}
	if err := c.send(ctx, http.MethodPost, PathAuthStatus, q, nil, &out); err != nil {
		return AuthStatus{}, err
	}
	out.Status = strings.ToLower(strings.TrimSpace(out.Status))
	return out, nil
}

func (c *Client) SubmitOAuthCallback(ctx context.Context, cb OAuthCallback) error {
	return c.send(ctx, http.MethodPost, PathOAuthCallback, nil, cb, nil)
}

func (c *Client) SubmitIFlowCookie(ctx context.Context, cookie string) error {
	return c.send(ctx, http.MethodPost, PathIFlowCookie, nil, map[string]string{"cookie": cookie}, nil)
}

// ListAuthFiles returns the credential records, optionally only those of
// the given type.
func (c *Client) ListAuthFiles(ctx context.Context, typ string) ([]CredentialRecord, error) {
	var q url.Values
	if typ = strings.TrimSpace(typ); typ != "" {
		q = url.Values{"type": []string{typ}}
	}
	return listOf[CredentialRecord](ctx, c, PathAuthFiles, q)
}

// UpdateAuthFileGroup moves a credential record to another auth group.
func (c *Client) UpdateAuthFileGroup(ctx context.Context, id string, groupID int64) error {
	body := map[string]int64{"auth_group_id": groupID}
	return c.send(ctx, http.MethodPut, Expand(PathAuthFile, id), nil, body, nil)
}

func (c *Client) DeleteAuthFile(ctx context.Context, id string) error {
	return c.send(ctx, http.MethodDelete, Expand(PathAuthFile, id), nil, nil, nil)
}

// AuthGroups returns the auth groups, cached for a short while since every
// page uses them for its group filter.
func (c *Client) AuthGroups(ctx context.Context) ([]AuthGroup, error) {
	return c.groups.Fetch("all", groupCacheTTL, func() ([]AuthGroup, error) {
		return listOf[AuthGroup](ctx, c, PathAuthGroups, nil)
	})
}

// InvalidateGroups drops the cached auth groups.
func (c *Client) InvalidateGroups() {
	c.groups.Purge()
}

// GroupName resolves a group id for display. Unknown ids are shown as #id.
func GroupName(groups []AuthGroup, id int64) string {
	if id <= 0 {
		return ""
	}
	for _, g := range groups {
		if g.ID == id {
			return g.Name
		}
	}
	return "#" + strconv.FormatInt(id, 10)
}
