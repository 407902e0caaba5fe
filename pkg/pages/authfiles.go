package pages

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/lkarlslund/proxydesk/pkg/authflow"
	"github.com/lkarlslund/proxydesk/pkg/backend"
	"github.com/lkarlslund/proxydesk/pkg/forms"
	"github.com/lkarlslund/proxydesk/pkg/listing"
	"github.com/lkarlslund/proxydesk/pkg/session"
)

const authFilesPage = "auth-files"

// AuthFiles lists credential records and starts OAuth flows that create
// new ones.
type AuthFiles struct {
	deps    Deps
	session session.Session
	client  *backend.Client
	logger  *log.Logger
	actions Actions

	List *listing.List[backend.CredentialRecord]
}

// AuthFileActions adds the flow related permissions to Actions.
type AuthFileActions struct {
	Actions
	AssignGroup bool     `json:"assign_group"`
	AuthTypes   []string `json:"auth_types"`
}

func NewAuthFiles(d Deps) *AuthFiles {
	p := &AuthFiles{
		deps:    d,
		session: d.Session,
		client:  d.Client,
		logger:  d.logger(authFilesPage),
		actions: actionsFor(d.Session, backend.PathAuthFiles, backend.PathAuthFile),
	}
	p.actions.Create = len(p.AuthTypes()) > 0
	p.List = listing.New(p.fetch, listing.Options[backend.CredentialRecord]{
		PageSize: d.PageSize,
		Debounce: d.Debounce,
		Match:    matchCredential,
		Context:  d.ctx(),
		Logger:   p.logger,
		OnChange: d.changed(authFilesPage),
	})
	return p
}

func matchCredential(r backend.CredentialRecord, f listing.Filters) bool {
	if st := f.Get("status"); st != "" {
		if st == "disabled" && !r.Disabled {
			return false
		}
		if st == "enabled" && r.Disabled {
			return false
		}
	}
	var groups []int64
	if r.AuthGroupID > 0 {
		groups = []int64{r.AuthGroupID}
	}
	return listing.MatchGroups(groups, f.GroupIDs) &&
		listing.MatchText(f.Text, r.ID, r.Name, r.Email, r.Provider, r.Type)
}

func (p *AuthFiles) Name() string     { return authFilesPage }
func (p *AuthFiles) Actions() Actions { return p.actions }

func (p *AuthFiles) DetailedActions() AuthFileActions {
	out := AuthFileActions{Actions: p.actions, AssignGroup: p.actions.Update}
	for _, t := range p.AuthTypes() {
		out.AuthTypes = append(out.AuthTypes, t.Key)
	}
	return out
}

func (p *AuthFiles) Permission(action string) (string, string) {
	switch action {
	case "update":
		return http.MethodPut, backend.PathAuthFile
	case "delete":
		return http.MethodDelete, backend.PathAuthFile
	default:
		return http.MethodGet, backend.PathAuthFiles
	}
}

// AuthTypes lists the auth types whose initiation endpoint the session may
// call.
func (p *AuthFiles) AuthTypes() []authflow.AuthType {
	var out []authflow.AuthType
	for _, t := range authflow.AuthTypes() {
		if p.session.Can(http.MethodPost, t.Endpoint) {
			out = append(out, t)
		}
	}
	return out
}

// CanStart reports whether the session may start a flow of the given type.
func (p *AuthFiles) CanStart(typeKey string) bool {
	t, ok := authflow.LookupAuthType(typeKey)
	return ok && p.session.Can(http.MethodPost, t.Endpoint)
}

func (p *AuthFiles) fetch(ctx context.Context, f listing.Filters) ([]backend.CredentialRecord, error) {
	if !p.actions.View {
		return nil, ErrForbidden
	}
	return p.client.ListAuthFiles(ctx, f.Get("type"))
}

// FlowHooks are the caller's side of a flow. Refresh is wired by the page.
type FlowHooks struct {
	CloseModal func()
	Notify     func(msg string)
	OnChange   func(authflow.View)
	// Refreshed fires after the post-success list refresh, the last step of
	// a successful flow.
	Refreshed func()
}

// NewFlow creates an OAuth flow bound to this page's list.
func (p *AuthFiles) NewFlow(h FlowHooks, opts ...authflow.Option) *authflow.Flow {
	notify := h.Notify
	if notify == nil {
		notify = func(msg string) { p.deps.notify(authFilesPage, msg) }
	}
	base := []authflow.Option{
		authflow.WithLogger(p.logger.WithPrefix("auth-files/flow")),
		authflow.WithBaseContext(p.deps.ctx()),
		authflow.WithGroupAssignment(p.session.Can(http.MethodPut, backend.PathAuthFile)),
		authflow.WithHooks(authflow.Hooks{
			CloseModal: h.CloseModal,
			Notify:     notify,
			OnChange:   h.OnChange,
			Refresh: func(ctx context.Context) {
				if err := p.List.Refresh(ctx); err != nil {
					p.logger.Warn("refresh after auth failed", "err", err)
				}
				if h.Refreshed != nil {
					h.Refreshed()
				}
			},
		}),
	}
	return authflow.New(p.client, append(base, opts...)...)
}

// StartFlow checks the gate, snapshots the existing credentials of the
// type's provider and initiates typeKey on f. The snapshot comes from the
// same query reconciliation runs later, not from the page's filtered list.
// If it cannot be taken the flow still starts, without group assignment.
func (p *AuthFiles) StartFlow(ctx context.Context, f *authflow.Flow, typeKey string) error {
	typ, ok := authflow.LookupAuthType(typeKey)
	if !ok {
		return f.Initiate(ctx, typeKey, nil)
	}
	if !p.CanStart(typeKey) {
		return ErrForbidden
	}
	existing, err := p.client.ListAuthFiles(ctx, typ.Provider)
	if err != nil {
		p.logger.Warn("snapshot credentials before auth failed", "type", typeKey, "err", err)
		return f.InitiateUntracked(ctx, typeKey)
	}
	keys := make([]string, len(existing))
	for i, r := range existing {
		keys[i] = r.ID
	}
	return f.Initiate(ctx, typeKey, keys)
}

// SetGroup moves one record to a group and patches the row.
func (p *AuthFiles) SetGroup(ctx context.Context, id string, groupID int64) error {
	if !p.actions.Update {
		return ErrForbidden
	}
	if err := p.client.UpdateAuthFileGroup(ctx, id, groupID); err != nil {
		return err
	}
	p.List.Patch(func(r backend.CredentialRecord) bool { return r.ID == id }, func(r *backend.CredentialRecord) {
		r.AuthGroupID = groupID
	})
	return nil
}

func (p *AuthFiles) Delete(ctx context.Context, id string) error {
	if !p.actions.Delete {
		return ErrForbidden
	}
	if err := p.client.DeleteAuthFile(ctx, id); err != nil {
		return err
	}
	p.List.Remove(func(r backend.CredentialRecord) bool { return r.ID == id })
	p.deps.notify(authFilesPage, "deleted "+id)
	return nil
}

// Groups returns auth groups whose name contains query, for the group
// picker.
func (p *AuthFiles) Groups(ctx context.Context, query string) ([]backend.AuthGroup, error) {
	groups, err := p.client.AuthGroups(ctx)
	if err != nil {
		return nil, err
	}
	return listing.FilterOptions(groups, query, func(g backend.AuthGroup) string { return g.Name }), nil
}

func (p *AuthFiles) View(ctx context.Context, q Query) (any, error) {
	if !p.actions.View {
		return nil, ErrForbidden
	}
	page, err := show(ctx, p.List, q)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (p *AuthFiles) Search(text string) {
	if p.actions.View {
		p.List.SetText(text)
	}
}

func (p *AuthFiles) Export(ctx context.Context) ([]any, error) {
	rows, err := p.fetch(ctx, listing.Filters{})
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

// CreateJSON is not used here; records come from OAuth flows.
func (p *AuthFiles) CreateJSON(context.Context, json.RawMessage) (any, error) {
	return nil, ErrUnsupported
}

// UpdateJSON accepts {"auth_group_id": n}, the only editable field.
func (p *AuthFiles) UpdateJSON(ctx context.Context, id string, raw json.RawMessage) (any, error) {
	var body struct {
		AuthGroupID json.Number `json:"auth_group_id"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	gid, err := strconv.ParseInt(body.AuthGroupID.String(), 10, 64)
	if err != nil || gid < 0 {
		return nil, &forms.ValidationError{Field: "auth_group_id", Message: "auth group id must be a non-negative integer"}
	}
	if err := p.SetGroup(ctx, id, gid); err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "auth_group_id": gid}, nil
}
