package pages

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/lkarlslund/proxydesk/pkg/backend"
	"github.com/lkarlslund/proxydesk/pkg/forms"
	"github.com/lkarlslund/proxydesk/pkg/listing"
)

func numericID(f *int64, id string, creating bool) error {
	if creating {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || n <= 0 {
		return &forms.ValidationError{Field: "id", Message: fmt.Sprintf("invalid id %q", id)}
	}
	*f = n
	return nil
}

func idKey(id int64) string {
	if id <= 0 {
		return ""
	}
	return backend.ID(id)
}

type BillingRules struct {
	*crud[backend.BillingRule, forms.BillingRuleForm]
}

func NewBillingRules(d Deps) *BillingRules {
	p := &BillingRules{newCrud(d, crudSpec[backend.BillingRule, forms.BillingRuleForm]{
		name:     "billing-rules",
		resource: d.Client.BillingRules(),
		key:      func(r backend.BillingRule) string { return idKey(r.ID) },
		formKey:  func(f forms.BillingRuleForm) string { return idKey(f.ID) },
		payload:  func(f forms.BillingRuleForm) any { return f.Payload() },
		match: func(r backend.BillingRule, f listing.Filters) bool {
			if mode := f.Get("mode"); mode != "" && r.BillingMode != mode {
				return false
			}
			return listing.MatchGroups(r.GroupIDs, f.GroupIDs) &&
				listing.MatchText(f.Text, r.Name, r.ModelPattern, r.Provider)
		},
		merge: func(dst *backend.BillingRule, f forms.BillingRuleForm) {
			row := f.Payload()
			row.CreatedAt = dst.CreatedAt
			*dst = row
		},
		prepare: func(f *forms.BillingRuleForm, id string, creating bool) error {
			return numericID(&f.ID, id, creating)
		},
	})}
	p.actions.Batch = p.actions.Update
	return p
}

// SetEnabled toggles several rules at once and refetches afterwards.
func (p *BillingRules) SetEnabled(ctx context.Context, ids []int64, enabled bool) error {
	if !p.actions.Update {
		return ErrForbidden
	}
	return batchUpdate(ctx, p.logger, ids, func(ctx context.Context, id int64) error {
		_, err := p.spec.resource.Update(ctx, backend.ID(id), map[string]bool{"enabled": enabled})
		return err
	}, func() error { return p.List.Refresh(ctx) })
}

type Settings struct {
	*crud[backend.Setting, forms.SettingForm]
}

func NewSettings(d Deps) *Settings {
	return &Settings{newCrud(d, crudSpec[backend.Setting, forms.SettingForm]{
		name:     "settings",
		resource: d.Client.Settings(),
		key:      func(s backend.Setting) string { return s.Key },
		formKey:  func(f forms.SettingForm) string { return f.Key },
		payload:  func(f forms.SettingForm) any { return f.Payload() },
		match: func(s backend.Setting, f listing.Filters) bool {
			return listing.MatchText(f.Text, s.Key, s.Value, s.Description)
		},
		merge: func(dst *backend.Setting, f forms.SettingForm) { dst.Value = f.Value },
		prepare: func(f *forms.SettingForm, id string, creating bool) error {
			if !creating {
				f.Key = id
			}
			return nil
		},
	})}
}

type PrepaidCards struct {
	*crud[backend.PrepaidCard, forms.PrepaidCardForm]
	Batch *forms.Modal[forms.PrepaidBatchForm, []backend.PrepaidCard]
}

func NewPrepaidCards(d Deps) *PrepaidCards {
	p := &PrepaidCards{crud: newCrud(d, crudSpec[backend.PrepaidCard, forms.PrepaidCardForm]{
		name:     "prepaid-cards",
		resource: d.Client.PrepaidCards(),
		key:      func(c backend.PrepaidCard) string { return idKey(c.ID) },
		formKey:  func(f forms.PrepaidCardForm) string { return idKey(f.ID) },
		payload:  func(f forms.PrepaidCardForm) any { return f.Payload() },
		merge: func(dst *backend.PrepaidCard, f forms.PrepaidCardForm) {
			dst.Amount = f.Amount
			dst.Status = f.Status
			dst.ExpiresAt = f.ExpiresAt
		},
		prepare: func(f *forms.PrepaidCardForm, id string, creating bool) error {
			if creating {
				return ErrUnsupported
			}
			return numericID(&f.ID, id, false)
		},
	})}
	p.actions.Create = d.Session.Can(http.MethodPost, backend.PathPrepaidCardBatch)
	p.actions.Batch = p.actions.Create
	p.Batch = forms.NewModal(func(ctx context.Context, f forms.PrepaidBatchForm) ([]backend.PrepaidCard, error) {
		if !p.actions.Batch {
			return nil, ErrForbidden
		}
		return d.Client.GeneratePrepaidCards(ctx, f.Payload())
	}, func(f forms.PrepaidBatchForm, _ []backend.PrepaidCard) {
		if err := p.List.Refresh(d.ctx()); err == nil {
			d.notify(p.Name(), fmt.Sprintf("generated %d cards", f.Count))
		}
	})
	return p
}

// CreateJSON on this page generates a batch; single cards are not created
// by hand.
func (p *PrepaidCards) CreateJSON(ctx context.Context, raw json.RawMessage) (any, error) {
	f, err := decodeJSON[forms.PrepaidBatchForm](raw)
	if err != nil {
		return nil, err
	}
	return p.Batch.Submit(ctx, f)
}

func (p *PrepaidCards) Permission(action string) (string, string) {
	if action == "create" {
		return http.MethodPost, backend.PathPrepaidCardBatch
	}
	return p.crud.Permission(action)
}

type Users struct {
	*crud[backend.User, forms.UserForm]
}

func NewUsers(d Deps) *Users {
	return &Users{newCrud(d, crudSpec[backend.User, forms.UserForm]{
		name:     "users",
		resource: d.Client.Users(),
		key:      func(u backend.User) string { return idKey(u.ID) },
		formKey:  func(f forms.UserForm) string { return idKey(f.ID) },
		payload:  func(f forms.UserForm) any { return f.Payload() },
		merge: func(dst *backend.User, f forms.UserForm) {
			dst.Username = f.Username
			dst.Email = f.Email
			dst.Role = f.Role
			dst.GroupIDs = f.GroupIDs
			dst.Balance = f.Balance
			dst.Disabled = f.Disabled
		},
		prepare: func(f *forms.UserForm, id string, creating bool) error {
			f.Creating = creating
			return numericID(&f.ID, id, creating)
		},
	})}
}

type ProviderKeys struct {
	*crud[backend.ProviderKey, forms.ProviderKeyForm]
}

func NewProviderKeys(d Deps) *ProviderKeys {
	p := &ProviderKeys{newCrud(d, crudSpec[backend.ProviderKey, forms.ProviderKeyForm]{
		name:     "provider-keys",
		resource: d.Client.ProviderKeys(),
		key:      func(k backend.ProviderKey) string { return idKey(k.ID) },
		formKey:  func(f forms.ProviderKeyForm) string { return idKey(f.ID) },
		payload:  func(f forms.ProviderKeyForm) any { return f.Payload() },
		match: func(k backend.ProviderKey, f listing.Filters) bool {
			if prov := f.Get("provider"); prov != "" && !strings.EqualFold(k.Provider, prov) {
				return false
			}
			return listing.MatchGroups(k.GroupIDs, f.GroupIDs) &&
				listing.MatchText(f.Text, k.Name, k.Provider, k.BaseURL)
		},
		merge: func(dst *backend.ProviderKey, f forms.ProviderKeyForm) {
			dst.Provider = f.Provider
			dst.Name = f.Name
			dst.BaseURL = f.BaseURL
			dst.GroupIDs = f.GroupIDs
			dst.Weight = f.Weight
			dst.Enabled = f.Enabled
		},
		prepare: func(f *forms.ProviderKeyForm, id string, creating bool) error {
			f.Creating = creating
			return numericID(&f.ID, id, creating)
		},
	})}
	p.actions.Batch = p.actions.Update
	return p
}

// SetEnabled toggles several keys at once and refetches afterwards.
func (p *ProviderKeys) SetEnabled(ctx context.Context, ids []int64, enabled bool) error {
	if !p.actions.Update {
		return ErrForbidden
	}
	return batchUpdate(ctx, p.logger, ids, func(ctx context.Context, id int64) error {
		_, err := p.spec.resource.Update(ctx, backend.ID(id), map[string]bool{"enabled": enabled})
		return err
	}, func() error { return p.List.Refresh(ctx) })
}

type AuthGroups struct {
	*crud[backend.AuthGroup, forms.AuthGroupForm]
}

func NewAuthGroups(d Deps) *AuthGroups {
	return &AuthGroups{newCrud(d, crudSpec[backend.AuthGroup, forms.AuthGroupForm]{
		name:     "auth-groups",
		resource: d.Client.AuthGroupResource(),
		key:      func(g backend.AuthGroup) string { return idKey(g.ID) },
		formKey:  func(f forms.AuthGroupForm) string { return idKey(f.ID) },
		payload:  func(f forms.AuthGroupForm) any { return f.Payload() },
		match: func(g backend.AuthGroup, f listing.Filters) bool {
			return listing.MatchText(f.Text, g.Name, g.Description)
		},
		merge: func(dst *backend.AuthGroup, f forms.AuthGroupForm) {
			dst.Name = f.Name
			dst.Description = f.Description
		},
		prepare: func(f *forms.AuthGroupForm, id string, creating bool) error {
			return numericID(&f.ID, id, creating)
		},
	})}
}

// batchUpdate runs fn for every id, stops at the first error and refetches
// in every case since the backend owns the result.
func batchUpdate(ctx context.Context, logger *log.Logger, ids []int64, fn func(context.Context, int64) error, refresh func() error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		g.Go(func() error {
			if err := fn(gctx, id); err != nil {
				return fmt.Errorf("update %d: %w", id, err)
			}
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		logger.Warn("batch update failed", "err", err)
	}
	if rerr := refresh(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

func decodeJSON[F any](raw json.RawMessage) (F, error) {
	var f F
	if len(raw) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("decode form: %w", err)
	}
	return f, nil
}
