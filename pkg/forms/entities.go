package forms

import (
	"strings"
	"time"

	"github.com/lkarlslund/proxydesk/pkg/backend"
)

type BillingRuleForm struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name" validate:"required,max=128"`
	ModelPattern string   `json:"model_pattern" validate:"required,max=256"`
	Provider     string   `json:"provider"`
	BillingMode  string   `json:"billing_mode" validate:"required,oneof=per_token per_request"`
	InputPrice   *float64 `json:"input_price" validate:"required_if=BillingMode per_token,omitempty,gte=0"`
	OutputPrice  *float64 `json:"output_price" validate:"required_if=BillingMode per_token,omitempty,gte=0"`
	RequestPrice *float64 `json:"request_price" validate:"required_if=BillingMode per_request,omitempty,gte=0"`
	Priority     int      `json:"priority" validate:"gte=0"`
	GroupIDs     []int64  `json:"group_ids" label:"groups" validate:"dive,gt=0"`
	Enabled      bool     `json:"enabled"`
}

func FromBillingRule(r backend.BillingRule) BillingRuleForm {
	f := BillingRuleForm{
		ID:           r.ID,
		Name:         r.Name,
		ModelPattern: r.ModelPattern,
		Provider:     r.Provider,
		BillingMode:  r.BillingMode,
		Priority:     r.Priority,
		GroupIDs:     append([]int64(nil), r.GroupIDs...),
		Enabled:      r.Enabled,
	}
	if r.BillingMode == backend.BillingPerRequest {
		f.RequestPrice = ptr(r.RequestPrice)
	} else {
		f.InputPrice = ptr(r.InputPrice)
		f.OutputPrice = ptr(r.OutputPrice)
	}
	return f
}

// Payload sends only the prices of the selected billing mode.
func (f BillingRuleForm) Payload() backend.BillingRule {
	r := backend.BillingRule{
		ID:           f.ID,
		Name:         strings.TrimSpace(f.Name),
		ModelPattern: strings.TrimSpace(f.ModelPattern),
		Provider:     strings.TrimSpace(f.Provider),
		BillingMode:  f.BillingMode,
		Priority:     f.Priority,
		GroupIDs:     f.GroupIDs,
		Enabled:      f.Enabled,
	}
	if f.BillingMode == backend.BillingPerRequest {
		r.RequestPrice = val(f.RequestPrice)
	} else {
		r.InputPrice = val(f.InputPrice)
		r.OutputPrice = val(f.OutputPrice)
	}
	return r
}

type SettingForm struct {
	Key   string `json:"key" validate:"required,max=128"`
	Value string `json:"value" validate:"max=65536"`
}

func FromSetting(s backend.Setting) SettingForm {
	return SettingForm{Key: s.Key, Value: s.Value}
}

func (f SettingForm) Payload() map[string]string {
	return map[string]string{"value": f.Value}
}

type PrepaidCardForm struct {
	ID        int64      `json:"id" validate:"required,gt=0"`
	Amount    float64    `json:"amount" validate:"gt=0"`
	Status    string     `json:"status" validate:"required,oneof=unused used disabled"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func FromPrepaidCard(c backend.PrepaidCard) PrepaidCardForm {
	return PrepaidCardForm{ID: c.ID, Amount: c.Amount, Status: c.Status, ExpiresAt: c.ExpiresAt}
}

func (f PrepaidCardForm) Payload() map[string]any {
	out := map[string]any{"amount": f.Amount, "status": f.Status}
	if f.ExpiresAt != nil {
		out["expires_at"] = f.ExpiresAt.UTC()
	}
	return out
}

// PrepaidBatchForm generates many cards at once.
type PrepaidBatchForm struct {
	Count     int        `json:"count" validate:"required,gt=0,lte=1000"`
	Amount    float64    `json:"amount" validate:"required,gt=0"`
	Prefix    string     `json:"prefix" validate:"omitempty,alphanum,max=16"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (f PrepaidBatchForm) Payload() backend.PrepaidBatch {
	return backend.PrepaidBatch{
		Count:     f.Count,
		Amount:    f.Amount,
		Prefix:    strings.ToUpper(strings.TrimSpace(f.Prefix)),
		ExpiresAt: f.ExpiresAt,
	}
}

type UserForm struct {
	ID       int64   `json:"id"`
	Creating bool    `json:"-" validate:"-"`
	Username string  `json:"username" validate:"required,min=3,max=64"`
	Email    string  `json:"email" validate:"omitempty,email"`
	Role     string  `json:"role" validate:"required,oneof=admin user"`
	Password string  `json:"password" validate:"required_if=Creating true,omitempty,min=8,max=128"`
	GroupIDs []int64 `json:"group_ids" label:"groups" validate:"dive,gt=0"`
	Balance  float64 `json:"balance" validate:"gte=0"`
	Disabled bool    `json:"disabled"`
}

func FromUser(u backend.User) UserForm {
	return UserForm{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
		GroupIDs: append([]int64(nil), u.GroupIDs...),
		Balance:  u.Balance,
		Disabled: u.Disabled,
	}
}

// Payload leaves the password out when it is blank, which keeps the current
// one on update.
func (f UserForm) Payload() map[string]any {
	out := map[string]any{
		"username":  strings.TrimSpace(f.Username),
		"email":     strings.TrimSpace(f.Email),
		"role":      f.Role,
		"group_ids": nonNil(f.GroupIDs),
		"balance":   f.Balance,
		"disabled":  f.Disabled,
	}
	if f.Password != "" {
		out["password"] = f.Password
	}
	return out
}

type ProviderKeyForm struct {
	ID       int64   `json:"id"`
	Creating bool    `json:"-" validate:"-"`
	Provider string  `json:"provider" validate:"required,max=64"`
	Name     string  `json:"name" validate:"required,max=128"`
	APIKey   string  `json:"api_key" label:"API key" validate:"required_if=Creating true"`
	BaseURL  string  `json:"base_url" label:"base URL" validate:"omitempty,http_url"`
	GroupIDs []int64 `json:"group_ids" label:"groups" validate:"dive,gt=0"`
	Weight   int     `json:"weight" validate:"gt=0,lte=1000"`
	Enabled  bool    `json:"enabled"`
}

func FromProviderKey(k backend.ProviderKey) ProviderKeyForm {
	return ProviderKeyForm{
		ID:       k.ID,
		Provider: k.Provider,
		Name:     k.Name,
		BaseURL:  k.BaseURL,
		GroupIDs: append([]int64(nil), k.GroupIDs...),
		Weight:   k.Weight,
		Enabled:  k.Enabled,
	}
}

// Payload leaves api_key out when blank so the stored key is kept.
func (f ProviderKeyForm) Payload() map[string]any {
	out := map[string]any{
		"provider":  strings.TrimSpace(f.Provider),
		"name":      strings.TrimSpace(f.Name),
		"base_url":  strings.TrimSpace(f.BaseURL),
		"group_ids": nonNil(f.GroupIDs),
		"weight":    f.Weight,
		"enabled":   f.Enabled,
	}
	if k := strings.TrimSpace(f.APIKey); k != "" {
		out["api_key"] = k
	}
	return out
}

type AuthGroupForm struct {
	ID          int64  `json:"id"`
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=512"`
}

func FromAuthGroup(g backend.AuthGroup) AuthGroupForm {
	return AuthGroupForm{ID: g.ID, Name: g.Name, Description: g.Description}
}

func (f AuthGroupForm) Payload() backend.AuthGroup {
	return backend.AuthGroup{ID: f.ID, Name: strings.TrimSpace(f.Name), Description: strings.TrimSpace(f.Description)}
}

func ptr(v float64) *float64 { return &v }

func val(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
