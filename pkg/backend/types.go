package backend

import "time"

// Path templates of the admin API. The same strings are used as permission
// keys, so they keep the ":id" placeholders.
const (
	PathMe = "/api/admin/me"

	PathAuthStatus    = "/api/admin/auth/get-auth-status"
	PathOAuthCallback = "/api/admin/auth/oauth-callback"
	PathIFlowCookie   = "/api/admin/auth/iflow-cookie"

	PathAuthFiles = "/api/admin/auth-files"
	PathAuthFile  = "/api/admin/auth-files/:id"

	PathBillingRules = "/api/admin/billing-rules"
	PathBillingRule  = "/api/admin/billing-rules/:id"

	PathSettings = "/api/admin/settings"
	PathSetting  = "/api/admin/settings/:key"

	PathPrepaidCards     = "/api/admin/prepaid-cards"
	PathPrepaidCard      = "/api/admin/prepaid-cards/:id"
	PathPrepaidCardBatch = "/api/admin/prepaid-cards/batch"

	PathUsers = "/api/admin/users"
	PathUser  = "/api/admin/users/:id"

	PathProviderKeys = "/api/admin/provider-keys"
	PathProviderKey  = "/api/admin/provider-keys/:id"

	PathAuthGroups = "/api/admin/auth-groups"
	PathAuthGroup  = "/api/admin/auth-groups/:id"
)

const (
	StatusOK    = "ok"
	StatusWait  = "wait"
	StatusError = "error"
)

// CredentialRecord is one stored upstream credential ("auth file").
type CredentialRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Type        string    `json:"type,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Email       string    `json:"email,omitempty"`
	Disabled    bool      `json:"disabled,omitempty"`
	Status      string    `json:"status,omitempty"`
	AuthGroupID int64     `json:"auth_group_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AuthURL is the answer of an auth-type initiation endpoint.
type AuthURL struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

type AuthStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type OAuthCallback struct {
	Provider    string `json:"provider"`
	RedirectURL string `json:"redirect_url"`
	Code        string `json:"code"`
	State       string `json:"state"`
	Error       string `json:"error"`
}

const (
	BillingPerToken   = "per_token"
	BillingPerRequest = "per_request"
)

type BillingRule struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	ModelPattern string    `json:"model_pattern"`
	Provider     string    `json:"provider,omitempty"`
	BillingMode  string    `json:"billing_mode"`
	InputPrice   float64   `json:"input_price"`
	OutputPrice  float64   `json:"output_price"`
	RequestPrice float64   `json:"request_price"`
	Priority     int       `json:"priority"`
	GroupIDs     []int64   `json:"group_ids,omitempty"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Setting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type PrepaidCard struct {
	ID        int64      `json:"id"`
	Code      string     `json:"code"`
	Amount    float64    `json:"amount"`
	Status    string     `json:"status"`
	BatchID   string     `json:"batch_id,omitempty"`
	UsedBy    string     `json:"used_by,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type PrepaidBatch struct {
	Count     int        `json:"count"`
	Amount    float64    `json:"amount"`
	Prefix    string     `json:"prefix,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role"`
	GroupIDs  []int64   `json:"group_ids,omitempty"`
	Balance   float64   `json:"balance"`
	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"created_at"`
}

type ProviderKey struct {
	ID        int64     `json:"id"`
	Provider  string    `json:"provider"`
	Name      string    `json:"name"`
	APIKey    string    `json:"api_key,omitempty"`
	BaseURL   string    `json:"base_url,omitempty"`
	GroupIDs  []int64   `json:"group_ids,omitempty"`
	Weight    int       `json:"weight"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

type AuthGroup struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Me is the answer of GET /api/admin/me.
type Me struct {
	Username     string   `json:"username"`
	IsSuperAdmin bool     `json:"is_super_admin"`
	Permissions  []string `json:"permissions"`
}
