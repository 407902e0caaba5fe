package authflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lkarlslund/proxydesk/pkg/backend"
	"github.com/lkarlslund/proxydesk/pkg/logutil"
	"github.com/lkarlslund/proxydesk/pkg/task"
)

var (
	ErrUnknownAuthType = errors.New("unknown auth type")
	ErrNoSession       = errors.New("no auth session in progress")
	ErrNotCookieType   = errors.New("auth type does not take a cookie")
	ErrCookieRequired  = errors.New("paste the cookie value")
	ErrBusy            = errors.New("a submission is already in progress")
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusPolling Status = "polling"
	StatusOK      Status = "ok"
	StatusError   Status = "error"
)

const DefaultPollInterval = 2 * time.Second

// Backend is the part of the admin API a Flow uses.
type Backend interface {
	AuthURL(ctx context.Context, endpoint string) (backend.AuthURL, error)
	AuthStatus(ctx context.Context, state string) (backend.AuthStatus, error)
	SubmitOAuthCallback(ctx context.Context, cb backend.OAuthCallback) error
	SubmitIFlowCookie(ctx context.Context, cookie string) error
	ListAuthFiles(ctx context.Context, typ string) ([]backend.CredentialRecord, error)
}

// Hooks are called outside the flow's lock. Any of them may be nil.
type Hooks struct {
	// CloseModal is called when a session reaches ok.
	CloseModal func()
	Notify     func(msg string)
	// Refresh reloads the credential list. It runs exactly once per session
	// that reaches ok.
	Refresh  func(ctx context.Context)
	OnChange func(View)
}

// View is a read-only copy of the current session.
type View struct {
	Active           bool   `json:"active"`
	Type             string `json:"type,omitempty"`
	Label            string `json:"label,omitempty"`
	Cookie           bool   `json:"cookie,omitempty"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
	State            string `json:"state,omitempty"`
	Status           Status `json:"status,omitempty"`
	PollCount        int    `json:"poll_count"`
	LastError        string `json:"last_error,omitempty"`
	CallbackError    string `json:"callback_error,omitempty"`
	TargetGroupID    int64  `json:"target_group_id,omitempty"`
	// Untracked sessions have no snapshot and never move records to a group.
	Untracked bool `json:"untracked,omitempty"`
}

// pending is one auth session. A Flow compares pointers to tell whether a
// late result still belongs to the current session.
type pending struct {
	typ           AuthType
	url           string
	state         string
	status        Status
	pollCount     int
	lastError     string
	callbackError string
	targetGroup   int64
	snapshot      Snapshot
	untracked     bool
	poller        *task.Repeater
	refreshed     bool
}

// Flow owns at most one auth session at a time.
type Flow struct {
	mu  sync.Mutex
	cur *pending

	be           Backend
	hooks        Hooks
	logger       *log.Logger
	interval     time.Duration
	ticker       task.TickerFactory
	now          func() time.Time
	baseCtx      context.Context
	concurrency  int
	assignGroups bool
}

type Option func(*Flow)

func WithHooks(h Hooks) Option { return func(f *Flow) { f.hooks = h } }

func WithLogger(l *log.Logger) Option {
	return func(f *Flow) {
		if l != nil {
			f.logger = l
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(f *Flow) {
		if d > 0 {
			f.interval = d
		}
	}
}

func WithTicker(t task.TickerFactory) Option { return func(f *Flow) { f.ticker = t } }

func WithClock(now func() time.Time) Option {
	return func(f *Flow) {
		if now != nil {
			f.now = now
		}
	}
}

// WithBaseContext sets the context pollers run under. Polling outlives the
// request that started it, so this is usually the process context.
func WithBaseContext(ctx context.Context) Option {
	return func(f *Flow) {
		if ctx != nil {
			f.baseCtx = ctx
		}
	}
}

func WithReconcileConcurrency(n int) Option {
	return func(f *Flow) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithGroupAssignment enables moving new records into the target group. The
// backend must also implement GroupAssigner.
func WithGroupAssignment(enabled bool) Option {
	return func(f *Flow) { f.assignGroups = enabled }
}

func New(be Backend, opts ...Option) *Flow {
	f := &Flow{
		be:           be,
		logger:       logutil.Discard(),
		interval:     DefaultPollInterval,
		ticker:       task.RealTicker,
		now:          time.Now,
		baseCtx:      context.Background(),
		concurrency:  4,
		assignGroups: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Session returns the current session, if any.
func (f *Flow) Session() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewLocked()
}

func (f *Flow) viewLocked() View {
	p := f.cur
	if p == nil {
		return View{}
	}
	return View{
		Active:           true,
		Type:             p.typ.Key,
		Label:            p.typ.Label,
		Cookie:           p.typ.Cookie,
		AuthorizationURL: p.url,
		State:            p.state,
		Status:           p.status,
		PollCount:        p.pollCount,
		LastError:        p.lastError,
		CallbackError:    p.callbackError,
		TargetGroupID:    p.targetGroup,
		Untracked:        p.untracked,
	}
}

func (f *Flow) emit() {
	if f.hooks.OnChange == nil {
		return
	}
	f.hooks.OnChange(f.Session())
}

// Initiate starts a session for typeKey, discarding any previous one.
// existingKeys must hold every credential key of the type's provider that
// exists before the flow. For redirect types the authorization URL is
// requested right away; if that fails the session stays idle with an empty
// URL and the error is returned.
func (f *Flow) Initiate(ctx context.Context, typeKey string, existingKeys []string) error {
	return f.initiate(ctx, typeKey, existingKeys, false)
}

// InitiateUntracked is Initiate for when the existing credentials could not
// be listed. New records cannot be told apart from old ones, so the session
// skips group assignment.
func (f *Flow) InitiateUntracked(ctx context.Context, typeKey string) error {
	return f.initiate(ctx, typeKey, nil, true)
}

func (f *Flow) initiate(ctx context.Context, typeKey string, existingKeys []string, untracked bool) error {
	typ, ok := LookupAuthType(typeKey)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAuthType, typeKey)
	}
	p := &pending{
		typ:       typ,
		status:    StatusIdle,
		snapshot:  NewSnapshot(existingKeys, f.now()),
		untracked: untracked,
	}
	f.mu.Lock()
	if old := f.cur; old != nil {
		old.poller.Stop()
	}
	f.cur = p
	f.mu.Unlock()
	f.emit()

	if typ.Cookie {
		return nil
	}
	return f.obtainURL(ctx, p)
}

func (f *Flow) obtainURL(ctx context.Context, p *pending) error {
	res, err := f.be.AuthURL(ctx, p.typ.Endpoint)
	if err != nil {
		f.logger.Warn("request authorization url failed", "type", p.typ.Key, "err", err)
		return fmt.Errorf("request %s authorization url: %w", p.typ.Key, err)
	}
	f.mu.Lock()
	if f.cur != p {
		f.mu.Unlock()
		return nil
	}
	p.url = res.URL
	p.state = res.State
	f.mu.Unlock()
	f.emit()
	return nil
}

// Commit is called when the authorization URL is handed to the user (opened
// or copied). It starts polling if the session is idle and has a state.
func (f *Flow) Commit() (string, error) {
	f.mu.Lock()
	p := f.cur
	if p == nil {
		f.mu.Unlock()
		return "", ErrNoSession
	}
	started := false
	if p.state != "" && p.status == StatusIdle {
		f.startPollingLocked(p, p.state)
		started = true
	}
	u := p.url
	f.mu.Unlock()
	if started {
		f.emit()
	}
	return u, nil
}

// SetTargetGroup selects the group new records are moved into. 0 clears it.
func (f *Flow) SetTargetGroup(groupID int64) error {
	if groupID < 0 {
		groupID = 0
	}
	f.mu.Lock()
	if f.cur == nil {
		f.mu.Unlock()
		return ErrNoSession
	}
	f.cur.targetGroup = groupID
	f.mu.Unlock()
	f.emit()
	return nil
}

func (f *Flow) startPollingLocked(p *pending, state string) {
	p.status = StatusPolling
	p.lastError = ""
	p.poller = task.Start(f.baseCtx, f.interval, func(ctx context.Context) {
		f.pollTick(ctx, p, state)
	}, task.WithTicker(f.ticker))
}

func (f *Flow) pollTick(ctx context.Context, p *pending, state string) {
	st, err := f.be.AuthStatus(ctx, state)

	f.mu.Lock()
	if f.cur != p || p.status != StatusPolling {
		f.mu.Unlock()
		return
	}
	if err != nil {
		f.mu.Unlock()
		if ctx.Err() == nil {
			f.logger.Warn("auth status poll failed", "type", p.typ.Key, "err", err)
		}
		return
	}
	switch st.Status {
	case backend.StatusOK:
		p.poller.Stop()
		p.status = StatusOK
		f.mu.Unlock()
		f.emit()
		f.finishOK(context.WithoutCancel(ctx), p)
	case backend.StatusError:
		p.poller.Stop()
		p.status = StatusError
		p.lastError = st.Error
		if p.lastError == "" {
			p.lastError = "authentication failed"
		}
		f.mu.Unlock()
		f.logger.Info("auth flow failed", "type", p.typ.Key, "err", p.lastError)
		f.emit()
	default:
		p.pollCount++
		f.mu.Unlock()
		f.emit()
	}
}

// finishOK runs the success side effects once per session.
func (f *Flow) finishOK(ctx context.Context, p *pending) {
	if f.hooks.CloseModal != nil {
		f.hooks.CloseModal()
	}
	if f.hooks.Notify != nil {
		f.hooks.Notify(p.typ.Label + " authentication succeeded")
	}
	f.reconcile(ctx, p)
	f.refreshOnce(ctx, p)
}

func (f *Flow) refreshOnce(ctx context.Context, p *pending) {
	f.mu.Lock()
	if p.refreshed {
		f.mu.Unlock()
		return
	}
	p.refreshed = true
	f.mu.Unlock()
	if f.hooks.Refresh != nil {
		f.hooks.Refresh(ctx)
	}
}

func (f *Flow) reconcile(ctx context.Context, p *pending) {
	f.mu.Lock()
	target := p.targetGroup
	snap := p.snapshot
	untracked := p.untracked
	f.mu.Unlock()
	if target <= 0 || !f.assignGroups {
		return
	}
	if untracked {
		f.logger.Warn("no credential snapshot, leaving new credentials in their group", "type", p.typ.Key, "group", target)
		return
	}
	ga, ok := f.be.(GroupAssigner)
	if !ok {
		return
	}
	fetched, err := f.be.ListAuthFiles(ctx, p.typ.Provider)
	if err != nil {
		f.logger.Warn("list credentials for group assignment failed", "type", p.typ.Key, "err", err)
		return
	}
	fresh := NewRecords(snap, fetched)
	if len(fresh) == 0 {
		return
	}
	res := AssignGroup(ctx, ga, fresh, target, f.concurrency, f.logger)
	f.logger.Debug("assigned new credentials to group", "group", target, "done", len(res.Done), "failed", len(res.Failed))
}

// SubmitCallback sends a manually pasted redirect to the backend. Validation
// failures are stored as the session's callback error and nothing is sent.
// On success polling starts with the resolved state unless the session is
// already polling or done.
func (f *Flow) SubmitCallback(ctx context.Context, input string) error {
	f.mu.Lock()
	p := f.cur
	if p == nil {
		f.mu.Unlock()
		return ErrNoSession
	}
	cb, err := ParseCallback(input)
	if err == nil {
		if cb.State == "" {
			cb.State = p.state
		}
		switch {
		case cb.State == "":
			err = ErrMissingState
		case cb.Code == "" && cb.Error == "":
			err = ErrMissingCodeOrError
		}
	}
	if err != nil {
		p.callbackError = err.Error()
		f.mu.Unlock()
		f.emit()
		return err
	}
	p.callbackError = ""
	provider := p.typ.Provider
	f.mu.Unlock()

	err = f.be.SubmitOAuthCallback(ctx, backend.OAuthCallback{
		Provider:    provider,
		RedirectURL: cb.RedirectURL,
		Code:        cb.Code,
		State:       cb.State,
		Error:       cb.Error,
	})

	f.mu.Lock()
	if f.cur != p {
		f.mu.Unlock()
		return err
	}
	if err != nil {
		p.callbackError = backend.Message(err)
		f.mu.Unlock()
		f.logger.Warn("submit oauth callback failed", "type", p.typ.Key, "err", err)
		f.emit()
		return fmt.Errorf("submit callback: %w", err)
	}
	if p.state == "" {
		p.state = cb.State
	}
	if p.status != StatusPolling && p.status != StatusOK {
		f.startPollingLocked(p, cb.State)
	}
	f.mu.Unlock()
	f.emit()
	return nil
}

// SubmitCookie creates a credential from a pasted cookie. The call is
// synchronous, so the session goes polling, then ok or error, without an
// interval poll.
func (f *Flow) SubmitCookie(ctx context.Context, cookie string) error {
	f.mu.Lock()
	p := f.cur
	if p == nil {
		f.mu.Unlock()
		return ErrNoSession
	}
	if !p.typ.Cookie {
		f.mu.Unlock()
		return ErrNotCookieType
	}
	if p.status == StatusPolling {
		f.mu.Unlock()
		return ErrBusy
	}
	value := NormalizeCookie(cookie)
	if value == "" {
		p.callbackError = ErrCookieRequired.Error()
		f.mu.Unlock()
		f.emit()
		return ErrCookieRequired
	}
	p.callbackError = ""
	p.lastError = ""
	p.status = StatusPolling
	f.mu.Unlock()
	f.emit()

	err := f.be.SubmitIFlowCookie(ctx, value)

	f.mu.Lock()
	if f.cur != p {
		// Closed or replaced meanwhile: no modal to close and nothing to
		// show, but a created credential still gets its group and the list
		// its refresh.
		f.mu.Unlock()
		if err != nil {
			return fmt.Errorf("submit cookie: %w", err)
		}
		ctx = context.WithoutCancel(ctx)
		f.reconcile(ctx, p)
		f.refreshOnce(ctx, p)
		return nil
	}
	if err != nil {
		p.status = StatusError
		p.lastError = backend.Message(err)
		f.mu.Unlock()
		f.logger.Warn("submit cookie failed", "type", p.typ.Key, "err", err)
		f.emit()
		return fmt.Errorf("submit cookie: %w", err)
	}
	p.status = StatusOK
	f.mu.Unlock()
	f.emit()
	f.finishOK(context.WithoutCancel(ctx), p)
	return nil
}

// Close ends the session. Polling stops before Close returns. A session that
// reached ok is refreshed by its success path, which finishes even when
// Close comes first.
func (f *Flow) Close() {
	f.mu.Lock()
	p := f.cur
	f.cur = nil
	if p == nil {
		f.mu.Unlock()
		return
	}
	p.poller.Stop()
	f.mu.Unlock()
	f.emit()
}
