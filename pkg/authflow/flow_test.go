package authflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lkarlslund/proxydesk/pkg/backend"
	"github.com/lkarlslund/proxydesk/pkg/task"
)

type manualTicker struct{ ch chan time.Time }

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

type fakeBackend struct {
	mu        sync.Mutex
	calls     map[string]int
	url       backend.AuthURL
	urlErr    error
	statuses  []backend.AuthStatus
	statusErr error
	callbacks []backend.OAuthCallback
	cbErr     error
	cookies   []string
	cookieErr error
	// cookieGate, when set, holds SubmitIFlowCookie until it is closed.
	cookieGate chan struct{}
	records   []backend.CredentialRecord
	listTypes []string
	assigned  map[string]int64
	assignErr map[string]error
}

func newFake() *fakeBackend {
	return &fakeBackend{calls: map[string]int{}, assigned: map[string]int64{}, assignErr: map[string]error{}}
}

func (b *fakeBackend) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

func (b *fakeBackend) AuthURL(_ context.Context, endpoint string) (backend.AuthURL, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["url"]++
	return b.url, b.urlErr
}

func (b *fakeBackend) AuthStatus(_ context.Context, state string) (backend.AuthStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["status"]++
	if b.statusErr != nil {
		err := b.statusErr
		b.statusErr = nil
		return backend.AuthStatus{}, err
	}
	if len(b.statuses) == 0 {
		return backend.AuthStatus{Status: backend.StatusWait}, nil
	}
	st := b.statuses[0]
	b.statuses = b.statuses[1:]
	return st, nil
}

func (b *fakeBackend) SubmitOAuthCallback(_ context.Context, cb backend.OAuthCallback) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["callback"]++
	b.callbacks = append(b.callbacks, cb)
	return b.cbErr
}

func (b *fakeBackend) SubmitIFlowCookie(_ context.Context, cookie string) error {
	b.mu.Lock()
	gate := b.cookieGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["cookie"]++
	b.cookies = append(b.cookies, cookie)
	return b.cookieErr
}

func (b *fakeBackend) ListAuthFiles(_ context.Context, typ string) ([]backend.CredentialRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["list"]++
	b.listTypes = append(b.listTypes, typ)
	return append([]backend.CredentialRecord(nil), b.records...), nil
}

func (b *fakeBackend) UpdateAuthFileGroup(_ context.Context, id string, groupID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["assign"]++
	if err := b.assignErr[id]; err != nil {
		return err
	}
	b.assigned[id] = groupID
	return nil
}

type recorder struct {
	mu        sync.Mutex
	closes    int
	refreshes int
	notes     []string
	views     []View
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		CloseModal: func() { r.mu.Lock(); r.closes++; r.mu.Unlock() },
		Notify:     func(msg string) { r.mu.Lock(); r.notes = append(r.notes, msg); r.mu.Unlock() },
		Refresh:    func(context.Context) { r.mu.Lock(); r.refreshes++; r.mu.Unlock() },
		OnChange:   func(v View) { r.mu.Lock(); r.views = append(r.views, v); r.mu.Unlock() },
	}
}

func (r *recorder) refreshCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshes
}

func (r *recorder) firstWithStatus(s Status) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.views {
		if v.Status == s {
			return v, true
		}
	}
	return View{}, false
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestFlow(be *fakeBackend, rec *recorder, opts ...Option) (*Flow, *manualTicker) {
	mt := &manualTicker{ch: make(chan time.Time)}
	base := []Option{
		WithHooks(rec.hooks()),
		WithTicker(func(time.Duration) task.Ticker { return mt }),
		WithClock(func() time.Time { return t0 }),
	}
	return New(be, append(base, opts...)...), mt
}

func tick(t *testing.T, mt *manualTicker) {
	t.Helper()
	select {
	case mt.ch <- t0:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not take the tick")
	}
}

func TestInitiateUnknownTypeIsNoop(t *testing.T) {
	be := newFake()
	rec := &recorder{}
	f, _ := newTestFlow(be, rec)

	err := f.Initiate(context.Background(), "myspace", nil)
	assert.ErrorIs(t, err, ErrUnknownAuthType)
	assert.False(t, f.Session().Active)
	assert.Equal(t, 0, be.count("url"))
	assert.Empty(t, rec.views)
}

func TestInitiateURLFailureStaysIdle(t *testing.T) {
	be := newFake()
	be.urlErr = errors.New("boom")
	f, _ := newTestFlow(be, &recorder{})

	require.Error(t, f.Initiate(context.Background(), "codex", nil))
	v := f.Session()
	assert.True(t, v.Active)
	assert.Equal(t, StatusIdle, v.Status)
	assert.Empty(t, v.AuthorizationURL)
	assert.Empty(t, v.LastError)

	u, err := f.Commit()
	require.NoError(t, err)
	assert.Empty(t, u)
	assert.Equal(t, StatusIdle, f.Session().Status)
}

func TestPollWaitWaitOK(t *testing.T) {
	be := newFake()
	be.url = backend.AuthURL{URL: "https://auth.example/authorize", State: "st"}
	be.statuses = []backend.AuthStatus{{Status: "wait"}, {Status: "wait"}, {Status: "ok"}}
	be.records = []backend.CredentialRecord{
		{ID: "a", CreatedAt: t0.Add(-time.Hour), UpdatedAt: t0.Add(-time.Hour)},
		{ID: "c", CreatedAt: t0.Add(time.Second), UpdatedAt: t0.Add(time.Second)},
	}
	rec := &recorder{}
	f, mt := newTestFlow(be, rec)
	ctx := context.Background()

	require.NoError(t, f.Initiate(ctx, "codex", []string{"a"}))
	require.NoError(t, f.SetTargetGroup(5))
	u, err := f.Commit()
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example/authorize", u)

	tick(t, mt)
	tick(t, mt)
	require.Eventually(t, func() bool { return rec.refreshCount() == 1 }, 2*time.Second, time.Millisecond)

	okView, found := rec.firstWithStatus(StatusOK)
	require.True(t, found)
	assert.Equal(t, 2, okView.PollCount)
	assert.Equal(t, 3, be.count("status"))
	assert.Equal(t, 1, be.count("list"))
	assert.Equal(t, []string{"codex"}, be.listTypes)
	assert.Equal(t, map[string]int64{"c": 5}, be.assigned)
	rec.mu.Lock()
	assert.Equal(t, 1, rec.closes)
	assert.Len(t, rec.notes, 1)
	rec.mu.Unlock()

	f.Close()
	assert.Equal(t, 1, rec.refreshCount())
	assert.False(t, f.Session().Active)
}

func TestPollWaitError(t *testing.T) {
	be := newFake()
	be.url = backend.AuthURL{URL: "u", State: "st"}
	be.statuses = []backend.AuthStatus{{Status: "wait"}, {Status: "error", Error: "token exchange failed"}}
	rec := &recorder{}
	f, mt := newTestFlow(be, rec)

	require.NoError(t, f.Initiate(context.Background(), "anthropic", nil))
	_, err := f.Commit()
	require.NoError(t, err)
	tick(t, mt)

	require.Eventually(t, func() bool { return f.Session().Status == StatusError }, 2*time.Second, time.Millisecond)
	assert.Equal(t, "token exchange failed", f.Session().LastError)
	_, reachedOK := rec.firstWithStatus(StatusOK)
	assert.False(t, reachedOK)

	select {
	case mt.ch <- t0:
		t.Fatal("poller still running after error")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 2, be.count("status"))
	assert.Equal(t, 0, rec.refreshCount())
}

func TestPollTransportErrorKeepsPolling(t *testing.T) {
	be := newFake()
	be.url = backend.AuthURL{URL: "u", State: "st"}
	be.statusErr = errors.New("connection reset")
	f, mt := newTestFlow(be, &recorder{})

	require.NoError(t, f.Initiate(context.Background(), "qwen", nil))
	_, err := f.Commit()
	require.NoError(t, err)
	tick(t, mt)
	require.Eventually(t, func() bool { return f.Session().PollCount == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, StatusPolling, f.Session().Status)
	f.Close()
}

func TestCommitTwiceStartsOnePoller(t *testing.T) {
	be := newFake()
	be.url = backend.AuthURL{URL: "u", State: "st"}
	f, _ := newTestFlow(be, &recorder{})

	require.NoError(t, f.Initiate(context.Background(), "codex", nil))
	_, _ = f.Commit()
	_, _ = f.Commit()
	require.Eventually(t, func() bool { return be.count("status") == 1 }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, be.count("status"))
	f.Close()
}

func TestSecondInitiateDiscardsFirst(t *testing.T) {
	be := newFake()
	be.url = backend.AuthURL{URL: "first", State: "st-1"}
	f, _ := newTestFlow(be, &recorder{})
	ctx := context.Background()

	require.NoError(t, f.Initiate(ctx, "codex", nil))
	require.NoError(t, f.SetTargetGroup(3))
	be.mu.Lock()
	be.url = backend.AuthURL{}
	be.urlErr = errors.New("down")
	be.mu.Unlock()

	require.Error(t, f.Initiate(ctx, "gemini-cli", nil))
	v := f.Session()
	assert.Equal(t, "gemini-cli", v.Type)
	assert.Empty(t, v.State)
	assert.Empty(t, v.AuthorizationURL)
	assert.Zero(t, v.TargetGroupID)
	assert.Equal(t, StatusIdle, v.Status)
}

func TestSubmitCallbackValidation(t *testing.T) {
	be := newFake()
	f, _ := newTestFlow(be, &recorder{})
	ctx := context.Background()

	assert.ErrorIs(t, f.SubmitCallback(ctx, "code=x"), ErrNoSession)

	be.urlErr = errors.New("no url")
	_ = f.Initiate(ctx, "codex", nil)

	assert.ErrorIs(t, f.SubmitCallback(ctx, ""), ErrEmptyCallback)
	assert.Equal(t, ErrEmptyCallback.Error(), f.Session().CallbackError)
	assert.ErrorIs(t, f.SubmitCallback(ctx, "code=abc"), ErrMissingState)
	assert.ErrorIs(t, f.SubmitCallback(ctx, "state=abc"), ErrMissingCodeOrError)
	assert.ErrorIs(t, f.SubmitCallback(ctx, "garbage"), ErrUnparseableCallback)
	assert.Equal(t, 0, be.count("callback"))
}

func TestSubmitCallbackStartsPolling(t *testing.T) {
	be := newFake()
	be.url = backend.AuthURL{URL: "u", State: "session-state"}
	f, _ := newTestFlow(be, &recorder{})
	ctx := context.Background()

	require.NoError(t, f.Initiate(ctx, "gemini-cli", nil))
	require.NoError(t, f.SubmitCallback(ctx, "http://localhost:8085/oauth2callback?code=abc"))

	require.Len(t, be.callbacks, 1)
	cb := be.callbacks[0]
	assert.Equal(t, "gemini", cb.Provider)
	assert.Equal(t, "abc", cb.Code)
	assert.Equal(t, "session-state", cb.State)
	assert.Equal(t, StatusPolling, f.Session().Status)
	require.Eventually(t, func() bool { return be.count("status") == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, f.SubmitCallback(ctx, "code=def&state=session-state"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, be.count("status"))
	f.Close()
}

func TestSubmitCallbackBackendErrorIsFieldError(t *testing.T) {
	be := newFake()
	be.url = backend.AuthURL{URL: "u", State: "st"}
	be.cbErr = &backend.HTTPError{StatusCode: 400, Message: "state mismatch"}
	f, _ := newTestFlow(be, &recorder{})
	ctx := context.Background()

	require.NoError(t, f.Initiate(ctx, "codex", nil))
	require.Error(t, f.SubmitCallback(ctx, "code=abc"))
	v := f.Session()
	assert.Equal(t, "state mismatch", v.CallbackError)
	assert.Equal(t, StatusIdle, v.Status)
}

func TestCookieFlow(t *testing.T) {
	be := newFake()
	be.records = []backend.CredentialRecord{
		{ID: "new", CreatedAt: t0, UpdatedAt: t0, AuthGroupID: 0},
		{ID: "same-group", CreatedAt: t0, UpdatedAt: t0, AuthGroupID: 9},
	}
	rec := &recorder{}
	f, _ := newTestFlow(be, rec)
	ctx := context.Background()

	require.NoError(t, f.Initiate(ctx, "iflow-cookie", nil))
	assert.Equal(t, 0, be.count("url"))
	_, err := f.Commit()
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, f.Session().Status)

	assert.ErrorIs(t, f.SubmitCookie(ctx, " "), ErrCookieRequired)
	require.NoError(t, f.SetTargetGroup(9))
	require.NoError(t, f.SubmitCookie(ctx, "abc123"))

	assert.Equal(t, []string{"BXAuth=abc123"}, be.cookies)
	assert.Equal(t, StatusOK, f.Session().Status)
	_, sawPolling := rec.firstWithStatus(StatusPolling)
	assert.True(t, sawPolling)
	assert.Equal(t, map[string]int64{"new": 9}, be.assigned)
	assert.Equal(t, 1, rec.refreshCount())
	assert.Equal(t, 0, be.count("status"))

	f.Close()
	assert.Equal(t, 1, rec.refreshCount())
}

func TestCookieRejectedForRedirectType(t *testing.T) {
	be := newFake()
	be.url = backend.AuthURL{URL: "u", State: "s"}
	f, _ := newTestFlow(be, &recorder{})
	require.NoError(t, f.Initiate(context.Background(), "iflow", nil))
	assert.ErrorIs(t, f.SubmitCookie(context.Background(), "BXAuth=1"), ErrNotCookieType)
}

func TestCookieFailure(t *testing.T) {
	be := newFake()
	be.cookieErr = &backend.HTTPError{StatusCode: 400, Message: "cookie expired"}
	rec := &recorder{}
	f, _ := newTestFlow(be, rec)
	ctx := context.Background()

	require.NoError(t, f.Initiate(ctx, "iflow-cookie", nil))
	require.Error(t, f.SubmitCookie(ctx, "BXAuth=x"))
	v := f.Session()
	assert.Equal(t, StatusError, v.Status)
	assert.Equal(t, "cookie expired", v.LastError)
	assert.Equal(t, 0, rec.refreshCount())
}

// Close arriving from the close hook, before reconciliation finishes, must
// not add a second refresh or lose the first.
func TestCloseDuringSuccessPathRefreshesOnce(t *testing.T) {
	be := newFake()
	be.url = backend.AuthURL{URL: "u", State: "st"}
	be.statuses = []backend.AuthStatus{{Status: "ok"}}
	be.records = []backend.CredentialRecord{{ID: "n", CreatedAt: t0, UpdatedAt: t0}}

	rec := &recorder{}
	var f *Flow
	var assignedAtRefresh int64
	hooks := rec.hooks()
	hooks.CloseModal = func() { f.Close() }
	refresh := hooks.Refresh
	hooks.Refresh = func(ctx context.Context) {
		be.mu.Lock()
		assignedAtRefresh = be.assigned["n"]
		be.mu.Unlock()
		refresh(ctx)
	}
	f, _ = newTestFlow(be, rec, WithHooks(hooks))

	require.NoError(t, f.Initiate(context.Background(), "antigravity", nil))
	require.NoError(t, f.SetTargetGroup(2))
	_, err := f.Commit()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.refreshCount() == 1 }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.refreshCount())
	assert.Equal(t, int64(2), be.assigned["n"])
	assert.Equal(t, int64(2), assignedAtRefresh)
	assert.False(t, f.Session().Active)
}

func TestCloseStopsPolling(t *testing.T) {
	be := newFake()
	be.url = backend.AuthURL{URL: "u", State: "st"}
	f, mt := newTestFlow(be, &recorder{})

	require.NoError(t, f.Initiate(context.Background(), "codex", nil))
	_, _ = f.Commit()
	require.Eventually(t, func() bool { return be.count("status") == 1 }, 2*time.Second, time.Millisecond)
	f.Close()

	select {
	case mt.ch <- t0:
		t.Fatal("tick accepted after close")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, be.count("status"))
}

func TestNoReconcileWithoutTargetGroup(t *testing.T) {
	be := newFake()
	rec := &recorder{}
	f, _ := newTestFlow(be, rec)
	require.NoError(t, f.Initiate(context.Background(), "iflow-cookie", nil))
	require.NoError(t, f.SubmitCookie(context.Background(), "BXAuth=1"))
	assert.Equal(t, 0, be.count("list"))
	assert.Equal(t, 1, rec.refreshCount())
}

func TestNoReconcileWhenAssignmentDisabled(t *testing.T) {
	be := newFake()
	f, _ := newTestFlow(be, &recorder{}, WithGroupAssignment(false))
	require.NoError(t, f.Initiate(context.Background(), "iflow-cookie", nil))
	require.NoError(t, f.SetTargetGroup(4))
	require.NoError(t, f.SubmitCookie(context.Background(), "BXAuth=1"))
	assert.Equal(t, 0, be.count("list"))
}

func TestCookieResultAfterCloseSkipsModalHooks(t *testing.T) {
	be := newFake()
	be.cookieGate = make(chan struct{})
	be.records = []backend.CredentialRecord{{ID: "new", CreatedAt: t0, UpdatedAt: t0}}
	rec := &recorder{}
	f, _ := newTestFlow(be, rec)
	ctx := context.Background()

	require.NoError(t, f.Initiate(ctx, "iflow-cookie", nil))
	require.NoError(t, f.SetTargetGroup(6))
	done := make(chan error, 1)
	go func() { done <- f.SubmitCookie(ctx, "abc") }()
	require.Eventually(t, func() bool { return f.Session().Status == StatusPolling }, 2*time.Second, time.Millisecond)

	f.Close()
	rec.mu.Lock()
	viewsAtClose := len(rec.views)
	rec.mu.Unlock()
	close(be.cookieGate)
	require.NoError(t, <-done)

	rec.mu.Lock()
	assert.Zero(t, rec.closes)
	assert.Empty(t, rec.notes)
	assert.Len(t, rec.views, viewsAtClose)
	rec.mu.Unlock()
	assert.Equal(t, map[string]int64{"new": 6}, be.assigned)
	assert.Equal(t, 1, rec.refreshCount())
}

func TestCookieResultAfterReplaceLeavesNewSession(t *testing.T) {
	be := newFake()
	be.cookieGate = make(chan struct{})
	be.cookieErr = &backend.HTTPError{StatusCode: 400, Message: "cookie expired"}
	be.url = backend.AuthURL{URL: "u", State: "st"}
	rec := &recorder{}
	f, _ := newTestFlow(be, rec)
	ctx := context.Background()

	require.NoError(t, f.Initiate(ctx, "iflow-cookie", nil))
	done := make(chan error, 1)
	go func() { done <- f.SubmitCookie(ctx, "abc") }()
	require.Eventually(t, func() bool { return f.Session().Status == StatusPolling }, 2*time.Second, time.Millisecond)

	require.NoError(t, f.Initiate(ctx, "codex", nil))
	rec.mu.Lock()
	viewsAtReplace := len(rec.views)
	rec.mu.Unlock()
	close(be.cookieGate)
	require.Error(t, <-done)

	rec.mu.Lock()
	assert.Len(t, rec.views, viewsAtReplace)
	rec.mu.Unlock()

	v := f.Session()
	assert.Equal(t, "codex", v.Type)
	assert.Equal(t, StatusIdle, v.Status)
	assert.Empty(t, v.LastError)
}

func TestUntrackedSessionSkipsGroupAssignment(t *testing.T) {
	be := newFake()
	be.records = []backend.CredentialRecord{{ID: "new", CreatedAt: t0, UpdatedAt: t0}}
	rec := &recorder{}
	f, _ := newTestFlow(be, rec)
	ctx := context.Background()

	require.NoError(t, f.InitiateUntracked(ctx, "iflow-cookie"))
	assert.True(t, f.Session().Untracked)
	require.NoError(t, f.SetTargetGroup(3))
	require.NoError(t, f.SubmitCookie(ctx, "abc"))

	assert.Equal(t, StatusOK, f.Session().Status)
	assert.Empty(t, be.assigned)
	assert.Equal(t, 0, be.count("list"))
	assert.Equal(t, 1, rec.refreshCount())

	assert.ErrorIs(t, f.InitiateUntracked(ctx, "nope"), ErrUnknownAuthType)
}
