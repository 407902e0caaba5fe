// Package pages binds the list, form and auth flow controllers of each admin
// page to the backend and to the permission gate.
package pages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lkarlslund/proxydesk/pkg/backend"
	"github.com/lkarlslund/proxydesk/pkg/listing"
	"github.com/lkarlslund/proxydesk/pkg/logutil"
	"github.com/lkarlslund/proxydesk/pkg/session"
)

var (
	ErrForbidden   = errors.New("permission denied")
	ErrUnknownPage = errors.New("unknown page")
	ErrUnsupported = errors.New("not supported on this page")
)

// Deps is what every page needs. Session is fixed for the page's lifetime.
type Deps struct {
	Session  session.Session
	Client   *backend.Client
	Logger   *log.Logger
	PageSize int
	Debounce time.Duration
	// Context is used for work that outlives a request, such as debounced
	// searches and OAuth polling.
	Context context.Context
	// Notify shows a short message to the user.
	Notify func(page, msg string)
	// OnChange fires when a page's list state changed.
	OnChange func(page string)
}

func (d Deps) logger(page string) *log.Logger {
	if d.Logger == nil {
		return logutil.New(page)
	}
	return d.Logger.WithPrefix(page)
}

func (d Deps) ctx() context.Context {
	if d.Context == nil {
		return context.Background()
	}
	return d.Context
}

func (d Deps) notify(page, msg string) {
	if d.Notify != nil {
		d.Notify(page, msg)
	}
}

func (d Deps) changed(page string) func() {
	return func() {
		if d.OnChange != nil {
			d.OnChange(page)
		}
	}
}

// Actions are the operations the session may perform on a page.
type Actions struct {
	View   bool `json:"view"`
	Create bool `json:"create"`
	Update bool `json:"update"`
	Delete bool `json:"delete"`
	Batch  bool `json:"batch,omitempty"`
}

func actionsFor(s session.Session, collection, item string) Actions {
	return Actions{
		View:   s.Can(http.MethodGet, collection),
		Create: s.Can(http.MethodPost, collection),
		Update: s.Can(http.MethodPut, item),
		Delete: s.Can(http.MethodDelete, item),
	}
}

// Query is a page view request from the console API or the CLI.
type Query struct {
	Text   string
	Groups []int64
	Extra  map[string]string
	Page   int
	// Refresh refetches even when the filters are unchanged.
	Refresh bool
}

func (q Query) filters() listing.Filters {
	return listing.Filters{Text: q.Text, GroupIDs: q.Groups, Extra: q.Extra}
}

// show renders q from l. The list is fetched when nothing was loaded yet,
// when the filters changed or when q asks for a refresh. Moving between
// pages alone stays local.
func show[T any](ctx context.Context, l *listing.List[T], q Query) (listing.Page[T], error) {
	f := q.filters()
	var err error
	switch {
	case !l.Filters().Equal(f):
		err = l.Apply(ctx, f)
	case q.Refresh:
		err = l.Refresh(ctx)
	default:
		err = l.EnsureLoaded(ctx)
	}
	if err != nil {
		return listing.Page[T]{}, err
	}
	if q.Page > 0 {
		l.SetPage(q.Page)
	}
	return l.Current(), nil
}

// Page is the uniform surface the console API, the CLI and export use.
type Page interface {
	Name() string
	Actions() Actions
	// Permission returns the method and path template the gate checks for
	// an action.
	Permission(action string) (method, path string)
	View(ctx context.Context, q Query) (any, error)
	// Search sets the search text as the user types. The fetch is debounced
	// and the result is announced through OnChange.
	Search(text string)
	Export(ctx context.Context) ([]any, error)
	CreateJSON(ctx context.Context, raw json.RawMessage) (any, error)
	UpdateJSON(ctx context.Context, id string, raw json.RawMessage) (any, error)
	Delete(ctx context.Context, id string) error
}

// Set holds one controller per page.
type Set struct {
	BillingRules *BillingRules
	Settings     *Settings
	PrepaidCards *PrepaidCards
	Users        *Users
	ProviderKeys *ProviderKeys
	AuthGroups   *AuthGroups
	AuthFiles    *AuthFiles

	byName map[string]Page
}

func NewSet(d Deps) *Set {
	s := &Set{
		BillingRules: NewBillingRules(d),
		Settings:     NewSettings(d),
		PrepaidCards: NewPrepaidCards(d),
		Users:        NewUsers(d),
		ProviderKeys: NewProviderKeys(d),
		AuthGroups:   NewAuthGroups(d),
		AuthFiles:    NewAuthFiles(d),
	}
	s.byName = map[string]Page{}
	for _, p := range []Page{s.BillingRules, s.Settings, s.PrepaidCards, s.Users, s.ProviderKeys, s.AuthGroups, s.AuthFiles} {
		s.byName[p.Name()] = p
	}
	return s
}

// Get looks a page up by its name, e.g. "billing-rules".
func (s *Set) Get(name string) (Page, error) {
	p, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPage, name)
	}
	return p, nil
}

// Names lists the pages in alphabetical order.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.byName))
	for name := range s.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Visible lists the pages the session may view.
func (s *Set) Visible() []string {
	var out []string
	for _, name := range s.Names() {
		if s.byName[name].Actions().View {
			out = append(out, name)
		}
	}
	return out
}
