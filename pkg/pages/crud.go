package pages

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/charmbracelet/log"

	"github.com/lkarlslund/proxydesk/pkg/backend"
	"github.com/lkarlslund/proxydesk/pkg/forms"
	"github.com/lkarlslund/proxydesk/pkg/listing"
)

// crudSpec describes one entity page.
type crudSpec[T any, F any] struct {
	name     string
	resource backend.Resource[T]
	key      func(T) string
	formKey  func(F) string
	payload  func(F) any
	// match filters locally; nil sends the filters to the backend.
	match func(T, listing.Filters) bool
	// merge copies form fields onto a row when the backend answers a write
	// without a body.
	merge func(dst *T, f F)
	// prepare adjusts a decoded form before create (creating=true) or
	// update (creating=false, id from the URL).
	prepare func(f *F, id string, creating bool) error
}

// crud is a list page with create, update and delete modals.
type crud[T any, F any] struct {
	spec    crudSpec[T, F]
	deps    Deps
	logger  *log.Logger
	actions Actions

	List   *listing.List[T]
	Create *forms.Modal[F, T]
	Edit   *forms.Modal[F, T]
}

func newCrud[T any, F any](d Deps, spec crudSpec[T, F]) *crud[T, F] {
	c := &crud[T, F]{
		spec:    spec,
		deps:    d,
		logger:  d.logger(spec.name),
		actions: actionsFor(d.Session, spec.resource.CollectionPath(), spec.resource.ItemPath()),
	}
	c.List = listing.New(c.fetch, listing.Options[T]{
		PageSize: d.PageSize,
		Debounce: d.Debounce,
		Match:    spec.match,
		Context:  d.ctx(),
		Logger:   c.logger,
		OnChange: d.changed(spec.name),
	})
	c.Create = forms.NewModal(c.submitCreate, func(_ F, out T) {
		if spec.key(out) == "" {
			_ = c.List.Refresh(d.ctx())
			return
		}
		c.List.Insert(out)
	})
	c.Edit = forms.NewModal(c.submitUpdate, func(f F, out T) {
		id := spec.formKey(f)
		match := func(row T) bool { return spec.key(row) == id }
		if spec.key(out) != "" {
			c.List.Patch(match, func(row *T) { *row = out })
			return
		}
		c.List.Patch(match, func(row *T) { spec.merge(row, f) })
	})
	return c
}

func (c *crud[T, F]) Name() string     { return c.spec.name }
func (c *crud[T, F]) Actions() Actions { return c.actions }

func (c *crud[T, F]) Permission(action string) (string, string) {
	switch action {
	case "create":
		return http.MethodPost, c.spec.resource.CollectionPath()
	case "update":
		return http.MethodPut, c.spec.resource.ItemPath()
	case "delete":
		return http.MethodDelete, c.spec.resource.ItemPath()
	default:
		return http.MethodGet, c.spec.resource.CollectionPath()
	}
}

func (c *crud[T, F]) fetch(ctx context.Context, f listing.Filters) ([]T, error) {
	if !c.actions.View {
		return nil, ErrForbidden
	}
	var q url.Values
	if c.spec.match == nil {
		q = f.Query()
	}
	return c.spec.resource.List(ctx, q)
}

func (c *crud[T, F]) submitCreate(ctx context.Context, f F) (T, error) {
	var zero T
	if !c.actions.Create {
		return zero, ErrForbidden
	}
	return c.spec.resource.Create(ctx, c.spec.payload(f))
}

func (c *crud[T, F]) submitUpdate(ctx context.Context, f F) (T, error) {
	var zero T
	if !c.actions.Update {
		return zero, ErrForbidden
	}
	return c.spec.resource.Update(ctx, c.spec.formKey(f), c.spec.payload(f))
}

// Refresh reloads the list.
func (c *crud[T, F]) Refresh(ctx context.Context) error {
	return c.List.Refresh(ctx)
}

// Remove deletes a row and drops it from the list.
func (c *crud[T, F]) Remove(ctx context.Context, id string) error {
	if !c.actions.Delete {
		return ErrForbidden
	}
	if err := c.spec.resource.Delete(ctx, id); err != nil {
		return err
	}
	c.List.Remove(func(row T) bool { return c.spec.key(row) == id })
	c.deps.notify(c.spec.name, "deleted "+id)
	return nil
}

func (c *crud[T, F]) View(ctx context.Context, q Query) (any, error) {
	if !c.actions.View {
		return nil, ErrForbidden
	}
	page, err := show(ctx, c.List, q)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (c *crud[T, F]) Search(text string) {
	if c.actions.View {
		c.List.SetText(text)
	}
}

func (c *crud[T, F]) Export(ctx context.Context) ([]any, error) {
	rows, err := c.fetch(ctx, listing.Filters{})
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

func (c *crud[T, F]) decode(raw json.RawMessage, id string, creating bool) (F, error) {
	var f F
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &f); err != nil {
			return f, fmt.Errorf("decode %s form: %w", c.spec.name, err)
		}
	}
	if c.spec.prepare != nil {
		if err := c.spec.prepare(&f, id, creating); err != nil {
			return f, err
		}
	}
	return f, nil
}

func (c *crud[T, F]) CreateJSON(ctx context.Context, raw json.RawMessage) (any, error) {
	f, err := c.decode(raw, "", true)
	if err != nil {
		return nil, err
	}
	return c.Create.Submit(ctx, f)
}

func (c *crud[T, F]) UpdateJSON(ctx context.Context, id string, raw json.RawMessage) (any, error) {
	f, err := c.decode(raw, id, false)
	if err != nil {
		return nil, err
	}
	return c.Edit.Submit(ctx, f)
}

func (c *crud[T, F]) Delete(ctx context.Context, id string) error {
	return c.Remove(ctx, id)
}
