package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// Resource is the CRUD surface of one admin collection.
type Resource[T any] struct {
	c          *Client
	collection string
	item       string
	onChange   func()
}

func (r Resource[T]) CollectionPath() string { return r.collection }
func (r Resource[T]) ItemPath() string       { return r.item }

func (r Resource[T]) List(ctx context.Context, query url.Values) ([]T, error) {
	return listOf[T](ctx, r.c, r.collection, query)
}

func (r Resource[T]) Create(ctx context.Context, payload any) (T, error) {
	out, err := sendOne[T](ctx, r.c, http.MethodPost, r.collection, payload)
	r.changed(err)
	return out, err
}

func (r Resource[T]) Update(ctx context.Context, id string, payload any) (T, error) {
	out, err := sendOne[T](ctx, r.c, http.MethodPut, Expand(r.item, id), payload)
	r.changed(err)
	return out, err
}

func (r Resource[T]) Delete(ctx context.Context, id string) error {
	err := r.c.send(ctx, http.MethodDelete, Expand(r.item, id), nil, nil, nil)
	r.changed(err)
	return err
}

func (r Resource[T]) changed(err error) {
	if err == nil && r.onChange != nil {
		r.onChange()
	}
}

// ID formats a numeric entity id for Update and Delete.
func ID(id int64) string { return strconv.FormatInt(id, 10) }

func (c *Client) BillingRules() Resource[BillingRule] {
	return Resource[BillingRule]{c: c, collection: PathBillingRules, item: PathBillingRule}
}

func (c *Client) Settings() Resource[Setting] {
	return Resource[Setting]{c: c, collection: PathSettings, item: PathSetting}
}

func (c *Client) PrepaidCards() Resource[PrepaidCard] {
	return Resource[PrepaidCard]{c: c, collection: PathPrepaidCards, item: PathPrepaidCard}
}

func (c *Client) Users() Resource[User] {
	return Resource[User]{c: c, collection: PathUsers, item: PathUser}
}

func (c *Client) ProviderKeys() Resource[ProviderKey] {
	return Resource[ProviderKey]{c: c, collection: PathProviderKeys, item: PathProviderKey}
}

func (c *Client) AuthGroupResource() Resource[AuthGroup] {
	return Resource[AuthGroup]{c: c, collection: PathAuthGroups, item: PathAuthGroup, onChange: c.InvalidateGroups}
}

// GeneratePrepaidCards creates a batch of cards. The answer may carry the new
// cards; callers refetch the list either way.
func (c *Client) GeneratePrepaidCards(ctx context.Context, batch PrepaidBatch) ([]PrepaidCard, error) {
	var raw json.RawMessage
	if err := c.send(ctx, http.MethodPost, PathPrepaidCardBatch, nil, batch, &raw); err != nil {
		return nil, err
	}
	return decodeList[PrepaidCard](raw)
}
