package listing

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Filters is the filter state shared by every list page.
type Filters struct {
	Text     string
	GroupIDs []int64
	// Extra holds page specific filters such as type or status.
	Extra map[string]string
}

func (f Filters) clone() Filters {
	out := Filters{Text: f.Text, GroupIDs: append([]int64(nil), f.GroupIDs...)}
	if len(f.Extra) > 0 {
		out.Extra = make(map[string]string, len(f.Extra))
		for k, v := range f.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Equal reports whether f and o select the same rows. Empty extra values
// count as unset.
func (f Filters) Equal(o Filters) bool {
	if f.Text != o.Text || len(f.GroupIDs) != len(o.GroupIDs) {
		return false
	}
	for i := range f.GroupIDs {
		if f.GroupIDs[i] != o.GroupIDs[i] {
			return false
		}
	}
	for k, v := range f.Extra {
		if o.Extra[k] != v {
			return false
		}
	}
	for k, v := range o.Extra {
		if f.Extra[k] != v {
			return false
		}
	}
	return true
}

// Get returns an extra filter value.
func (f Filters) Get(key string) string {
	return f.Extra[key]
}

// Query renders the filters as query parameters for server side filtering.
func (f Filters) Query() url.Values {
	q := url.Values{}
	if t := strings.TrimSpace(f.Text); t != "" {
		q.Set("q", t)
	}
	if len(f.GroupIDs) > 0 {
		ids := make([]string, 0, len(f.GroupIDs))
		for _, id := range f.GroupIDs {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		q.Set("group_ids", strings.Join(ids, ","))
	}
	keys := make([]string, 0, len(f.Extra))
	for k := range f.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := strings.TrimSpace(f.Extra[k]); v != "" {
			q.Set(k, v)
		}
	}
	return q
}

// MatchGroups reports whether record shares at least one id with selected.
// An empty selection matches everything.
func MatchGroups(record, selected []int64) bool {
	if len(selected) == 0 {
		return true
	}
	for _, s := range selected {
		for _, r := range record {
			if r == s {
				return true
			}
		}
	}
	return false
}

// MatchText reports whether any field contains text, ignoring case. Empty
// text matches everything.
func MatchText(text string, fields ...string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), text) {
			return true
		}
	}
	return false
}

// FilterOptions narrows a dropdown's options to those whose label contains
// query.
func FilterOptions[T any](options []T, query string, label func(T) string) []T {
	query = strings.TrimSpace(query)
	if query == "" {
		return append([]T(nil), options...)
	}
	var out []T
	for _, o := range options {
		if MatchText(query, label(o)) {
			out = append(out, o)
		}
	}
	return out
}

// ParseIDs parses a comma separated id list, skipping junk.
func ParseIDs(raw string) []int64 {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err == nil && id > 0 {
			out = append(out, id)
		}
	}
	return out
}
