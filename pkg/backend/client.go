// Package backend is the REST client for the proxy's admin API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/charmbracelet/log"

	"github.com/lkarlslund/proxydesk/pkg/cache"
	"github.com/lkarlslund/proxydesk/pkg/logutil"
	"github.com/lkarlslund/proxydesk/pkg/version"
)

const maxBodyBytes = 8 << 20

type Options struct {
	BaseURL    string
	Token      string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// RetryDelay is the first backoff step for retried reads.
	RetryDelay time.Duration
	// Transport is the innermost transport, http.DefaultTransport when nil.
	Transport http.RoundTripper
	Logger    *log.Logger
	// AllowAnonymous skips the token check, used by login.
	AllowAnonymous bool
}

// Client talks to one admin API. Reads are retried on network errors, 5xx
// and 429; writes and status polls are sent once.
type Client struct {
	base   *url.URL
	http   *http.Client
	reads  *retry.Client
	logger *log.Logger
	groups *cache.TTLMap[string, []AuthGroup]
}

func New(opts Options) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", opts.BaseURL)
	}
	if strings.TrimSpace(opts.Token) == "" && !opts.AllowAnonymous {
		return nil, ErrNoToken
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	hc := &http.Client{
		Timeout:   timeout,
		Transport: wrapTransport(opts.Transport, opts.Token, ua),
	}
	reads, err := retry.NewRealtimeClient(
		retry.WithHTTPClient(hc),
		retry.WithMaxRetries(retries),
		retry.WithInitialRetryDelay(delay),
		retry.WithMaxRetryDelay(10*delay),
	)
	if err != nil {
		return nil, fmt.Errorf("create retry client: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logutil.New("backend")
	}
	return &Client{
		base:   base,
		http:   hc,
		reads:  reads,
		logger: logger,
		groups: cache.NewTTLMap[string, []AuthGroup](),
	}, nil
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string { return c.base.String() }

// Expand fills the ":id"/":key" placeholder of a path template.
func Expand(tmpl, id string) string {
	idx := strings.LastIndex(tmpl, "/:")
	if idx < 0 {
		return tmpl
	}
	return tmpl[:idx+1] + url.PathEscape(id)
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	prefix := strings.TrimRight(c.base.Path, "/")
	decoded, err := url.PathUnescape(path)
	if err != nil {
		decoded = path
	}
	u.Path = prefix + decoded
	u.RawPath = prefix + path
	u.RawQuery = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// get sends a retried GET and decodes the body into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.reads.Get(ctx, c.endpoint(path, query))
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return c.decode(resp, http.MethodGet, path, out)
}

// send issues a single non-retried request with an optional JSON body.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return c.decode(resp, method, path, out)
}

func (c *Client) decode(resp *http.Response, method, path string, out any) error {
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		he := newHTTPError(method, path, resp.StatusCode, b)
		c.logger.Debug("admin api error", "method", method, "path", path, "status", resp.StatusCode, "message", he.Message)
		return he
	}
	if out == nil || len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// decodeList accepts a bare array or an object with data/items/files.
func decodeList[T any](raw json.RawMessage) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []T{}, nil
	}
	if raw[0] == '[' {
		var out []T
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var env struct {
		Data  json.RawMessage `json:"data"`
		Items json.RawMessage `json:"items"`
		Files json.RawMessage `json:"files"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	for _, candidate := range []json.RawMessage{env.Data, env.Items, env.Files} {
		candidate = bytes.TrimSpace(candidate)
		if len(candidate) > 0 && candidate[0] == '[' {
			var out []T
			if err := json.Unmarshal(candidate, &out); err != nil {
				return nil, err
			}
			return out, nil
		}
	}
	return []T{}, nil
}

// decodeOne accepts the entity itself or {"data": entity}.
func decodeOne[T any](raw json.RawMessage) (T, error) {
	var out T
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return out, nil
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if json.Unmarshal(raw, &env) == nil {
		if d := bytes.TrimSpace(env.Data); len(d) > 0 && d[0] == '{' {
			raw = d
		}
	}
	err := json.Unmarshal(raw, &out)
	return out, err
}

func listOf[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var raw json.RawMessage
	if err := c.get(ctx, path, query, &raw); err != nil {
		return nil, err
	}
	out, err := decodeList[T](raw)
	if err != nil {
		return nil, fmt.Errorf("decode GET %s: %w", path, err)
	}
	return out, nil
}

func sendOne[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var raw json.RawMessage
	if err := c.send(ctx, method, path, nil, body, &raw); err != nil {
		var zero T
		return zero, err
	}
	out, err := decodeOne[T](raw)
	if err != nil {
		return out, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return out, nil
}

// Me returns the identity and permissions of the current token.
func (c *Client) Me(ctx context.Context) (Me, error) {
	var raw json.RawMessage
	if err := c.get(ctx, PathMe, nil, &raw); err != nil {
		return Me{}, err
	}
	return decodeOne[Me](raw)
}

// RoutePattern turns a path template into a chi pattern ("/:id" to "/{id}").
func RoutePattern(tmpl string) string {
	parts := strings.Split(tmpl, "/")
	for i, p := range parts {
		if strings.HasPrefix(p, ":") {
			parts[i] = "{" + p[1:] + "}"
		}
	}
	return strings.Join(parts, "/")
}
