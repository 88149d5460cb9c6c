// Package source implements the upstream API client: paginated collection
// listings, per-record detail fetches, and bearer-token credentials.
//
// Every outbound attempt passes through the rate limiter before it is sent,
// and every response feeds observed budget headers back into the limiter.
// Callers never see quota rejections, only delay.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/syncrail/syncrail/internal/config"
	"github.com/syncrail/syncrail/internal/core"
	"github.com/syncrail/syncrail/internal/core/engine"
	"github.com/syncrail/syncrail/internal/errors"
)

const (
	defaultPerPage    = 100
	defaultMaxRetries = 3
	defaultRetryBase  = 500 * time.Millisecond
	defaultRetryMax   = 60 * time.Second
	defaultTimeout    = 30 * time.Second
	defaultKeyField   = "id"
)

// Client fetches one collection from the upstream REST API.
//
// Listings are page-numbered: the cursor handed back in core.Page is the next
// page number, and an upstream page shorter than per_page ends the walk.
// Transient failures and throttle responses are retried in place, so a
// returned error is either permanent or the context giving up.
type Client struct {
	BaseURL    string
	Collection config.CollectionConfig
	HTTPClient *http.Client
	Tokens     TokenProvider
	Limiter    *engine.RateLimiter
	UserAgent  string

	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	Logger *zap.Logger
}

// FetchPage retrieves one listing page. An empty cursor starts at page one;
// the returned cursor is empty once the collection is exhausted.
func (c *Client) FetchPage(ctx context.Context, cursor string, perPage int) (*core.Page, error) {
	if c == nil {
		return nil, fmt.Errorf("source client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	page := 1
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil || parsed < 1 {
			return nil, &errors.PermanentError{Op: c.op("fetch"), Err: fmt.Errorf("bad page cursor %q", cursor)}
		}
		page = parsed
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	}

	rawURL, err := c.pageURL(page, perPage)
	if err != nil {
		return nil, err
	}

	body, err := c.getJSON(ctx, c.op("fetch"), rawURL)
	if err != nil {
		return nil, err
	}

	rows, err := decodeList(body)
	if err != nil {
		return nil, &errors.PermanentError{Op: c.op("fetch"), Err: fmt.Errorf("decode listing page %d: %w", page, err)}
	}

	out := &core.Page{Records: make([]core.Record, 0, len(rows))}
	for _, row := range rows {
		out.Records = append(out.Records, core.Record{Key: c.recordKey(row), Payload: row})
	}
	if len(rows) >= perPage {
		out.NextCursor = strconv.Itoa(page + 1)
	}
	return out, nil
}

// FetchDetail enriches one record from the collection's detail endpoint.
// Detail fields overlay the listing payload; collections without a detail
// path return the record unchanged.
func (c *Client) FetchDetail(ctx context.Context, record core.Record) (core.Record, error) {
	if c == nil {
		return record, fmt.Errorf("source client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	path := strings.TrimSpace(c.Collection.DetailPath)
	if path == "" {
		return record, nil
	}

	id := idString(record.Payload[c.keyField()])
	if id == "" {
		return record, &errors.PermanentError{
			Op:  c.op("detail"),
			Err: fmt.Errorf("record %q has no %s field", record.Key, c.keyField()),
		}
	}

	rawURL, err := c.detailURL(path, id)
	if err != nil {
		return record, err
	}

	body, err := c.getJSON(ctx, c.op("detail"), rawURL)
	if err != nil {
		return record, err
	}

	detail, err := decodeObject(body)
	if err != nil {
		return record, &errors.PermanentError{Op: c.op("detail"), Err: fmt.Errorf("decode detail for %s: %w", id, err)}
	}

	merged := make(map[string]any, len(record.Payload)+len(detail))
	for k, v := range record.Payload {
		merged[k] = v
	}
	for k, v := range detail {
		merged[k] = v
	}
	return core.Record{Key: record.Key, Payload: merged}, nil
}

// getJSON performs one GET with the client's retry budget. Permanent
// classifications stop the retries immediately.
func (c *Client) getJSON(ctx context.Context, op, rawURL string) ([]byte, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryBaseDelay()
	eb.MaxInterval = c.retryMaxDelay()
	eb.MaxElapsedTime = 0
	bkoff := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.maxRetries())), ctx)

	var body []byte
	operation := func() error {
		b, err := c.attempt(ctx, op, rawURL)
		if err != nil {
			if errors.IsPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger().Warn("request failed, retrying",
			zap.String("op", op),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, bkoff, notify); err != nil {
		return nil, err
	}
	return body, nil
}

// attempt sends one request through the limiter and classifies the outcome.
func (c *Client) attempt(ctx context.Context, op, rawURL string) ([]byte, error) {
	if err := c.Limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &errors.PermanentError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if c.Tokens != nil {
		token, err := c.Tokens.Token(ctx)
		if err != nil {
			return nil, errors.FromNetwork(op, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.FromNetwork(op, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	c.observe(ctx, resp)

	if resp.StatusCode == http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.FromNetwork(op, err)
		}
		return body, nil
	}

	var retryAfter time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter = retryAfterHint(resp)
		_ = c.Limiter.ReportThrottle(ctx, retryAfter)
	}
	return nil, errors.FromStatus(op, resp.StatusCode, retryAfter, bodyError(resp))
}

// observe feeds rate-limit response headers back into the limiter.
func (c *Client) observe(ctx context.Context, resp *http.Response) {
	if c.Limiter == nil || resp == nil {
		return
	}

	limit, limitErr := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))
	remaining, remErr := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	var reset time.Time
	if epoch, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil && epoch > 0 {
		reset = time.Unix(epoch, 0).UTC()
	}

	switch {
	case remErr == nil:
		if limitErr != nil {
			limit = 0
		}
		_ = c.Limiter.ReportObserved(ctx, limit, remaining, reset)
	case limitErr == nil && limit > 0:
		_ = c.Limiter.ReportServerLimit(ctx, limit)
	}
}

func (c *Client) pageURL(page, perPage int) (string, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil || base.Host == "" {
		return "", fmt.Errorf("bad source base url %q", c.BaseURL)
	}

	u := base.JoinPath(c.Collection.Path)
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	for k, v := range c.Collection.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) detailURL(path, id string) (string, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil || base.Host == "" {
		return "", fmt.Errorf("bad source base url %q", c.BaseURL)
	}
	return base.JoinPath(strings.ReplaceAll(path, "{key}", url.PathEscape(id))).String(), nil
}

// recordKey derives the stable identity "{collection}:{id}". Rows missing the
// key field yield an empty key and are dropped by the caller.
func (c *Client) recordKey(row map[string]any) string {
	id := idString(row[c.keyField()])
	if id == "" {
		return ""
	}
	return c.Collection.Name + ":" + id
}

func (c *Client) keyField() string {
	if f := strings.TrimSpace(c.Collection.KeyField); f != "" {
		return f
	}
	return defaultKeyField
}

func (c *Client) op(verb string) string {
	if c.Collection.Name == "" {
		return verb
	}
	return verb + " " + c.Collection.Name
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func (c *Client) maxRetries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return defaultMaxRetries
}

func (c *Client) retryBaseDelay() time.Duration {
	if c.RetryBaseDelay > 0 {
		return c.RetryBaseDelay
	}
	return defaultRetryBase
}

func (c *Client) retryMaxDelay() time.Duration {
	if c.RetryMaxDelay > 0 {
		return c.RetryMaxDelay
	}
	return defaultRetryMax
}

func (c *Client) logger() *zap.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

// retryAfterHint parses a Retry-After header, given either as delay seconds
// or as an HTTP date.
func retryAfterHint(resp *http.Response) time.Duration {
	if resp == nil || resp.Header == nil {
		return 0
	}

	retry := resp.Header.Get("Retry-After")
	if retry == "" {
		return 0
	}

	if seconds, err := time.ParseDuration(retry + "s"); err == nil && seconds > 0 {
		return seconds
	}
	if parsed, err := http.ParseTime(retry); err == nil {
		if d := time.Until(parsed); d > 0 {
			return d
		}
	}
	return 0
}

// bodyError captures a short slice of an error response body for diagnostics.
func bodyError(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := strings.TrimSpace(string(b))
	if text == "" {
		return nil
	}
	return fmt.Errorf("%s", text)
}

// decodeList parses a listing response. Numbers stay json.Number so record
// ids survive without float mangling.
func decodeList(body []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}
	return row, nil
}

// idString renders a key-field value as a stable string.
func idString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case json.Number:
		return value.String()
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	default:
		return fmt.Sprintf("%v", value)
	}
}
