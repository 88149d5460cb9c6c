package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/syncrail/syncrail/internal/core"
	"github.com/syncrail/syncrail/internal/errors"
)

const defaultSinkTimeout = 30 * time.Second

// HTTP pushes chunks to a JSON batch-upsert endpoint.
//
// Each batch is POSTed to {URL}/tables/{table}/rows/batch as {"rows": [...]}.
// The endpoint answers with a per-row result array; rows carrying an error
// entry failed, rows it stays silent about succeeded. An empty response body
// means the whole batch was accepted.
type HTTP struct {
	URL        string
	APIKey     string
	Table      string
	HTTPClient *http.Client
}

type httpRow struct {
	Key       string         `json:"key"`
	Operation core.Operation `json:"operation"`
	Fields    map[string]any `json:"fields"`
}

type httpRowResult struct {
	Key    string `json:"key"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Apply sends one chunk downstream and maps the per-row results back onto
// the items.
func (s *HTTP) Apply(ctx context.Context, items []core.WorkItem) (*core.BatchResult, error) {
	if s == nil || s.URL == "" {
		return nil, &errors.PermanentError{Op: "sink", Err: errors.New("http sink is not configured")}
	}
	if len(items) == 0 {
		return &core.BatchResult{}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows := make([]httpRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, httpRow{Key: item.Key, Operation: item.Operation, Fields: item.Payload})
	}
	body, err := json.Marshal(map[string]any{"rows": rows})
	if err != nil {
		return nil, &errors.PermanentError{Op: "sink", Err: fmt.Errorf("encode batch: %w", err)}
	}

	endpoint, err := s.batchURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &errors.PermanentError{Op: "sink", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.httpClient().Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.FromNetwork("sink", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusMultiStatus:
	default:
		var retryAfter time.Duration
		if resp.StatusCode == http.StatusTooManyRequests {
			if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, errors.FromStatus("sink", resp.StatusCode, retryAfter, sinkBodyError(resp.Body))
	}

	var decoded struct {
		Results []httpRowResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		if errors.Is(err, io.EOF) {
			return allSucceeded(items), nil
		}
		return nil, &errors.TransientError{Op: "sink", Err: fmt.Errorf("decode batch response: %w", err)}
	}

	failed := make(map[string]httpRowResult)
	for _, res := range decoded.Results {
		if res.Error != "" {
			failed[res.Key] = res
		}
	}

	out := &core.BatchResult{Failed: make(map[string]error)}
	for _, item := range items {
		res, bad := failed[item.Key]
		if !bad {
			out.Succeeded = append(out.Succeeded, item.Key)
			continue
		}
		out.Failed[item.Key] = rowError(res)
	}
	return out, nil
}

func (s *HTTP) batchURL() (string, error) {
	base, err := url.Parse(s.URL)
	if err != nil || base.Host == "" {
		return "", &errors.PermanentError{Op: "sink", Err: fmt.Errorf("bad sink url %q", s.URL)}
	}
	table := s.Table
	if table == "" {
		return "", &errors.PermanentError{Op: "sink", Err: errors.New("sink table is required")}
	}
	return base.JoinPath("tables", table, "rows", "batch").String(), nil
}

func (s *HTTP) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: defaultSinkTimeout}
}

// rowError classifies one rejected row. Rows refused with a 4xx status stay
// failed; everything else is worth re-sending.
func rowError(res httpRowResult) error {
	err := fmt.Errorf("%s", res.Error)
	if res.Status >= 400 {
		return errors.FromStatus("sink", res.Status, 0, err)
	}
	return &errors.TransientError{Op: "sink", Err: err}
}

func sinkBodyError(body io.Reader) error {
	b, _ := io.ReadAll(io.LimitReader(body, 512))
	text := string(bytes.TrimSpace(b))
	if text == "" {
		return nil
	}
	return fmt.Errorf("%s", text)
}
