package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/syncrail/syncrail/internal/config"
	"github.com/syncrail/syncrail/internal/core"
	"github.com/syncrail/syncrail/internal/core/engine"
	"github.com/syncrail/syncrail/internal/errors"
)

type memoryRateStore struct {
	mu     sync.Mutex
	states map[string]*core.RateLimitState
}

func (s *memoryRateStore) GetRateLimit(_ context.Context, endpoint string) (*core.RateLimitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[endpoint], nil
}

func (s *memoryRateStore) UpdateRateLimit(_ context.Context, endpoint string, state *core.RateLimitState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = make(map[string]*core.RateLimitState)
	}
	s.states[endpoint] = state
	return nil
}

func sessionsClient(server *httptest.Server) *Client {
	return &Client{
		BaseURL: server.URL,
		Collection: config.CollectionConfig{
			Name:   "sessions",
			Path:   "/v2/sessions",
			Params: map[string]string{"filter[campus_id]": "26"},
		},
		HTTPClient:     server.Client(),
		RetryBaseDelay: time.Millisecond,
	}
}

func TestClientFetchPage(t *testing.T) {
	var gotPage, gotPerPage, gotFilter string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPage = r.URL.Query().Get("page")
		gotPerPage = r.URL.Query().Get("per_page")
		gotFilter = r.URL.Query().Get("filter[campus_id]")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"name":"alpha"},{"id":2,"name":"beta"}]`))
	}))
	defer server.Close()

	page, err := sessionsClient(server).FetchPage(context.Background(), "", 2)
	require.NoError(t, err)
	require.Equal(t, "1", gotPage)
	require.Equal(t, "2", gotPerPage)
	require.Equal(t, "26", gotFilter)

	require.Len(t, page.Records, 2)
	require.Equal(t, "sessions:1", page.Records[0].Key)
	require.Equal(t, "alpha", page.Records[0].Payload["name"])
	require.Equal(t, "2", page.NextCursor)
}

func TestClientFetchPageLastPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":3}]`))
	}))
	defer server.Close()

	page, err := sessionsClient(server).FetchPage(context.Background(), "2", 100)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.Equal(t, "sessions:3", page.Records[0].Key)
	require.Empty(t, page.NextCursor)
}

func TestClientFetchPageBadCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for a bad cursor")
	}))
	defer server.Close()

	_, err := sessionsClient(server).FetchPage(context.Background(), "not-a-page", 100)
	require.Error(t, err)
	require.True(t, errors.IsPermanent(err))
}

func TestClientRetriesServerError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	page, err := sessionsClient(server).FetchPage(context.Background(), "", 100)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Empty(t, page.Records)
}

func TestClientPermanentNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"unknown collection"}`))
	}))
	defer server.Close()

	_, err := sessionsClient(server).FetchPage(context.Background(), "", 100)
	require.Error(t, err)
	require.True(t, errors.IsPermanent(err))
	require.Equal(t, 1, calls)
	require.Contains(t, err.Error(), "unknown collection")
}

func TestClientThrottleRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[{"id":9}]`))
	}))
	defer server.Close()

	limiter := &engine.RateLimiter{Budget: engine.Budget{Cooldown: 5 * time.Millisecond}}
	client := sessionsClient(server)
	client.Limiter = limiter

	page, err := client.FetchPage(context.Background(), "", 100)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Len(t, page.Records, 1)
}

func TestClientObservedHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "1200")
		w.Header().Set("X-RateLimit-Remaining", "7")
		w.Header().Set("X-RateLimit-Reset", "1756100000")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	store := &memoryRateStore{}
	limiter := &engine.RateLimiter{Endpoint: "api.example.com", Store: store}
	client := sessionsClient(server)
	client.Limiter = limiter

	_, err := client.FetchPage(context.Background(), "", 100)
	require.NoError(t, err)

	state, err := store.GetRateLimit(context.Background(), "api.example.com")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, 1200, state.DeclaredLimit)
	require.Equal(t, 7, state.Remaining)
	require.NotNil(t, state.ResetAt)
	require.EqualValues(t, 1756100000, state.ResetAt.Unix())
}

func TestClientAuthHeader(t *testing.T) {
	var gotAuth, gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := sessionsClient(server)
	client.Tokens = StaticToken("sekrit")
	client.UserAgent = "syncrail/test"

	_, err := client.FetchPage(context.Background(), "", 100)
	require.NoError(t, err)
	require.Equal(t, "Bearer sekrit", gotAuth)
	require.Equal(t, "syncrail/test", gotAgent)
}

func TestClientFetchDetail(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"skills":["ml","go"],"difficulty":4200}`))
	}))
	defer server.Close()

	client := sessionsClient(server)
	client.Collection.DetailPath = "/v2/sessions/{key}/details"

	record := core.Record{
		Key:     "sessions:42",
		Payload: map[string]any{"id": 42, "name": "alpha"},
	}
	enriched, err := client.FetchDetail(context.Background(), record)
	require.NoError(t, err)
	require.Equal(t, "/v2/sessions/42/details", gotPath)
	require.Equal(t, "sessions:42", enriched.Key)
	require.Equal(t, "alpha", enriched.Payload["name"])
	require.NotNil(t, enriched.Payload["skills"])
}

func TestClientFetchDetailNoPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without a detail path")
	}))
	defer server.Close()

	record := core.Record{Key: "sessions:1", Payload: map[string]any{"id": 1}}
	same, err := sessionsClient(server).FetchDetail(context.Background(), record)
	require.NoError(t, err)
	require.Equal(t, record, same)
}

func TestRetryAfterHint(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	require.Zero(t, retryAfterHint(resp))

	resp.Header.Set("Retry-After", "30")
	require.Equal(t, 30*time.Second, retryAfterHint(resp))

	resp.Header.Set("Retry-After", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
	hint := retryAfterHint(resp)
	require.Greater(t, hint, 59*time.Minute)
}

func TestIDString(t *testing.T) {
	require.Equal(t, "42", idString(42))
	require.Equal(t, "42", idString(int64(42)))
	require.Equal(t, "42", idString(float64(42)))
	require.Equal(t, "4.5", idString(4.5))
	require.Equal(t, "abc", idString(" abc "))
	require.Empty(t, idString(nil))
	require.Empty(t, idString(""))
}
