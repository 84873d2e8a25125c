package confluence

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantURL string
		wantErr bool
	}{
		{name: "trailing slash trimmed", baseURL: "https://wiki.example.com/", wantURL: "https://wiki.example.com"},
		{name: "context path kept", baseURL: "https://example.com/confluence", wantURL: "https://example.com/confluence"},
		{name: "empty", baseURL: "  ", wantErr: true},
		{name: "no scheme", baseURL: "wiki.example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.baseURL)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, client.baseURL)
		})
	}
}

func TestClient_Requests(t *testing.T) {
	type call func(ctx context.Context, c *Client) error

	tests := []struct {
		name      string
		call      call
		wantPath  string
		wantQuery map[string]string
	}{
		{
			name: "search",
			call: func(ctx context.Context, c *Client) error {
				_, err := c.Search(ctx, `text ~ "deploy"`, 10, []string{"space", "version"})
				return err
			},
			wantPath:  "/rest/api/content/search",
			wantQuery: map[string]string{"cql": `text ~ "deploy"`, "limit": "10", "expand": "space,version"},
		},
		{
			name: "search clamps limit",
			call: func(ctx context.Context, c *Client) error {
				_, err := c.Search(ctx, "type = page", 500, nil)
				return err
			},
			wantPath:  "/rest/api/content/search",
			wantQuery: map[string]string{"cql": "type = page", "limit": "100", "expand": ""},
		},
		{
			name: "get content",
			call: func(ctx context.Context, c *Client) error {
				_, err := c.GetContent(ctx, "12345", []string{"space", "version", "body.view"})
				return err
			},
			wantPath:  "/rest/api/content/12345",
			wantQuery: map[string]string{"expand": "space,version,body.view"},
		},
		{
			name: "list spaces does not clamp",
			call: func(ctx context.Context, c *Client) error {
				_, err := c.ListSpaces(ctx, 250)
				return err
			},
			wantPath:  "/rest/api/space",
			wantQuery: map[string]string{"limit": "250"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *http.Request
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Clone(context.Background())
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"results":[]}`))
			}))
			defer upstream.Close()

			client, err := NewClient(upstream.URL+"/", WithBearerToken("secret"))
			require.NoError(t, err)

			require.NoError(t, tt.call(context.Background(), client))
			require.NotNil(t, got)

			assert.Equal(t, http.MethodGet, got.Method)
			assert.Equal(t, tt.wantPath, got.URL.Path)
			assert.Equal(t, "application/json", got.Header.Get("Accept"))
			assert.Equal(t, "Bearer secret", got.Header.Get("Authorization"))
			for key, want := range tt.wantQuery {
				assert.Equal(t, want, got.URL.Query().Get(key), key)
			}
		})
	}
}

func TestClient_BasicAuth(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer upstream.Close()

	client, err := NewClient(upstream.URL, WithBasicAuth("alice", "token"))
	require.NoError(t, err)

	body, err := client.ListSpaces(context.Background(), 50)
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":[]}`, string(body))
}

func TestClient_APIError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"No content found with id 99"}`))
	}))
	defer upstream.Close()

	client, err := NewClient(upstream.URL)
	require.NoError(t, err)

	_, err = client.GetContent(context.Background(), "99", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "No content found")
	assert.Contains(t, err.Error(), "404 Not Found")
	assert.Contains(t, err.Error(), "/rest/api/content/99")
}

func TestClient_InvalidJSON(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>login</html>`))
	}))
	defer upstream.Close()

	client, err := NewClient(upstream.URL)
	require.NoError(t, err)

	_, err = client.Search(context.Background(), "type = page", 10, nil)
	assert.Error(t, err)
}

func TestClient_Timeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	client, err := NewClient(upstream.URL, WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	_, err = client.ListSpaces(context.Background(), 1)
	assert.Error(t, err)
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	client, err := NewClient(upstream.URL, WithRateLimit(0.001))
	require.NoError(t, err)

	_, err = client.ListSpaces(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.ListSpaces(ctx, 2)
	assert.Error(t, err)
}

func TestClient_CollapsesConcurrentIdenticalRequests(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer upstream.Close()

	client, err := NewClient(upstream.URL)
	require.NoError(t, err)

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.ListSpaces(context.Background(), 50)
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Less(t, atomic.LoadInt32(&hits), int32(callers))
}

func TestClient_CancelledCallerDoesNotFailSharedRequest(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer upstream.Close()

	client, err := NewClient(upstream.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := client.ListSpaces(ctx, 50)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 1 }, time.Second, 5*time.Millisecond)

	secondErr := make(chan error, 1)
	go func() {
		_, err := client.ListSpaces(context.Background(), 50)
		secondErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting on the shared request")
	}

	close(release)
	select {
	case err := <-secondErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second caller never received the shared response")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestWithHTTPClient_DoesNotMutateCaller(t *testing.T) {
	hc := &http.Client{}

	client, err := NewClient("https://wiki.example.com", WithHTTPClient(hc), WithTimeout(5*time.Second))
	require.NoError(t, err)

	assert.Zero(t, hc.Timeout)
	assert.Equal(t, 5*time.Second, client.httpClient.Timeout)
}
