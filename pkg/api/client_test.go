package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hmterrors "github.com/helpmetest/cli/pkg/errors"
	"github.com/helpmetest/cli/pkg/interactive"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL, Token: "secret-token", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNew_NormalizesURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"helpmetest.com", "https://helpmetest.com"},
		{"https://helpmetest.com/", "https://helpmetest.com"},
		{"http://localhost:3000", "http://localhost:3000"},
		{"https://example.com/base/", "https://example.com/base"},
	}
	for _, tt := range tests {
		c, err := New(Options{BaseURL: tt.in})
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, c.BaseURL(), tt.in)
	}

	_, err := New(Options{BaseURL: ""})
	assert.Error(t, err)
}

func TestAPIURL(t *testing.T) {
	c, err := New(Options{BaseURL: "https://example.com/base"})
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/base/api/tests", c.apiURL("/tests"))
	assert.Equal(t, "https://example.com/base/api/deployments?limit=5", c.apiURL("/deployments?limit=5"))
}

func TestClient_RequestHeaders(t *testing.T) {
	var got http.Header
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[]`)
	}))

	_, err := c.ListTests(context.Background(), ListTestsOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-token", got.Get("Authorization"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.NotEmpty(t, got.Get("X-Request-ID"))
	assert.True(t, strings.HasPrefix(got.Get("User-Agent"), "helpmetest-cli"))
}

func TestClient_Unauthorized(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid token","code":"AUTH_INVALID"}`)
	}))

	_, err := c.ListHealthChecks(context.Background())
	require.Error(t, err)
	assert.True(t, hmterrors.IsCode(err, hmterrors.ErrCodeAPIUnauthorized))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid token (AUTH_INVALID)", apiErr.Body)
	assert.Contains(t, hmterrors.Format(err), "HELPMETEST_API_TOKEN")
}

func TestClient_ServerErrorIsRetryable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))

	_, err := c.GetTest(context.Background(), "t1")
	require.Error(t, err)
	assert.True(t, hmterrors.IsCode(err, hmterrors.ErrCodeAPIRequest))
	assert.True(t, hmterrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "upstream down")
}

func TestClient_DecodeError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{not json`)
	}))

	_, err := c.GetHealthCheck(context.Background(), "db")
	assert.True(t, hmterrors.IsCode(err, hmterrors.ErrCodeAPIDecode))
}

func TestIdentity_MemoizedAndCoalesced(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/user", r.URL.Path)
		calls.Add(1)
		<-release
		_, _ = io.WriteString(w, `{"id":"u1","email":"dev@acme.test","companyId":"acme"}`)
	}))

	var wg sync.WaitGroup
	results := make([]Identity, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := c.Identity(context.Background())
			assert.NoError(t, err)
			results[i] = id
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, id := range results {
		assert.Equal(t, "acme", id.TenantID)
		assert.Equal(t, c.BaseURL(), id.DashboardURL)
	}

	_, err := c.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestIdentity_FailureNotCached(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"tenantId":"acme","dashboardUrl":"https://acme.helpmetest.com/"}`)
	}))

	_, err := c.Identity(context.Background())
	require.Error(t, err)

	id, err := c.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Identity{TenantID: "acme", DashboardURL: "https://acme.helpmetest.com"}, id)

	adapted, err := c.InteractiveIdentity().Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, interactive.Identity{TenantID: "acme", DashboardURL: "https://acme.helpmetest.com"}, adapted)
}

func TestIdentity_MissingTenant(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"u1"}`)
	}))

	_, err := c.Identity(context.Background())
	assert.True(t, hmterrors.IsCode(err, hmterrors.ErrCodeAPIDecode))
}

func TestResources(t *testing.T) {
	type seen struct {
		method, path, query string
		body                map[string]any
	}
	var mu sync.Mutex
	var requests []seen

	mux := http.NewServeMux()
	record := func(r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		requests = append(requests, seen{r.Method, r.URL.Path, r.URL.RawQuery, body})
		mu.Unlock()
	}
	mux.HandleFunc("GET /api/healthchecks", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = io.WriteString(w, `[{"name":"db","status":"up","gracePeriod":"5m"},{"name":"cron","status":"down"}]`)
	})
	mux.HandleFunc("POST /api/healthcheck/{name}/{grace}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/tests", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = io.WriteString(w, `[{"id":"t1","name":"Login","tags":["smoke"]}]`)
	})
	mux.HandleFunc("POST /api/tests", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = io.WriteString(w, `{"id":"t2","name":"Checkout"}`)
	})
	mux.HandleFunc("PUT /api/tests/{id}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = io.WriteString(w, `{"id":"`+r.PathValue("id")+`","name":"Checkout v2"}`)
	})
	mux.HandleFunc("GET /api/deployments", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = io.WriteString(w, `[{"id":"d1","app":"web","version":"1.2.3"}]`)
	})
	mux.HandleFunc("POST /api/deployments", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = io.WriteString(w, `{"id":"d2","app":"web"}`)
	})
	mux.HandleFunc("GET /api/artifacts", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = io.WriteString(w, `[{"id":"a1","kind":"screenshot","name":"step-1.png","url":"https://cdn/a1"}]`)
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	checks, err := c.ListHealthChecks(ctx)
	require.NoError(t, err)
	require.Len(t, checks, 2)
	assert.True(t, checks[0].Healthy())
	assert.False(t, checks[1].Healthy())

	require.NoError(t, c.ReportHeartbeat(ctx, "db", "5m", map[string]any{"host": "web-1"}))

	tests, err := c.ListTests(ctx, ListTestsOptions{Tag: "smoke"})
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, []string{"smoke"}, tests[0].Tags)

	created, err := c.CreateTest(ctx, TestInput{Name: "Checkout", Content: "Go To  /cart"})
	require.NoError(t, err)
	assert.Equal(t, "t2", created.ID)

	updated, err := c.UpdateTest(ctx, "t2", TestInput{Name: "Checkout v2"})
	require.NoError(t, err)
	assert.Equal(t, "Checkout v2", updated.Name)

	deps, err := c.ListDeployments(ctx, 5)
	require.NoError(t, err)
	require.Len(t, deps, 1)

	dep, err := c.CreateDeployment(ctx, DeploymentInput{App: "web", Version: "1.2.4"})
	require.NoError(t, err)
	assert.Equal(t, "d2", dep.ID)

	arts, err := c.ListArtifacts(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, arts, 1)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, requests, 8)
	assert.Equal(t, "/api/healthcheck/db/5m", requests[1].path)
	assert.Equal(t, "web-1", requests[1].body["host"])
	assert.Equal(t, "tag=smoke", requests[2].query)
	assert.Equal(t, "Go To  /cart", requests[3].body["content"])
	assert.Equal(t, "limit=5", requests[5].query)
	assert.Equal(t, "testId=t1", requests[7].query)
}

func TestResources_Validation(t *testing.T) {
	c, err := New(Options{BaseURL: "https://example.invalid"})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.GetTest(ctx, " ")
	assert.True(t, hmterrors.IsCode(err, hmterrors.ErrCodeInvalidInput))
	_, err = c.CreateTest(ctx, TestInput{})
	assert.True(t, hmterrors.IsCode(err, hmterrors.ErrCodeInvalidInput))
	_, err = c.CreateDeployment(ctx, DeploymentInput{})
	assert.True(t, hmterrors.IsCode(err, hmterrors.ErrCodeInvalidInput))
	err = c.ReportHeartbeat(ctx, "db", "", nil)
	assert.True(t, hmterrors.IsCode(err, hmterrors.ErrCodeInvalidInput))
}

func TestClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL, RateLimit: 1, Burst: 1})
	require.NoError(t, err)

	_, err = c.ListTests(context.Background(), ListTestsOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.ListTests(ctx, ListTestsOptions{})
	assert.Error(t, err, "second request must wait for the limiter and hit the deadline")
}
