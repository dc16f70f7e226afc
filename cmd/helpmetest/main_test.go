package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hmterrors "github.com/helpmetest/cli/pkg/errors"
	"github.com/helpmetest/cli/pkg/storage"
)

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), exitFailure},
		{"usage", usageError("bad flag"), exitUsage},
		{"auth", hmterrors.New(hmterrors.ErrCodeAPIUnauthorized, "nope"), exitAuth},
		{"config", hmterrors.New(hmterrors.ErrCodeConfigInvalid, "no token"), exitConfig},
		{"explicit", withExitCode(errors.New("test failed"), exitTestFailed), exitTestFailed},
		{"wrapped explicit", fmt.Errorf("run: %w", withExitCode(errors.New("x"), exitAuth)), exitAuth},
		{"zero code", exitError{err: errors.New("x")}, exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeForError(tt.err))
		})
	}
}

func TestWithExitCode_Nil(t *testing.T) {
	assert.NoError(t, withExitCode(nil, exitAuth))
}

type recordedRequest struct {
	method string
	path   string
	body   string
}

type cliAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (c *cliAPI) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, recordedRequest{method: r.Method, path: r.URL.Path, body: string(body)})
}

func (c *cliAPI) last() recordedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return recordedRequest{}
	}
	return c.requests[len(c.requests)-1]
}

func (c *cliAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/user", func(w http.ResponseWriter, r *http.Request) {
		c.record(r)
		_, _ = io.WriteString(w, `{"tenantId":"acme","email":"dev@acme.test","dashboardUrl":"https://app.helpmetest.test"}`)
	})
	mux.HandleFunc("GET /api/healthchecks", func(w http.ResponseWriter, r *http.Request) {
		c.record(r)
		_, _ = io.WriteString(w, `[{"name":"db","status":"up","gracePeriod":"5m"},{"name":"nightly-backup","status":"down","gracePeriod":"25h"}]`)
	})
	mux.HandleFunc("POST /api/healthcheck/{name}/{grace}", func(w http.ResponseWriter, r *http.Request) {
		c.record(r)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/tests", func(w http.ResponseWriter, r *http.Request) {
		c.record(r)
		_, _ = io.WriteString(w, `[{"id":"t1","name":"Login","tags":["smoke"],"lastRun":{"status":"PASS"}},{"id":"t2","name":"Checkout","lastRun":{"status":"FAIL"}}]`)
	})
	mux.HandleFunc("POST /api/tests/{id}/run", func(w http.ResponseWriter, r *http.Request) {
		c.record(r)
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"type":"keyword","keyword":"Go To","args":["https://example.com"],"status":"PASS"}`+"\n")
		if r.PathValue("id") == "t2" {
			_, _ = io.WriteString(w, `{"type":"keyword","keyword":"Click","args":["#buy"],"status":"FAIL"}`+"\n")
		}
	})
	mux.HandleFunc("GET /api/deployments", func(w http.ResponseWriter, r *http.Request) {
		c.record(r)
		_, _ = io.WriteString(w, `[{"id":"d1","app":"shop","environment":"production","version":"v1.2.0","createdAt":"2026-01-02T10:00:00Z"}]`)
	})
	mux.HandleFunc("POST /api/deployments", func(w http.ResponseWriter, r *http.Request) {
		c.record(r)
		_, _ = io.WriteString(w, `{"id":"d2","app":"shop"}`)
	})
	return mux
}

// isolate points config at an empty home directory so the developer's own
// config never leaks into a test.
func isolate(t *testing.T, apiURL, token string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("HELPMETEST_API_URL", apiURL)
	t.Setenv("HELPMETEST_API_TOKEN", token)
	t.Setenv("HELPMETEST_HISTORY_DB", "off")
	t.Setenv("HELPMETEST_LOG_FILE", "")
	t.Setenv("HELPMETEST_UI_TRANSPORT", "")
	t.Setenv("HELPMETEST_DEBUG", "")
	return home
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func newCLIServer(t *testing.T) (*cliAPI, *httptest.Server) {
	t.Helper()
	fake := &cliAPI{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return fake, srv
}

func TestRun_Version(t *testing.T) {
	isolate(t, "https://helpmetest.com", "")
	code, stdout, _ := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "helpmetest "+version)
}

func TestRun_MissingToken(t *testing.T) {
	isolate(t, "https://helpmetest.com", "")
	code, _, stderr := runCLI(t, "health")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "No helpmetest API token is configured.")
	assert.Contains(t, stderr, "HELPMETEST_API_TOKEN")
}

func TestRun_UnknownFlag(t *testing.T) {
	isolate(t, "https://helpmetest.com", "tok")
	code, _, stderr := runCLI(t, "health", "--bogus")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "bogus")
}

func TestRun_HealthList(t *testing.T) {
	_, srv := newCLIServer(t)
	isolate(t, srv.URL, "tok")

	code, stdout, stderr := runCLI(t, "health")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "db")
	assert.Contains(t, stdout, "nightly-backup")
	assert.Contains(t, stdout, "DOWN")
	assert.Contains(t, stdout, "never")
}

func TestRun_HealthHeartbeat(t *testing.T) {
	fake, srv := newCLIServer(t)
	isolate(t, srv.URL, "tok")

	code, stdout, stderr := runCLI(t, "health", "nightly-backup", "25h", "--data", "rows=1200", "--data", "region=eu")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "heartbeat sent for nightly-backup")

	req := fake.last()
	assert.Equal(t, "/api/healthcheck/nightly-backup/25h", req.path)
	assert.JSONEq(t, `{"rows":1200,"region":"eu"}`, req.body)
}

func TestRun_HealthArgs(t *testing.T) {
	isolate(t, "https://helpmetest.com", "tok")
	code, _, _ := runCLI(t, "health", "only-a-name")
	assert.Equal(t, exitUsage, code)
}

func TestRun_TestList(t *testing.T) {
	_, srv := newCLIServer(t)
	isolate(t, srv.URL, "tok")

	code, stdout, stderr := runCLI(t, "test", "list")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Login")
	assert.Contains(t, stdout, "smoke")
	assert.Contains(t, stdout, "FAIL")
}

func TestRun_TestRunPasses(t *testing.T) {
	_, srv := newCLIServer(t)
	isolate(t, srv.URL, "tok")

	code, stdout, stderr := runCLI(t, "test", "run", "t1")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Go To")
	assert.Contains(t, stdout, "test t1 passed")
}

func TestRun_TestRunFails(t *testing.T) {
	_, srv := newCLIServer(t)
	isolate(t, srv.URL, "tok")

	code, stdout, stderr := runCLI(t, "test", "run", "t2")
	assert.Equal(t, exitTestFailed, code)
	assert.Contains(t, stdout, "Click")
	assert.Contains(t, stderr, "test t2 failed")
}

func TestRun_Status(t *testing.T) {
	_, srv := newCLIServer(t)
	isolate(t, srv.URL, "tok")

	code, stdout, stderr := runCLI(t, "status")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Account: acme (dev@acme.test)")
	assert.Contains(t, stdout, "Tests (2, 1 failing)")
	assert.Contains(t, stdout, "Checkout")
	assert.Contains(t, stdout, "shop")
}

func TestRun_Deployments(t *testing.T) {
	fake, srv := newCLIServer(t)
	isolate(t, srv.URL, "tok")

	code, stdout, stderr := runCLI(t, "deployments", "list", "--limit", "3")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "v1.2.0")

	code, stdout, stderr = runCLI(t, "deployments", "create", "shop", "--env", "staging", "--version", "abc123")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "deployment d2 recorded for shop")
	assert.JSONEq(t, `{"app":"shop","environment":"staging","version":"abc123"}`, fake.last().body)
}

func TestRun_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid token"}`)
	}))
	t.Cleanup(srv.Close)
	isolate(t, srv.URL, "bad")

	code, _, stderr := runCLI(t, "test", "list")
	assert.Equal(t, exitAuth, code)
	assert.Contains(t, stderr, "Error:")
	assert.Contains(t, stderr, "HELPMETEST_API_TOKEN")
}

func TestRun_ConfigShowRedactsToken(t *testing.T) {
	isolate(t, "https://helpmetest.com", "hmt_supersecrettoken")

	code, stdout, stderr := runCLI(t, "config", "show")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "url: https://helpmetest.com")
	assert.Contains(t, stdout, "hmt_****")
	assert.NotContains(t, stdout, "supersecret")
}

func TestRun_ConfigPath(t *testing.T) {
	home := isolate(t, "https://helpmetest.com", "")
	code, stdout, _ := runCLI(t, "config", "path")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, filepath.Join(home, ".helpmetest", "config.yaml")+" (missing)")
}

func TestRun_InteractiveHistory(t *testing.T) {
	isolate(t, "https://helpmetest.com", "")
	dbPath := filepath.Join(t.TempDir(), "history.db")
	t.Setenv("HELPMETEST_HISTORY_DB", dbPath)

	store, err := storage.New(dbPath)
	require.NoError(t, err)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordSession(ctx, storage.SessionRecord{
		Token:     "acme__ses_1",
		TenantID:  "acme",
		Room:      "acme__ses_1",
		Origin:    "minted",
		StartedAt: started,
	}))
	_, err = store.RecordCommand(ctx, storage.CommandRecord{
		SessionToken: "acme__ses_1",
		MessageID:    "m1",
		Command:      "Go To  https://example.com",
		Success:      true,
		Elapsed:      1500 * time.Millisecond,
		CreatedAt:    started.Add(time.Second),
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	code, stdout, stderr := runCLI(t, "interactive", "history")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "acme__ses_1")
	assert.Contains(t, stdout, "minted")

	code, stdout, stderr = runCLI(t, "interactive", "history", "--session", "acme__ses_1")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Go To")
	assert.Contains(t, stdout, "1.5s")
}

func TestParseData(t *testing.T) {
	got, err := parseData([]string{"rows=12", "ratio=0.5", "ok=true", "host = web-1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rows": int64(12), "ratio": 0.5, "ok": true, "host": "web-1"}, got)

	got, err = parseData(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseData([]string{"novalue"})
	require.Error(t, err)
	assert.True(t, hmterrors.IsCode(err, hmterrors.ErrCodeInvalidInput))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "", redact(""))
	assert.Equal(t, "****", redact("short"))
	assert.Equal(t, "hmt_****", redact("hmt_abcdefghijk"))
}
