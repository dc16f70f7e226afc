package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpmetest/cli/pkg/interactive"
)

func TestExecuteInteractive_RequestBody(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/interactive/command", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"type":"keyword","keyword":"Go To","status":"PASS"}]`)
	}))

	events, err := NewInteractiveExecutor(c).Execute(context.Background(), interactive.ExecuteRequest{
		SessionToken: "2026-10-16T09:00:00.000Z",
		Command:      "Go To  https://example.com",
		Explanation:  "open the landing page",
		TimeoutMS:    5000,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, "2026-10-16T09:00:00.000Z", body["timestamp"])
	assert.Equal(t, "Go To  https://example.com", body["command"])
	assert.Equal(t, "open the landing page", body["explanation"])
	assert.EqualValues(t, 5000, body["timeout"])
	assert.NotContains(t, body, "debug")
}

func TestEndInteractive_SendsExit(t *testing.T) {
	var req interactive.ExecuteRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, _ = io.WriteString(w, `{"type":"keyword","keyword":"Exit","status":"PASS"}`)
	}))

	events, err := NewInteractiveExecutor(c).EndSession(context.Background(), "tok-1", 8*time.Second)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, "tok-1", req.SessionToken)
	assert.Equal(t, "Exit", req.Command)
	assert.Equal(t, 8000, req.TimeoutMS)
}

func TestEndInteractive_DefaultTimeout(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = io.WriteString(w, `[]`)
	}))

	_, err := c.EndInteractive(context.Background(), "tok-1", 0)
	require.NoError(t, err)
	assert.Equal(t, float64(interactive.DefaultTimeout/time.Millisecond), body["timeout"])
}

func TestOnboardingHint(t *testing.T) {
	builtin := strings.TrimSpace(defaultOnboardingHint)
	require.NotEmpty(t, builtin)

	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		want        string
	}{
		{"plain text", http.StatusOK, "text/plain", "  Report progress often.\n", "Report progress often."},
		{"json text", http.StatusOK, "application/json", `{"text":"Use send_to_ui."}`, "Use send_to_ui."},
		{"json hint", http.StatusOK, "application/json; charset=utf-8", `{"hint":"Keep a task list."}`, "Keep a task list."},
		{"empty body", http.StatusOK, "text/plain", "   ", builtin},
		{"bad json", http.StatusOK, "application/json", `{"text":`, builtin},
		{"not found", http.StatusNotFound, "text/plain", "missing", builtin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/interactive/onboarding", r.URL.Path)
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			assert.Equal(t, tt.want, c.OnboardingHint(context.Background()))
		})
	}
}
