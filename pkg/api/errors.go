package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	hmterrors "github.com/helpmetest/cli/pkg/errors"
)

const maxErrorBodyBytes int64 = 64 << 10

const authHint = "set HELPMETEST_API_TOKEN or pass the token to `helpmetest mcp <token>`"

// APIError is a non-2xx response.
type APIError struct {
	Method string
	Route  string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s failed (%d %s)", e.Method, e.Route, e.Status, http.StatusText(e.Status))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unauthorized reports whether the token was rejected.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// errorEnvelope is the JSON error body the API returns.
type errorEnvelope struct {
	Error       string   `json:"error"`
	Message     string   `json:"message"`
	Code        string   `json:"code,omitempty"`
	Remediation []string `json:"remediation,omitempty"`
	Retryable   bool     `json:"retryable,omitempty"`
}

func readBodyLimited(r io.Reader, maxBytes int64) []byte {
	if r == nil || maxBytes <= 0 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(r, maxBytes))
	return data
}

func formatErrorBody(data []byte) string {
	if len(bytes.TrimSpace(data)) == 0 {
		return ""
	}
	var payload errorEnvelope
	if err := json.Unmarshal(data, &payload); err == nil {
		msg := strings.TrimSpace(payload.Message)
		if msg == "" {
			msg = strings.TrimSpace(payload.Error)
		}
		if msg != "" {
			out := msg
			if code := strings.TrimSpace(payload.Code); code != "" {
				out = fmt.Sprintf("%s (%s)", out, code)
			}
			if len(payload.Remediation) > 0 {
				if hint := strings.TrimSpace(payload.Remediation[0]); hint != "" {
					out = fmt.Sprintf("%s: %s", out, hint)
				}
			}
			if payload.Retryable {
				out += " (retryable)"
			}
			return out
		}
	}
	return strings.TrimSpace(string(data))
}

// newAPIError reads the response body and builds the structured error.
// 401/403 become API_UNAUTHORIZED; 5xx and 429 are retryable.
func newAPIError(method, route string, resp *http.Response) error {
	apiErr := &APIError{
		Method: method,
		Route:  route,
		Status: resp.StatusCode,
		Body:   formatErrorBody(readBodyLimited(resp.Body, maxErrorBodyBytes)),
	}

	if apiErr.Unauthorized() {
		return hmterrors.Wrap(apiErr, hmterrors.ErrCodeAPIUnauthorized, "helpmetest API rejected the token").
			WithUserMessage("The helpmetest API rejected the request: the token is missing, invalid or lacks access.").
			WithRemediation(authHint)
	}

	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return hmterrors.Wrap(apiErr, hmterrors.ErrCodeAPIRequest, "helpmetest API request failed").
		WithContext("status", resp.StatusCode).
		WithRetryable(retryable)
}

func decodeError(route string, err error) error {
	return hmterrors.Wrap(err, hmterrors.ErrCodeAPIDecode, "failed to decode "+route+" response")
}
