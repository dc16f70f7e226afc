package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/helpmetest/cli/pkg/interactive"
)

//go:embed onboarding.md
var defaultOnboardingHint string

const maxHintBytes = 64 << 10

// ExecuteInteractive runs one command in an interactive session and returns
// the execution trace.
func (c *Client) ExecuteInteractive(ctx context.Context, req interactive.ExecuteRequest) ([]json.RawMessage, error) {
	resp, err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/interactive/command",
		route:  "/interactive/command",
		body:   req,
		stream: true,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readEvents(resp.Body, resp.Header.Get("Content-Type"), nil)
}

// EndInteractive closes the remote browser session behind token. timeout is
// sent to the executor as the command timeout; zero uses the interactive
// default.
func (c *Client) EndInteractive(ctx context.Context, token string, timeout time.Duration) ([]json.RawMessage, error) {
	if timeout <= 0 {
		timeout = interactive.DefaultTimeout
	}
	return c.ExecuteInteractive(ctx, interactive.ExecuteRequest{
		SessionToken: token,
		Command:      "Exit",
		Explanation:  "end interactive session",
		TimeoutMS:    int(timeout / time.Millisecond),
	})
}

// OnboardingHint fetches the one-time interactive mode hint. It never fails:
// any error yields the built-in text.
func (c *Client) OnboardingHint(ctx context.Context) string {
	hint, err := c.fetchOnboardingHint(ctx)
	if err != nil {
		c.logger.DebugContext(ctx, "using built-in onboarding hint", "error", err)
		return strings.TrimSpace(defaultOnboardingHint)
	}
	if strings.TrimSpace(hint) == "" {
		return strings.TrimSpace(defaultOnboardingHint)
	}
	return strings.TrimSpace(hint)
}

func (c *Client) fetchOnboardingHint(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, call{method: http.MethodGet, path: "/interactive/onboarding", route: "/interactive/onboarding"})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHintBytes))
	if err != nil {
		return "", err
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return string(data), nil
	}
	var payload struct {
		Text    string `json:"text"`
		Message string `json:"message"`
		Hint    string `json:"hint"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", decodeError("/interactive/onboarding", err)
	}
	for _, s := range []string{payload.Text, payload.Message, payload.Hint} {
		if strings.TrimSpace(s) != "" {
			return s, nil
		}
	}
	return "", nil
}

// InteractiveExecutor adapts the client to interactive.Executor.
type InteractiveExecutor struct {
	client *Client
}

// NewInteractiveExecutor wraps c.
func NewInteractiveExecutor(c *Client) *InteractiveExecutor {
	return &InteractiveExecutor{client: c}
}

func (e *InteractiveExecutor) Execute(ctx context.Context, req interactive.ExecuteRequest) ([]json.RawMessage, error) {
	return e.client.ExecuteInteractive(ctx, req)
}

func (e *InteractiveExecutor) EndSession(ctx context.Context, token string, timeout time.Duration) ([]json.RawMessage, error) {
	return e.client.EndInteractive(ctx, token, timeout)
}

var _ interactive.Executor = (*InteractiveExecutor)(nil)
var _ interactive.HintSource = (*Client)(nil)
