package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	hmterrors "github.com/helpmetest/cli/pkg/errors"
)

// HealthCheck is a heartbeat monitor.
type HealthCheck struct {
	Name          string         `json:"name"`
	Status        string         `json:"status"`
	GracePeriod   string         `json:"gracePeriod,omitempty"`
	LastHeartbeat *time.Time     `json:"lastHeartbeat,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// Healthy reports whether the last heartbeat arrived within its grace period.
func (h HealthCheck) Healthy() bool {
	switch strings.ToLower(h.Status) {
	case "up", "ok", "healthy", "pass":
		return true
	}
	return false
}

// ListHealthChecks returns every health check of the tenant.
func (c *Client) ListHealthChecks(ctx context.Context) ([]HealthCheck, error) {
	var out []HealthCheck
	if err := c.getJSON(ctx, "/healthchecks", "/healthchecks", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetHealthCheck returns one health check by name.
func (c *Client) GetHealthCheck(ctx context.Context, name string) (*HealthCheck, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalidArgument("health check name is required")
	}
	var hc HealthCheck
	if err := c.getJSON(ctx, "/healthchecks/{name}", "/healthchecks/"+escape(name), &hc); err != nil {
		return nil, err
	}
	return &hc, nil
}

// ReportHeartbeat records a heartbeat. grace is a duration such as "5m";
// data is attached to the heartbeat and may be nil.
func (c *Client) ReportHeartbeat(ctx context.Context, name, grace string, data map[string]any) error {
	if strings.TrimSpace(name) == "" {
		return invalidArgument("health check name is required")
	}
	if strings.TrimSpace(grace) == "" {
		return invalidArgument("grace period is required")
	}
	if data == nil {
		data = map[string]any{}
	}
	p := "/healthcheck/" + escape(name) + "/" + escape(grace)
	return c.sendJSON(ctx, http.MethodPost, "/healthcheck/{name}/{grace}", p, data, nil)
}

// TestRun summarizes the latest run of a test.
type TestRun struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

// Test is a stored browser test.
type Test struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
	LastRun     *TestRun  `json:"lastRun,omitempty"`
}

// TestInput creates or updates a test. Empty fields are left unchanged on
// update.
type TestInput struct {
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Content     string   `json:"content,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ListTestsOptions filters ListTests.
type ListTestsOptions struct {
	Search string
	Tag    string
}

// ListTests returns the tenant's tests.
func (c *Client) ListTests(ctx context.Context, opts ListTestsOptions) ([]Test, error) {
	q := url.Values{}
	if s := strings.TrimSpace(opts.Search); s != "" {
		q.Set("search", s)
	}
	if t := strings.TrimSpace(opts.Tag); t != "" {
		q.Set("tag", t)
	}
	p := "/tests"
	if len(q) > 0 {
		p += "?" + q.Encode()
	}
	var out []Test
	if err := c.getJSON(ctx, "/tests", p, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTest returns one test by id or name.
func (c *Client) GetTest(ctx context.Context, id string) (*Test, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalidArgument("test id is required")
	}
	var t Test
	if err := c.getJSON(ctx, "/tests/{id}", "/tests/"+escape(id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTest stores a new test.
func (c *Client) CreateTest(ctx context.Context, in TestInput) (*Test, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, invalidArgument("test name is required")
	}
	var t Test
	if err := c.sendJSON(ctx, http.MethodPost, "/tests", "/tests", in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTest changes an existing test.
func (c *Client) UpdateTest(ctx context.Context, id string, in TestInput) (*Test, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalidArgument("test id is required")
	}
	var t Test
	if err := c.sendJSON(ctx, http.MethodPut, "/tests/{id}", "/tests/"+escape(id), in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// RunTest runs a test and returns its event stream. onEvent, when set, sees
// every event as it arrives.
func (c *Client) RunTest(ctx context.Context, id string, onEvent func(json.RawMessage)) ([]json.RawMessage, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalidArgument("test id is required")
	}
	resp, err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/tests/" + escape(id) + "/run",
		route:  "/tests/{id}/run",
		body:   map[string]any{},
		stream: true,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readEvents(resp.Body, resp.Header.Get("Content-Type"), onEvent)
}

// Deployment marks a release of an application.
type Deployment struct {
	ID          string    `json:"id"`
	App         string    `json:"app"`
	Environment string    `json:"environment,omitempty"`
	Version     string    `json:"version,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DeploymentInput records a deployment.
type DeploymentInput struct {
	App         string `json:"app"`
	Environment string `json:"environment,omitempty"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

// ListDeployments returns the most recent deployments first. limit <= 0
// lets the server decide.
func (c *Client) ListDeployments(ctx context.Context, limit int) ([]Deployment, error) {
	p := "/deployments"
	if limit > 0 {
		p += "?limit=" + itoa(limit)
	}
	var out []Deployment
	if err := c.getJSON(ctx, "/deployments", p, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateDeployment records a deployment.
func (c *Client) CreateDeployment(ctx context.Context, in DeploymentInput) (*Deployment, error) {
	if strings.TrimSpace(in.App) == "" {
		return nil, invalidArgument("deployment app is required")
	}
	var d Deployment
	if err := c.sendJSON(ctx, http.MethodPost, "/deployments", "/deployments", in, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Artifact is a file produced by a test run.
type Artifact struct {
	ID        string    `json:"id"`
	TestID    string    `json:"testId,omitempty"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListArtifacts returns artifacts, optionally limited to one test.
func (c *Client) ListArtifacts(ctx context.Context, testID string) ([]Artifact, error) {
	p := "/artifacts"
	if id := strings.TrimSpace(testID); id != "" {
		p += "?" + url.Values{"testId": {id}}.Encode()
	}
	var out []Artifact
	if err := c.getJSON(ctx, "/artifacts", p, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func invalidArgument(msg string) error {
	return hmterrors.New(hmterrors.ErrCodeInvalidInput, msg).WithUserMessage(msg)
}
