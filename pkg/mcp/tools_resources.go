package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/helpmetest/cli/pkg/api"
	"github.com/helpmetest/cli/pkg/interactive"
)

type emptyInput struct{}

type healthCheckInput struct {
	Name string `json:"name" jsonschema:"health check name"`
}

type listTestsInput struct {
	Search string `json:"search,omitempty" jsonschema:"case-insensitive text to look for in test names"`
	Tag    string `json:"tag,omitempty" jsonschema:"only tests carrying this tag"`
}

type testIDInput struct {
	ID string `json:"id" jsonschema:"test id or name"`
}

type createTestInput struct {
	Name        string   `json:"name" jsonschema:"test name"`
	Description string   `json:"description,omitempty" jsonschema:"what the test verifies"`
	Content     string   `json:"content,omitempty" jsonschema:"Robot Framework test body, one keyword per line"`
	Tags        []string `json:"tags,omitempty" jsonschema:"tags such as priority:high or feature:login"`
}

type updateTestInput struct {
	ID          string   `json:"id" jsonschema:"test id"`
	Name        string   `json:"name,omitempty" jsonschema:"new name; omit to keep"`
	Description string   `json:"description,omitempty" jsonschema:"new description; omit to keep"`
	Content     string   `json:"content,omitempty" jsonschema:"new Robot Framework body; omit to keep"`
	Tags        []string `json:"tags,omitempty" jsonschema:"new tags; omit to keep"`
}

type deploymentsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of deployments, newest first"`
}

type createDeploymentInput struct {
	App         string `json:"app" jsonschema:"application that was deployed"`
	Environment string `json:"environment,omitempty" jsonschema:"environment such as production or staging"`
	Version     string `json:"version,omitempty" jsonschema:"released version or commit"`
	Description string `json:"description,omitempty" jsonschema:"what changed"`
}

type artifactsInput struct {
	TestID string `json:"test_id,omitempty" jsonschema:"only artifacts of this test"`
}

func (s *Server) registerHealthTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_health_checks",
		Description: "List every health check with its status and last heartbeat.",
	}, s.getHealthChecks)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_health_check_status",
		Description: "Show the status of one health check.",
	}, s.getHealthCheckStatus)
}

func (s *Server) registerTestTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_tests",
		Description: "List tests, optionally filtered by a search string or tag.",
	}, s.listTests)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_test",
		Description: "Show a test including its Robot Framework content.",
	}, s.getTest)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "run_test",
		Description: "Run a stored test and wait for its result.",
	}, s.runTest)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "create_test",
		Description: "Create a test. Build the content with run_interactive_command first so every line is known to work.",
	}, s.createTest)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "update_test",
		Description: "Update a test and show a diff of its content.",
	}, s.updateTest)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_artifacts",
		Description: "List artifacts such as screenshots and recordings produced by test runs.",
	}, s.getArtifacts)
}

func (s *Server) registerDeploymentTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_deployments",
		Description: "List recent deployments, newest first.",
	}, s.getDeployments)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "create_deployment",
		Description: "Record a deployment so test results can be correlated with releases.",
	}, s.createDeployment)
}

func (s *Server) getHealthChecks(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	checks, err := s.backend.ListHealthChecks(ctx)
	if err != nil {
		return toolError(err), nil, nil
	}
	return textResult(formatHealthChecks(checks)), nil, nil
}

func (s *Server) getHealthCheckStatus(ctx context.Context, _ *mcp.CallToolRequest, in healthCheckInput) (*mcp.CallToolResult, any, error) {
	hc, err := s.backend.GetHealthCheck(ctx, in.Name)
	if err != nil {
		return toolError(err), nil, nil
	}
	var sb strings.Builder
	writeHealthCheck(&sb, *hc)
	if hc.GracePeriod != "" {
		fmt.Fprintf(&sb, "Grace period: %s\n", hc.GracePeriod)
	}
	keys := make([]string, 0, len(hc.Data))
	for k := range hc.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "  %s: %v\n", k, hc.Data[k])
	}
	return textResult(sb.String()), nil, nil
}

func formatHealthChecks(checks []api.HealthCheck) string {
	if len(checks) == 0 {
		return "No health checks yet. Report a heartbeat with `helpmetest health <name> <grace>` to create one.\n"
	}
	var sb strings.Builder
	healthy := 0
	for _, hc := range checks {
		if hc.Healthy() {
			healthy++
		}
	}
	fmt.Fprintf(&sb, "%d of %s healthy\n\n", healthy, plural(len(checks), "health check"))
	for _, hc := range checks {
		writeHealthCheck(&sb, hc)
	}
	return sb.String()
}

func writeHealthCheck(sb *strings.Builder, hc api.HealthCheck) {
	icon := "❌"
	if hc.Healthy() {
		icon = "✅"
	}
	last := "never"
	if hc.LastHeartbeat != nil {
		last = formatTime(*hc.LastHeartbeat)
	}
	fmt.Fprintf(sb, "%s %s: %s (last heartbeat %s)%s\n", icon, hc.Name, hc.Status, last, joinTags(hc.Tags))
}

func (s *Server) listTests(ctx context.Context, _ *mcp.CallToolRequest, in listTestsInput) (*mcp.CallToolResult, any, error) {
	tests, err := s.backend.ListTests(ctx, api.ListTestsOptions{Search: in.Search, Tag: in.Tag})
	if err != nil {
		return toolError(err), nil, nil
	}
	if len(tests) == 0 {
		return textResult("No tests found.\n"), nil, nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\n", plural(len(tests), "test"))
	for _, t := range tests {
		status := "not run"
		if t.LastRun != nil {
			status = t.LastRun.Status
		}
		fmt.Fprintf(&sb, "- %s (%s): %s%s\n", t.Name, t.ID, status, joinTags(t.Tags))
	}
	return textResult(sb.String()), nil, nil
}

func (s *Server) getTest(ctx context.Context, _ *mcp.CallToolRequest, in testIDInput) (*mcp.CallToolResult, any, error) {
	t, err := s.backend.GetTest(ctx, in.ID)
	if err != nil {
		return toolError(err), nil, nil
	}
	return textResult(formatTest(t)), nil, nil
}

func formatTest(t *api.Test) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Test: %s (%s)\n", t.Name, t.ID)
	if t.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", t.Description)
	}
	if len(t.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(t.Tags, ", "))
	}
	if t.LastRun != nil {
		fmt.Fprintf(&sb, "Last run: %s at %s\n", t.LastRun.Status, formatTime(t.LastRun.At))
	}
	fmt.Fprintf(&sb, "Updated: %s\n", formatTime(t.UpdatedAt))
	if t.Content != "" {
		sb.WriteString("\n")
		sb.WriteString(strings.TrimRight(t.Content, "\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (s *Server) runTest(ctx context.Context, _ *mcp.CallToolRequest, in testIDInput) (*mcp.CallToolResult, any, error) {
	raws, err := s.backend.RunTest(ctx, in.ID, nil)
	if err != nil {
		return toolError(err), nil, nil
	}
	events := interactive.DecodeEvents(raws)
	cls := interactive.ClassifyDetailed(events)

	var sb strings.Builder
	if cls.Success {
		fmt.Fprintf(&sb, "✅ Test %s passed\n", in.ID)
	} else {
		fmt.Fprintf(&sb, "❌ Test %s failed\n", in.ID)
		if cls.Reason != "" {
			fmt.Fprintf(&sb, "Reason: %s\n", cls.Reason)
		}
	}
	if trace := interactive.FormatTrace(events); trace != "" {
		sb.WriteString("\nExecution trace:\n")
		sb.WriteString(trace)
	}
	res := textResult(sb.String())
	res.IsError = !cls.Success
	return res, nil, nil
}

func (s *Server) createTest(ctx context.Context, _ *mcp.CallToolRequest, in createTestInput) (*mcp.CallToolResult, any, error) {
	t, err := s.backend.CreateTest(ctx, api.TestInput{
		Name:        in.Name,
		Description: in.Description,
		Content:     in.Content,
		Tags:        in.Tags,
	})
	if err != nil {
		return toolError(err), nil, nil
	}
	return textResult("✅ Test created\n" + formatTest(t)), nil, nil
}

func (s *Server) updateTest(ctx context.Context, _ *mcp.CallToolRequest, in updateTestInput) (*mcp.CallToolResult, any, error) {
	before, err := s.backend.GetTest(ctx, in.ID)
	if err != nil {
		return toolError(err), nil, nil
	}
	after, err := s.backend.UpdateTest(ctx, in.ID, api.TestInput{
		Name:        in.Name,
		Description: in.Description,
		Content:     in.Content,
		Tags:        in.Tags,
	})
	if err != nil {
		return toolError(err), nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "✅ Test %s updated\n", after.ID)
	if before.Name != after.Name {
		fmt.Fprintf(&sb, "Name: %s -> %s\n", before.Name, after.Name)
	}
	diff := contentDiff(before.Content, after.Content)
	if diff == "" {
		sb.WriteString("Content unchanged.\n")
	} else {
		sb.WriteString("\n")
		sb.WriteString(diff)
	}
	return textResult(sb.String()), nil, nil
}

// contentDiff returns a unified diff of two test bodies, or "" when equal.
func contentDiff(before, after string) string {
	if before == after {
		return ""
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(ensureNewline(before)),
		B:        difflib.SplitLines(ensureNewline(after)),
		FromFile: "before",
		ToFile:   "after",
		Context:  2,
	})
	if err != nil {
		return ""
	}
	return diff
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

func (s *Server) getDeployments(ctx context.Context, _ *mcp.CallToolRequest, in deploymentsInput) (*mcp.CallToolResult, any, error) {
	deps, err := s.backend.ListDeployments(ctx, in.Limit)
	if err != nil {
		return toolError(err), nil, nil
	}
	return textResult(formatDeployments(deps)), nil, nil
}

func formatDeployments(deps []api.Deployment) string {
	if len(deps) == 0 {
		return "No deployments recorded.\n"
	}
	var sb strings.Builder
	for _, d := range deps {
		fmt.Fprintf(&sb, "- %s %s", formatTime(d.CreatedAt), d.App)
		if d.Version != "" {
			fmt.Fprintf(&sb, " %s", d.Version)
		}
		if d.Environment != "" {
			fmt.Fprintf(&sb, " (%s)", d.Environment)
		}
		if d.Description != "" {
			fmt.Fprintf(&sb, ": %s", d.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (s *Server) createDeployment(ctx context.Context, _ *mcp.CallToolRequest, in createDeploymentInput) (*mcp.CallToolResult, any, error) {
	d, err := s.backend.CreateDeployment(ctx, api.DeploymentInput{
		App:         in.App,
		Environment: in.Environment,
		Version:     in.Version,
		Description: in.Description,
	})
	if err != nil {
		return toolError(err), nil, nil
	}
	return textResult("✅ Deployment recorded\n" + formatDeployments([]api.Deployment{*d})), nil, nil
}

func (s *Server) getArtifacts(ctx context.Context, _ *mcp.CallToolRequest, in artifactsInput) (*mcp.CallToolResult, any, error) {
	arts, err := s.backend.ListArtifacts(ctx, in.TestID)
	if err != nil {
		return toolError(err), nil, nil
	}
	if len(arts) == 0 {
		return textResult("No artifacts found.\n"), nil, nil
	}
	var sb strings.Builder
	for _, a := range arts {
		fmt.Fprintf(&sb, "- %s %s (%s) %s\n", a.Kind, a.Name, formatTime(a.CreatedAt), a.URL)
	}
	return textResult(sb.String()), nil, nil
}
