package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/helpmetest/cli/pkg/api"
	hmterrors "github.com/helpmetest/cli/pkg/errors"
)

const statusDeployments = 5

// SystemStatus is a snapshot of the account: identity, health checks, tests
// and the latest deployments.
type SystemStatus struct {
	Identity     api.Identity
	HealthChecks []api.HealthCheck
	Tests        []api.Test
	Deployments  []api.Deployment
}

// FetchStatus loads everything concurrently. The first failure cancels the
// remaining requests.
func FetchStatus(ctx context.Context, b Backend) (*SystemStatus, error) {
	var st SystemStatus
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		id, err := b.Identity(gctx)
		st.Identity = id
		return err
	})
	g.Go(func() error {
		checks, err := b.ListHealthChecks(gctx)
		st.HealthChecks = checks
		return err
	})
	g.Go(func() error {
		tests, err := b.ListTests(gctx, api.ListTestsOptions{})
		st.Tests = tests
		return err
	})
	g.Go(func() error {
		deps, err := b.ListDeployments(gctx, statusDeployments)
		st.Deployments = deps
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &st, nil
}

// FailingTests returns tests whose last run did not pass.
func (st *SystemStatus) FailingTests() []api.Test {
	var out []api.Test
	for _, t := range st.Tests {
		if t.LastRun == nil {
			continue
		}
		switch strings.ToUpper(t.LastRun.Status) {
		case "PASS", "PASSED", "SUCCESS":
		default:
			out = append(out, t)
		}
	}
	return out
}

func (s *Server) registerStatusTool() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "system_status",
		Description: "Overview of the account: health checks, failing tests and recent deployments.",
	}, s.systemStatus)
}

func (s *Server) systemStatus(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	st, err := FetchStatus(ctx, s.backend)
	if err != nil {
		if hmterrors.IsCode(err, hmterrors.ErrCodeAPIUnauthorized) {
			s.logger.WarnContext(ctx, "system status rejected", "error", err)
		}
		return toolError(err), nil, nil
	}
	return textResult(formatStatus(st)), nil, nil
}

func formatStatus(st *SystemStatus) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Account: %s", st.Identity.TenantID)
	if st.Identity.Email != "" {
		fmt.Fprintf(&sb, " (%s)", st.Identity.Email)
	}
	sb.WriteString("\n")
	if st.Identity.DashboardURL != "" {
		fmt.Fprintf(&sb, "Dashboard: %s\n", st.Identity.DashboardURL)
	}

	sb.WriteString("\nHealth checks\n")
	sb.WriteString(formatHealthChecks(st.HealthChecks))

	failing := st.FailingTests()
	fmt.Fprintf(&sb, "\nTests: %s, %d failing\n", plural(len(st.Tests), "test"), len(failing))
	for _, t := range failing {
		fmt.Fprintf(&sb, "❌ %s (%s): %s\n", t.Name, t.ID, t.LastRun.Status)
	}

	sb.WriteString("\nRecent deployments\n")
	sb.WriteString(formatDeployments(st.Deployments))
	return sb.String()
}
