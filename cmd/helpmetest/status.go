package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helpmetest/cli/pkg/api"
	mcpserver "github.com/helpmetest/cli/pkg/mcp"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show health checks, failing tests and recent deployments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			st, err := mcpserver.FetchStatus(cmd.Context(), client)
			if err != nil {
				return err
			}

			account := st.Identity.TenantID
			if st.Identity.Email != "" {
				account = fmt.Sprintf("%s (%s)", account, st.Identity.Email)
			}
			a.out.Bold("Account: %s", account)
			if st.Identity.DashboardURL != "" {
				a.out.Dim("Dashboard: %s", st.Identity.DashboardURL)
			}

			a.out.Newline()
			a.out.Header("Health checks")
			if len(st.HealthChecks) == 0 {
				a.out.Dim("no health checks yet")
			}
			a.out.Table([]string{"Name", "Status", "Grace", "Last heartbeat"}, healthRows(st.HealthChecks))

			failing := st.FailingTests()
			a.out.Newline()
			a.out.Header(fmt.Sprintf("Tests (%d, %d failing)", len(st.Tests), len(failing)))
			a.out.Table([]string{"ID", "Name", "Last run"}, testRows(failing))

			a.out.Newline()
			a.out.Header("Recent deployments")
			if len(st.Deployments) == 0 {
				a.out.Dim("no deployments recorded")
			}
			a.out.Table([]string{"App", "Environment", "Version", "When"}, deploymentRows(st.Deployments))
			return nil
		},
	}
}

func testRows(tests []api.Test) [][]string {
	rows := make([][]string, 0, len(tests))
	for _, t := range tests {
		last := "NOT RUN"
		if t.LastRun != nil && t.LastRun.Status != "" {
			last = t.LastRun.Status
		}
		rows = append(rows, []string{t.ID, t.Name, last})
	}
	return rows
}
