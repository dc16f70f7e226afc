package main

import (
	"github.com/spf13/cobra"

	"github.com/helpmetest/cli/pkg/api"
)

func newDeploymentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deployments",
		Aliases: []string{"deploy"},
		Short:   "List or record deployments",
	}
	cmd.AddCommand(newDeploymentsListCmd(a))
	cmd.AddCommand(newDeploymentsCreateCmd(a))
	return cmd
}

func newDeploymentsListCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent deployments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			deps, err := client.ListDeployments(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(deps) == 0 {
				a.out.Dim("no deployments recorded")
				return nil
			}
			a.out.Table([]string{"App", "Environment", "Version", "When"}, deploymentRows(deps))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of deployments")
	return cmd
}

func newDeploymentsCreateCmd(a *app) *cobra.Command {
	var in api.DeploymentInput
	cmd := &cobra.Command{
		Use:   "create <app>",
		Short: "Record a deployment so test failures can be correlated with it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			in.App = args[0]
			d, err := client.CreateDeployment(cmd.Context(), in)
			if err != nil {
				return err
			}
			a.out.Success("deployment %s recorded for %s", d.ID, d.App)
			return nil
		},
	}
	cmd.Flags().StringVarP(&in.Environment, "env", "e", "", "Environment, e.g. production")
	cmd.Flags().StringVar(&in.Version, "version", "", "Deployed version or commit")
	cmd.Flags().StringVarP(&in.Description, "description", "d", "", "What changed")
	return cmd
}

func deploymentRows(deps []api.Deployment) [][]string {
	rows := make([][]string, 0, len(deps))
	for _, d := range deps {
		when := ""
		if !d.CreatedAt.IsZero() {
			when = d.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{d.App, d.Environment, d.Version, when})
	}
	return rows
}
