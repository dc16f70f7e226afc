package main

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/helpmetest/cli/pkg/api"
)

func newHealthCmd(a *app) *cobra.Command {
	var data []string

	cmd := &cobra.Command{
		Use:   "health [name grace]",
		Short: "List health checks, or send a heartbeat",
		Long: `Without arguments, list every health check and its status.

With a name and a grace period, send a heartbeat:

  helpmetest health nightly-backup 25h --data rows=1200`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return usageError("health takes no arguments or <name> <grace>")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			if len(args) == 2 {
				payload, err := parseData(data)
				if err != nil {
					return err
				}
				if err := client.ReportHeartbeat(cmd.Context(), args[0], args[1], payload); err != nil {
					return err
				}
				a.out.Success("heartbeat sent for %s (grace %s)", args[0], args[1])
				return nil
			}

			checks, err := client.ListHealthChecks(cmd.Context())
			if err != nil {
				return err
			}
			if len(checks) == 0 {
				a.out.Dim("no health checks yet")
				return nil
			}
			a.out.Table([]string{"Name", "Status", "Grace", "Last heartbeat"}, healthRows(checks))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&data, "data", nil, "key=value attached to the heartbeat (repeatable)")
	return cmd
}

func healthRows(checks []api.HealthCheck) [][]string {
	rows := make([][]string, 0, len(checks))
	for _, hc := range checks {
		last := "never"
		if hc.LastHeartbeat != nil && !hc.LastHeartbeat.IsZero() {
			last = hc.LastHeartbeat.Local().Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []string{hc.Name, strings.ToUpper(hc.Status), hc.GracePeriod, last})
	}
	return rows
}

// parseData turns key=value pairs into a heartbeat payload. Numeric and
// boolean values keep their type.
func parseData(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, usageError("--data expects key=value, got %q", pair)
		}
		out[key] = typedValue(strings.TrimSpace(value))
	}
	return out, nil
}

func typedValue(v string) any {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}
