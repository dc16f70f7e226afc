package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/helpmetest/cli/pkg/storage"
)

func newInteractiveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interactive",
		Short: "Inspect interactive sessions recorded by the MCP server",
	}
	cmd.AddCommand(newInteractiveHistoryCmd(a))
	return cmd
}

func newInteractiveHistoryCmd(a *app) *cobra.Command {
	var (
		session string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sessions, or the commands of one session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			if store == nil {
				a.out.Warn("interactive history is disabled (history.enabled in config)")
				return nil
			}
			defer store.Close()

			if s := strings.TrimSpace(session); s != "" {
				commands, err := store.ListCommands(cmd.Context(), s)
				if err != nil {
					return err
				}
				if len(commands) == 0 {
					a.out.Dim("no commands recorded for %s", s)
					return nil
				}
				a.out.Table([]string{"#", "When", "Status", "Command", "Elapsed"}, commandRows(commands))
				return nil
			}

			sessions, err := store.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				a.out.Dim("no interactive sessions recorded")
				return nil
			}
			a.out.Table([]string{"Session", "Started", "Ended", "Commands", "Origin"}, sessionRows(sessions))
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Show the commands of this session token")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of sessions")
	return cmd
}

func sessionRows(sessions []storage.SessionRecord) [][]string {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		ended := "open"
		if s.EndedAt != nil {
			ended = s.EndedAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{
			s.Token,
			s.StartedAt.Local().Format(time.DateTime),
			ended,
			strconv.Itoa(s.CommandCount),
			s.Origin,
		})
	}
	return rows
}

func commandRows(commands []storage.CommandRecord) [][]string {
	rows := make([][]string, 0, len(commands))
	for i, c := range commands {
		status := "PASS"
		switch {
		case c.Exit:
			status = "EXIT"
		case !c.Success:
			status = "FAIL"
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			c.CreatedAt.Local().Format(time.TimeOnly),
			status,
			c.Command,
			fmt.Sprintf("%.1fs", c.Elapsed.Seconds()),
		})
	}
	return rows
}
