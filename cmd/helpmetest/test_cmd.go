package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/helpmetest/cli/pkg/api"
	"github.com/helpmetest/cli/pkg/interactive"
	"github.com/helpmetest/cli/pkg/terminal"
)

func newTestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "List, inspect and run tests",
	}
	cmd.AddCommand(newTestListCmd(a))
	cmd.AddCommand(newTestGetCmd(a))
	cmd.AddCommand(newTestRunCmd(a))
	return cmd
}

func newTestListCmd(a *app) *cobra.Command {
	var opts api.ListTestsOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			tests, err := client.ListTests(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if len(tests) == 0 {
				a.out.Dim("no tests found")
				return nil
			}
			rows := testRows(tests)
			for i, t := range tests {
				rows[i] = append(rows[i], strings.Join(t.Tags, ", "))
			}
			a.out.Table([]string{"ID", "Name", "Last run", "Tags"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Search, "search", "", "Filter by name or description")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "Filter by tag")
	return cmd
}

func newTestGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a test and its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			t, err := client.GetTest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.out.Bold("%s (%s)", t.Name, t.ID)
			if t.Description != "" {
				a.out.Println("%s", t.Description)
			}
			if len(t.Tags) > 0 {
				a.out.Dim("tags: %s", strings.Join(t.Tags, ", "))
			}
			if t.LastRun != nil {
				a.out.Println("last run: %s at %s", a.out.Status(t.LastRun.Status), t.LastRun.At.Local().Format("2006-01-02 15:04:05"))
			}
			if t.Content != "" {
				a.out.Newline()
				a.out.Println("%s", t.Content)
			}
			return nil
		},
	}
}

func newTestRunCmd(a *app) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "run <id>",
		Short: "Run a test and stream its keywords",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			id := args[0]

			var spinner *terminal.Spinner
			if !quiet && isTerminal(a.stderr) {
				spinner = terminal.NewSpinnerWithOutput(a.stderr, "running "+id)
				spinner.Start()
				defer spinner.Stop()
			}
			onEvent := func(raw json.RawMessage) {
				if spinner == nil {
					return
				}
				if kw, ok := interactive.DecodeEvent(raw).(interactive.KeywordEvent); ok && kw.Keyword != "" {
					spinner.SetMessage(fmt.Sprintf("%s: %s", id, kw.Keyword))
				}
			}

			raws, err := client.RunTest(cmd.Context(), id, onEvent)
			if err != nil {
				if spinner != nil {
					spinner.StopWithError("test run failed")
				}
				return err
			}
			events := interactive.DecodeEvents(raws)
			cls := interactive.ClassifyDetailed(events)

			if spinner != nil {
				if cls.Success {
					spinner.StopWithSuccess(id + " passed")
				} else {
					spinner.StopWithError(id + " failed")
				}
			}
			if trace := interactive.FormatTrace(events); trace != "" && !quiet {
				a.out.Print("%s", trace)
				if !strings.HasSuffix(trace, "\n") {
					a.out.Newline()
				}
			}
			if !cls.Success {
				reason := cls.Reason
				if reason == "" {
					reason = "test failed"
				}
				return withExitCode(fmt.Errorf("test %s failed: %s", id, reason), exitTestFailed)
			}
			a.out.Success("test %s passed", id)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the result")
	return cmd
}
