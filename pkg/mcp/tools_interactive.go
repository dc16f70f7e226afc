package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/helpmetest/cli/pkg/interactive"
	"github.com/helpmetest/cli/pkg/notify"
)

type runCommandInput struct {
	Command     string        `json:"command" jsonschema:"one Robot Framework keyword line such as 'Go To  https://example.com', or exit to end the session"`
	Explanation string        `json:"explanation" jsonschema:"why this command is run, kept for audit and replay; must not be empty except for exit"`
	Line        int           `json:"line,omitempty" jsonschema:"line number of the command in the test being written"`
	Debug       bool          `json:"debug,omitempty" jsonschema:"include raw request and response bodies in the result"`
	Timeout     int           `json:"timeout,omitempty" jsonschema:"timeout in milliseconds, default 5000 and max 300000; navigation and waits need 10000 or more"`
	Timestamp   string        `json:"timestamp,omitempty" jsonschema:"session token of the session to continue; omit to continue the current session"`
	Screenshot  *bool         `json:"screenshot,omitempty" jsonschema:"attach a screenshot taken after the command"`
	Message     string        `json:"message,omitempty" jsonschema:"status message for the user watching the session"`
	Tasks       []notify.Task `json:"tasks,omitempty" jsonschema:"current task list shown to the user"`
}

type sendToUIInput struct {
	Message   string        `json:"message,omitempty" jsonschema:"status message for the user watching the session"`
	Tasks     []notify.Task `json:"tasks,omitempty" jsonschema:"current task list shown to the user"`
	Timestamp string        `json:"timestamp,omitempty" jsonschema:"session token; defaults to the current session"`
}

func (s *Server) registerInteractiveTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:  "run_interactive_command",
		Title: "Run interactive command",
		Description: "Run one Robot Framework command in a live browser session and return its result. " +
			"The first call opens a session and a viewer for the user. After each command you must report " +
			"progress with send_to_ui or pass message/tasks with the next command. Send exit to close the session.",
	}, s.runInteractiveCommand)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "send_to_ui",
		Title:       "Send update to UI",
		Description: "Send a status message and/or task list to the user watching the interactive session. Unblocks the next run_interactive_command.",
	}, s.sendToUI)
}

func (s *Server) runInteractiveCommand(ctx context.Context, _ *mcp.CallToolRequest, in runCommandInput) (*mcp.CallToolResult, any, error) {
	res, err := s.interactive.RunCommand(ctx, interactive.CommandArgs{
		Command:     in.Command,
		Explanation: in.Explanation,
		Line:        in.Line,
		Debug:       in.Debug,
		TimeoutMS:   in.Timeout,
		Token:       in.Timestamp,
		Screenshot:  in.Screenshot,
		Message:     in.Message,
		Tasks:       in.Tasks,
	})
	if err != nil {
		s.logger.DebugContext(ctx, "interactive command rejected", "error", err)
		return toolError(err), nil, nil
	}
	return s.interactiveResult(res), nil, nil
}

func (s *Server) sendToUI(ctx context.Context, _ *mcp.CallToolRequest, in sendToUIInput) (*mcp.CallToolResult, any, error) {
	res, err := s.interactive.Acknowledge(ctx, interactive.AckArgs{
		Message: in.Message,
		Tasks:   in.Tasks,
		Token:   in.Timestamp,
	})
	if err != nil {
		return toolError(err), nil, nil
	}
	return textResult(res.Text), nil, nil
}
