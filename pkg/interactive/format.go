package interactive

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/helpmetest/cli/pkg/notify"
)

const (
	maxContentChars = 4000
	maxInfoChars    = 1500
)

// AcknowledgementReminder is appended to every completed command.
const AcknowledgementReminder = "Before the next command, report progress to the user: call send_to_ui " +
	"with a message and/or the updated task list, or pass message/tasks together with the next " +
	"run_interactive_command call."

// Report is everything the formatter needs about one finished command.
type Report struct {
	Command        string
	Explanation    string
	Session        *Session
	Classification Classification
	Extraction     Extraction
	Events         []Event
	Request        json.RawMessage
	Debug          bool
	Elapsed        time.Duration
	Pending        []notify.PendingEvent
}

// FormatResult renders a finished command for the agent.
func FormatResult(r Report) string {
	var sb strings.Builder

	if r.Classification.Success {
		sb.WriteString("✅ Command succeeded\n")
	} else {
		sb.WriteString("❌ Command failed\n")
	}
	fmt.Fprintf(&sb, "Command: %s\n", r.Command)
	if r.Explanation != "" {
		fmt.Fprintf(&sb, "Explanation: %s\n", r.Explanation)
	}
	if !r.Classification.Success && r.Classification.Reason != "" {
		fmt.Fprintf(&sb, "Reason: %s\n", r.Classification.Reason)
	}

	if trace := FormatTrace(r.Events); trace != "" {
		sb.WriteString("\nExecution trace:\n")
		sb.WriteString(trace)
	}

	ex := r.Extraction
	if ex.Error != "" {
		fmt.Fprintf(&sb, "\nError: %s\n", ex.Error)
	}
	if ex.Output != "" {
		fmt.Fprintf(&sb, "\nOutput: %s\n", truncate(ex.Output, maxInfoChars))
	}
	if ex.PageContent != "" {
		sb.WriteString("\nPage content")
		if ex.PageURL != "" {
			fmt.Fprintf(&sb, " (%s)", ex.PageURL)
		}
		sb.WriteString(":\n")
		sb.WriteString(truncate(ex.PageContent, maxContentChars))
		sb.WriteString("\n")
	}
	if len(ex.BrowserInfo) > 0 {
		fmt.Fprintf(&sb, "\nBrowser: %s\n", truncate(compact(ex.BrowserInfo), maxInfoChars))
	}

	if r.Debug {
		if len(r.Request) > 0 {
			fmt.Fprintf(&sb, "\nRequest: %s\n", compact(r.Request))
		}
		sb.WriteString("\nResponse:\n")
		for _, evt := range r.Events {
			fmt.Fprintf(&sb, "  %s\n", compact(evt.Raw()))
		}
	}

	sb.WriteString("\n")
	if ex.ElapsedTime != nil {
		fmt.Fprintf(&sb, "Remote time: %.2fs\n", *ex.ElapsedTime)
	}
	fmt.Fprintf(&sb, "Total time: %s\n", r.Elapsed.Round(time.Millisecond))
	writeSession(&sb, r.Session)

	sb.WriteString("\n⚠️  ")
	sb.WriteString(AcknowledgementReminder)
	sb.WriteString("\n")

	sb.WriteString(FormatPending(r.Pending))
	return sb.String()
}

// FormatExit renders the termination summary of a session.
func FormatExit(sess *Session, events []Event, elapsed time.Duration, pending []notify.PendingEvent) string {
	var sb strings.Builder
	sb.WriteString("🛑 Interactive session ended\n")
	writeSession(&sb, sess)
	if trace := FormatTrace(events); trace != "" {
		sb.WriteString("\nExecution trace:\n")
		sb.WriteString(trace)
	}
	fmt.Fprintf(&sb, "Total time: %s\n", elapsed.Round(time.Millisecond))
	sb.WriteString("The next command starts a new session.\n")
	sb.WriteString(FormatPending(pending))
	return sb.String()
}

// FormatPending renders queued UI events in arrival order. It returns an
// empty string when there are none.
func FormatPending(pending []notify.PendingEvent) string {
	if len(pending) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n📨 Messages from the UI since the last command:\n")
	for _, evt := range pending {
		sb.WriteString(evt.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeSession(sb *strings.Builder, sess *Session) {
	if sess == nil {
		return
	}
	fmt.Fprintf(sb, "Session: %s\n", sess.Token)
	if sess.ViewerURL != "" {
		fmt.Fprintf(sb, "Viewer: %s\n", sess.ViewerURL)
	}
}

// FormatTrace renders one line per event, keywords with their status.
func FormatTrace(events []Event) string {
	var sb strings.Builder
	for _, evt := range events {
		switch e := evt.(type) {
		case KeywordEvent:
			line := e.Keyword
			if len(e.Args) > 0 {
				line += "  " + strings.Join(e.Args, "  ")
			}
			status := string(e.Status)
			if status == "" {
				status = "?"
			}
			fmt.Fprintf(&sb, "  %-7s %s", status, line)
			if secs, ok := e.Elapsed(); ok {
				fmt.Fprintf(&sb, " (%.2fs)", secs)
			}
			sb.WriteString("\n")
			if e.Message != "" && e.Status == StatusFail {
				fmt.Fprintf(&sb, "          %s\n", e.Message)
			}
		case ErrorEvent:
			if e.Message != "" {
				fmt.Fprintf(&sb, "  %-7s %s\n", strings.ToUpper(e.Type), e.Message)
			}
		case ContentEvent:
			fmt.Fprintf(&sb, "  CONTENT %d chars\n", len(e.Content))
		case BrowserInfoEvent:
			sb.WriteString("  TABS    browser info captured\n")
		case ScreenshotEvent:
			sb.WriteString("  IMAGE   screenshot attached\n")
		}
	}
	return sb.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n... (%d more characters)", len(s)-limit)
}
