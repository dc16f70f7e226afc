package mcp

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	hmterrors "github.com/helpmetest/cli/pkg/errors"
	"github.com/helpmetest/cli/pkg/interactive"
)

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// toolError reports err to the agent as a failed tool call.
func toolError(err error) *mcp.CallToolResult {
	res := textResult("❌ " + hmterrors.Format(err))
	res.IsError = true
	return res
}

// interactiveResult converts a coordinator result into one text block
// followed by the screenshots.
func (s *Server) interactiveResult(res *interactive.Result) *mcp.CallToolResult {
	out := textResult(res.Text)
	out.IsError = res.IsError
	for i, shot := range res.Screenshots {
		data, err := decodeScreenshot(shot.Data)
		if err != nil {
			s.logger.Warn("dropping undecodable screenshot", "index", i, "error", err)
			continue
		}
		out.Content = append(out.Content, &mcp.ImageContent{Data: data, MIMEType: shot.MIMEType})
	}
	return out
}

// decodeScreenshot accepts standard or URL-safe base64, padded or not, with
// line breaks or other whitespace anywhere in the payload.
func decodeScreenshot(data string) ([]byte, error) {
	data = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, data)
	if data == "" {
		return nil, fmt.Errorf("empty screenshot payload")
	}

	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		out, err := enc.DecodeString(data)
		if err == nil {
			return out, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func joinTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return " [" + strings.Join(tags, ", ") + "]"
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
