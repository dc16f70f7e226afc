// Package interactive runs single browser-automation commands against a
// persistent remote session and coordinates the turn-taking protocol with the
// session viewer.
package interactive

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Status is the outcome a keyword event reports.
type Status string

const (
	StatusPass   Status = "PASS"
	StatusFail   Status = "FAIL"
	StatusNotSet Status = "NOT SET"
)

func normalizeStatus(s string) Status {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", " ")
	switch s {
	case "NOTSET":
		return StatusNotSet
	default:
		return Status(s)
	}
}

// Event is one record of a command's execution trace. The set of variants is
// closed; anything unrecognized decodes to UnknownEvent.
type Event interface {
	// Raw returns the event exactly as the executor sent it.
	Raw() json.RawMessage
	// ErrorMarker reports whether the event carries a top-level error flag,
	// along with the error text when the flag was a string.
	ErrorMarker() (bool, string)
	// Elapsed returns the elapsed time in seconds when the event has one.
	Elapsed() (float64, bool)

	event()
}

type eventBase struct {
	raw        json.RawMessage
	hasError   bool
	errorText  string
	output     string
	elapsed    float64
	hasElapsed bool
}

func (b eventBase) Raw() json.RawMessage { return b.raw }

func (b eventBase) ErrorMarker() (bool, string) { return b.hasError, b.errorText }

func (b eventBase) Elapsed() (float64, bool) { return b.elapsed, b.hasElapsed }

func (eventBase) event() {}

// KeywordEvent is one executed automation keyword.
type KeywordEvent struct {
	eventBase
	Keyword string
	Args    []string
	Status  Status
	Message string
}

// ContentEvent carries readable page content.
type ContentEvent struct {
	eventBase
	Content string
	URL     string
}

// BrowserInfoEvent describes open tabs or the browser itself.
type BrowserInfoEvent struct {
	eventBase
	Info json.RawMessage
}

// ErrorEvent is an error, message or log record.
type ErrorEvent struct {
	eventBase
	Type    string
	Message string
}

// ScreenshotEvent carries an image payload, possibly data-URI prefixed.
type ScreenshotEvent struct {
	eventBase
	Data string
}

// UnknownEvent is anything else, including objects that failed to decode.
type UnknownEvent struct {
	eventBase
	Type string
}

// DecodeEvents decodes a trace. It never fails.
func DecodeEvents(raws []json.RawMessage) []Event {
	events := make([]Event, 0, len(raws))
	for _, raw := range raws {
		events = append(events, DecodeEvent(raw))
	}
	return events
}

// DecodeEvent maps one raw record onto its variant.
func DecodeEvent(raw json.RawMessage) Event {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return UnknownEvent{eventBase: eventBase{raw: raw}}
	}

	base := eventBase{raw: raw}
	base.hasError, base.errorText = errorMarker(fields)
	base.output = stringField(fields, "output", "return_value", "result")
	base.elapsed, base.hasElapsed = elapsedField(fields)

	typ := stringField(fields, "type")
	if typ == "error" {
		base.hasError = true
	}

	switch strings.ToLower(typ) {
	case "keyword", "start_keyword", "end_keyword":
		return keywordEvent(base, fields)
	case "extractreadablecontent", "content":
		return ContentEvent{
			eventBase: base,
			Content:   stringField(fields, "content", "text"),
			URL:       stringField(fields, "url"),
		}
	case "getalltabsinfo", "browser_info", "tabs":
		return BrowserInfoEvent{eventBase: base, Info: browserInfo(fields, raw)}
	case "error", "message", "log":
		msg := stringField(fields, "message", "text")
		if msg == "" {
			msg = base.errorText
		}
		return ErrorEvent{eventBase: base, Type: strings.ToLower(typ), Message: msg}
	case "screenshot":
		return ScreenshotEvent{eventBase: base, Data: stringField(fields, "base64", "screenshot", "data", "image")}
	}

	if _, ok := fields["keyword"]; ok {
		if _, ok := fields["status"]; ok {
			return keywordEvent(base, fields)
		}
	}
	if data := stringField(fields, "base64", "screenshot"); data != "" {
		return ScreenshotEvent{eventBase: base, Data: data}
	}
	return UnknownEvent{eventBase: base, Type: typ}
}

func keywordEvent(base eventBase, fields map[string]json.RawMessage) KeywordEvent {
	kw := KeywordEvent{
		eventBase: base,
		Keyword:   stringField(fields, "keyword", "name"),
		Status:    normalizeStatus(stringField(fields, "status")),
		Message:   stringField(fields, "message"),
	}
	if rawArgs, ok := fields["args"]; ok {
		var args []any
		if json.Unmarshal(rawArgs, &args) == nil {
			for _, a := range args {
				kw.Args = append(kw.Args, scalarString(a))
			}
		}
	}
	return kw
}

func browserInfo(fields map[string]json.RawMessage, raw json.RawMessage) json.RawMessage {
	for _, key := range []string{"tabs", "info", "browser", "data"} {
		if v, ok := fields[key]; ok && !isNull(v) {
			return v
		}
	}
	return raw
}

func errorMarker(fields map[string]json.RawMessage) (bool, string) {
	v, ok := fields["error"]
	if !ok || isNull(v) {
		return false, ""
	}
	var b bool
	if json.Unmarshal(v, &b) == nil {
		return b, ""
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		s = strings.TrimSpace(s)
		return s != "", s
	}
	var obj map[string]any
	if json.Unmarshal(v, &obj) == nil {
		if msg, ok := obj["message"].(string); ok {
			return true, msg
		}
		return true, compact(v)
	}
	return false, ""
}

func elapsedField(fields map[string]json.RawMessage) (float64, bool) {
	for _, key := range []string{"elapsed_time", "elapsedTime"} {
		v, ok := fields[key]
		if !ok || isNull(v) {
			continue
		}
		var f float64
		if json.Unmarshal(v, &f) == nil {
			return f, true
		}
		var s string
		if json.Unmarshal(v, &s) == nil {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// stringField returns the first of keys holding a non-empty value. Strings
// are returned as-is; other JSON values are returned compacted.
func stringField(fields map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		v, ok := fields[key]
		if !ok || isNull(v) {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if s != "" {
				return s
			}
			continue
		}
		if c := compact(v); c != "" {
			return c
		}
	}
	return ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func compact(v json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return strings.TrimSpace(string(v))
	}
	return buf.String()
}
