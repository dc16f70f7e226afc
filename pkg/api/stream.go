package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxEventBytes bounds one streamed event; screenshots arrive inline.
const maxEventBytes = 32 << 20

// readEvents reads an execution trace. The server answers with NDJSON, a
// JSON array, an {"events": [...]} envelope, or server-sent events; all are
// flattened into one ordered list.
func readEvents(r io.Reader, contentType string, onEvent func(json.RawMessage)) ([]json.RawMessage, error) {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/event-stream") {
		return readSSE(r, onEvent)
	}

	var out []json.RawMessage
	emit := func(raw json.RawMessage) {
		out = append(out, raw)
		if onEvent != nil {
			onEvent(raw)
		}
	}

	dec := json.NewDecoder(r)
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, decodeError("event stream", err)
		}
		for _, evt := range flatten(raw) {
			emit(evt)
		}
	}
}

func readSSE(r io.Reader, onEvent func(json.RawMessage)) ([]json.RawMessage, error) {
	var out []json.RawMessage
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxEventBytes)

	var data bytes.Buffer
	flush := func() {
		if data.Len() == 0 {
			return
		}
		payload := bytes.TrimSpace(data.Bytes())
		data.Reset()
		if len(payload) == 0 || !json.Valid(payload) {
			return
		}
		for _, evt := range flatten(append(json.RawMessage(nil), payload...)) {
			out = append(out, evt)
			if onEvent != nil {
				onEvent(evt)
			}
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read event stream: %w", err)
	}
	return out, nil
}

// flatten expands arrays and {"events": [...]} envelopes.
func flatten(raw json.RawMessage) []json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err == nil {
			return items
		}
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err == nil {
			if events, ok := envelope["events"]; ok {
				if _, typed := envelope["type"]; !typed {
					var items []json.RawMessage
					if err := json.Unmarshal(events, &items); err == nil {
						return items
					}
				}
			}
		}
	}
	return []json.RawMessage{trimmed}
}
