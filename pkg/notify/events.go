// Package notify is the UI notification channel of an interactive session.
// Outbound, it tells the session viewer that a command is running and how it
// ended. Inbound, it queues what the viewer sends back (user chat, task list
// edits, system hints) until the next tool response drains it.
package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes outbound notification payloads.
type Kind string

const (
	// KindCommand reports a command's running/success/failed transition.
	KindCommand Kind = "command"

	// KindAgentMessage carries an acknowledgement: a status message and/or a task list.
	KindAgentMessage Kind = "agent_message"
)

// Status is the lifecycle state of a command notification.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Task is one entry of the agent's task list.
type Task struct {
	Title  string `json:"title" jsonschema:"short description of the task"`
	Status string `json:"status,omitempty" jsonschema:"pending, in_progress or done"`
}

// Notification is published to a room's outbound subject. Command
// notifications reuse MessageID across running -> success/failed so the
// viewer updates the row in place.
type Notification struct {
	Kind        Kind      `json:"kind"`
	MessageID   string    `json:"messageId"`
	Command     string    `json:"command,omitempty"`
	Explanation string    `json:"explanation,omitempty"`
	Status      Status    `json:"status,omitempty"`
	Message     string    `json:"message,omitempty"`
	Tasks       []Task    `json:"tasks,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// CommandNotification builds a command status notification.
func CommandNotification(messageID, command, explanation string, status Status) Notification {
	return Notification{
		Kind:        KindCommand,
		MessageID:   messageID,
		Command:     command,
		Explanation: explanation,
		Status:      status,
	}
}

// AgentMessage builds an acknowledgement notification.
func AgentMessage(messageID, message string, tasks []Task) Notification {
	return Notification{
		Kind:      KindAgentMessage,
		MessageID: messageID,
		Message:   message,
		Tasks:     tasks,
	}
}

// PendingKind identifies where a pending event came from.
type PendingKind string

const (
	PendingSystem PendingKind = "system"
	PendingUser   PendingKind = "user"
	PendingTasks  PendingKind = "tasks"
)

// PendingEvent is something that arrived between tool calls and must be
// shown to the agent on its next response.
type PendingEvent struct {
	Kind       PendingKind `json:"kind"`
	Text       string      `json:"text,omitempty"`
	From       string      `json:"from,omitempty"`
	Tasks      []Task      `json:"tasks,omitempty"`
	ReceivedAt time.Time   `json:"receivedAt"`
}

// String renders the event the way it is appended to tool output.
func (e PendingEvent) String() string {
	switch e.Kind {
	case PendingTasks:
		var sb strings.Builder
		sb.WriteString("[tasks] task list updated")
		for _, t := range e.Tasks {
			status := t.Status
			if status == "" {
				status = "pending"
			}
			fmt.Fprintf(&sb, "\n  - [%s] %s", status, t.Title)
		}
		return sb.String()
	case PendingUser:
		if e.From != "" {
			return fmt.Sprintf("[user %s] %s", e.From, e.Text)
		}
		return "[user] " + e.Text
	default:
		return fmt.Sprintf("[%s] %s", e.Kind, e.Text)
	}
}

// inboundMessage is the wire shape of messages the viewer publishes.
// "type" and "message" are accepted as aliases of "kind" and "text".
type inboundMessage struct {
	Kind    string `json:"kind"`
	Type    string `json:"type"`
	Text    string `json:"text"`
	Message string `json:"message"`
	From    string `json:"from"`
	Tasks   []Task `json:"tasks"`
}

// ParsePendingEvent decodes an inbound viewer message.
func ParsePendingEvent(data []byte) (PendingEvent, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return PendingEvent{}, fmt.Errorf("decode inbound message: %w", err)
	}

	kind := strings.ToLower(strings.TrimSpace(msg.Kind))
	if kind == "" {
		kind = strings.ToLower(strings.TrimSpace(msg.Type))
	}
	text := msg.Text
	if text == "" {
		text = msg.Message
	}

	evt := PendingEvent{Text: text, From: msg.From, Tasks: msg.Tasks}
	switch kind {
	case "system":
		evt.Kind = PendingSystem
	case "tasks", "task_list", "tasks_updated":
		evt.Kind = PendingTasks
	case "user", "chat", "user_message", "":
		evt.Kind = PendingUser
		if kind == "" && len(msg.Tasks) > 0 && text == "" {
			evt.Kind = PendingTasks
		}
	default:
		return PendingEvent{}, fmt.Errorf("unknown inbound message kind %q", kind)
	}

	if evt.Kind != PendingTasks && strings.TrimSpace(evt.Text) == "" {
		return PendingEvent{}, fmt.Errorf("inbound %s message has no text", evt.Kind)
	}
	return evt, nil
}
