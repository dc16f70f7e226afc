// Package bus provides the message bus the UI notification channel rides on.
// Notifications for a session's viewer are published on the room's outbound
// subject; messages typed into the viewer arrive on the inbound subject.
// Three transports are available: the API's WebSocket relay (default), NATS,
// and an in-memory bus for tests and offline use.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

var (
	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus or subscription closed")

	// ErrNotConnected is returned when a transport has no live connection.
	ErrNotConnected = errors.New("bus not connected")
)

// Subject directions for a room.
const (
	DirectionOut = "out" // client -> viewer
	DirectionIn  = "in"  // viewer -> client
)

// SubjectPrefix namespaces every helpmetest subject.
const SubjectPrefix = "helpmetest.ui"

// MessageBus is the publish/subscribe interface used by the notification channel.
// Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns once the message is handed to the transport; delivery is not awaited.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// Supports wildcards: "helpmetest.ui.*.in" matches every room's inbound subject.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(msg *Message)

// Message represents an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe stops receiving messages and cleans up resources.
	Unsubscribe() error

	// Subject returns the subject pattern this subscription is for.
	Subject() string
}

// Config holds configuration for creating a MessageBus.
type Config struct {
	// Transport selects the implementation: "websocket", "nats" or "memory".
	Transport string

	// URL is the NATS server URL for the nats transport, or the API base URL
	// for the websocket transport.
	URL string

	// Token authenticates against NATS or the API.
	Token string

	// Path is the WebSocket endpoint path on the API.
	Path string

	// Name is a client identifier for debugging/monitoring.
	Name string

	// Timeout is the default connect/write timeout.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Transport: "websocket",
		URL:       "https://helpmetest.com",
		Path:      "/api/ws",
		Name:      "helpmetest",
		Timeout:   10 * time.Second,
	}
}

// New creates the bus selected by cfg.Transport.
func New(cfg Config) (MessageBus, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", "websocket", "ws":
		return NewWSBus(cfg)
	case "nats":
		return NewNATSBus(cfg)
	case "memory":
		return NewMemoryBus(), nil
	default:
		return nil, fmt.Errorf("unknown bus transport %q", cfg.Transport)
	}
}

// RoomSubject returns the subject for one direction of a room. Characters that
// carry meaning in subjects (separators, wildcards, whitespace) are replaced
// with underscores so arbitrary room strings stay a single token.
func RoomSubject(room, direction string) string {
	return SubjectPrefix + "." + escapeToken(room) + "." + direction
}

func escapeToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '.', r == '*', r == '>':
			return '_'
		case unicode.IsSpace(r):
			return '_'
		default:
			return r
		}
	}, s)
}

// matchSubject checks if a subject matches a pattern with wildcards.
// Supports "*" for single token and ">" for multiple tokens.
func matchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	subjectParts := strings.Split(subject, ".")

	pi, si := 0, 0
	for pi < len(patternParts) && si < len(subjectParts) {
		switch patternParts[pi] {
		case "*":
			pi++
			si++
		case ">":
			return true
		default:
			if patternParts[pi] != subjectParts[si] {
				return false
			}
			pi++
			si++
		}
	}

	return pi == len(patternParts) && si == len(subjectParts)
}
