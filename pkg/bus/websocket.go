package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Frame ops exchanged with the API relay.
const (
	opPublish     = "pub"
	opSubscribe   = "sub"
	opUnsubscribe = "unsub"
	opMessage     = "msg"
)

// Frame is one JSON message on the relay socket.
type Frame struct {
	Op      string          `json:"op"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// WSBus implements MessageBus over a single WebSocket to the API relay.
// The socket is dialed lazily and redialed with backoff while subscriptions
// exist; live subscriptions are replayed after every reconnect.
type WSBus struct {
	endpoint string
	header   http.Header
	timeout  time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
	subs map[string]*wsSubscription

	writeMu      sync.Mutex
	reconnecting atomic.Bool
	closed       atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWSBus creates a WebSocket bus for the API at cfg.URL.
func NewWSBus(cfg Config) (*WSBus, error) {
	endpoint, err := wsEndpoint(cfg.URL, cfg.Path)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	if cfg.Name != "" {
		header.Set("User-Agent", cfg.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WSBus{
		endpoint: endpoint,
		header:   header,
		timeout:  cfg.Timeout,
		subs:     make(map[string]*wsSubscription),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func wsEndpoint(base, path string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", errors.New("websocket bus requires an API URL")
	}
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid API URL: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported API URL scheme %q", u.Scheme)
	}
	if path == "" {
		path = "/api/ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = ""
	return u.String(), nil
}

// Endpoint returns the WebSocket URL the bus dials.
func (b *WSBus) Endpoint() string {
	return b.endpoint
}

func (b *WSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	conn, err := b.ready(ctx)
	if err != nil {
		return err
	}
	return b.write(ctx, conn, Frame{Op: opPublish, Subject: subject, Data: encodeData(data)})
}

func (b *WSBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &wsSubscription{
		id:      ulid.Make().String(),
		subject: subject,
		handler: handler,
		bus:     b,
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	conn, fresh, err := b.connect(ctx)
	if err == nil {
		if fresh {
			err = b.resubscribe(ctx, conn)
		} else {
			err = b.write(ctx, conn, Frame{Op: opSubscribe, Subject: subject})
		}
	}
	if err != nil {
		b.removeSub(sub.id)
		return nil, err
	}
	return sub, nil
}

func (b *WSBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	b.cancel()

	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.subs = make(map[string]*wsSubscription)
	b.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client closed")
	}
	return nil
}

// ready returns a live connection with every subscription registered on it.
func (b *WSBus) ready(ctx context.Context) (*websocket.Conn, error) {
	conn, fresh, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}
	if fresh {
		if err := b.resubscribe(ctx, conn); err != nil {
			return nil, err
		}
	}
	return conn, nil
}

// connect returns the live connection, dialing when there is none. fresh
// reports a new dial whose subscriptions still need replaying.
func (b *WSBus) connect(ctx context.Context) (conn *websocket.Conn, fresh bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return b.conn, false, nil
	}
	if b.closed.Load() {
		return nil, false, ErrClosed
	}

	dialCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	conn, resp, err := websocket.Dial(dialCtx, b.endpoint, &websocket.DialOptions{HTTPHeader: b.header.Clone()})
	if err != nil {
		return nil, false, formatDialError(resp, err)
	}
	conn.SetReadLimit(8 << 20)
	b.conn = conn

	go b.readLoop(conn)
	return conn, true, nil
}

func (b *WSBus) resubscribe(ctx context.Context, conn *websocket.Conn) error {
	for _, subject := range b.subjects() {
		if err := b.write(ctx, conn, Frame{Op: opSubscribe, Subject: subject}); err != nil {
			return err
		}
	}
	return nil
}

func (b *WSBus) write(ctx context.Context, conn *websocket.Conn, frame Frame) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, frame); err != nil {
		b.dropConn(conn)
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (b *WSBus) readLoop(conn *websocket.Conn) {
	for {
		var frame Frame
		if err := wsjson.Read(b.ctx, conn, &frame); err != nil {
			b.dropConn(conn)
			if !b.closed.Load() && b.hasSubs() {
				go b.reconnect()
			}
			return
		}
		if frame.Op != opMessage {
			continue
		}
		b.dispatch(&Message{Subject: frame.Subject, Data: decodeData(frame.Data)})
	}
}

func (b *WSBus) dispatch(msg *Message) {
	b.mu.Lock()
	handlers := make([]MessageHandler, 0, len(b.subs))
	for _, sub := range b.subs {
		if matchSubject(sub.subject, msg.Subject) {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

// reconnect redials with exponential backoff and replays subscriptions.
func (b *WSBus) reconnect() {
	if !b.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer b.reconnecting.Store(false)

	backoff := 500 * time.Millisecond
	maxBackoff := 30 * time.Second

	for !b.closed.Load() && b.hasSubs() {
		if _, err := b.ready(b.ctx); err == nil {
			return
		}

		select {
		case <-b.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (b *WSBus) dropConn(conn *websocket.Conn) {
	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
	b.mu.Unlock()
	_ = conn.Close(websocket.StatusGoingAway, "reconnecting")
}

func (b *WSBus) hasSubs() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs) > 0
}

func (b *WSBus) subjects() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]bool, len(b.subs))
	out := make([]string, 0, len(b.subs))
	for _, sub := range b.subs {
		if seen[sub.subject] {
			continue
		}
		seen[sub.subject] = true
		out = append(out, sub.subject)
	}
	return out
}

// removeSub drops a subscription and reports whether its subject is still
// wanted by another subscription.
func (b *WSBus) removeSub(id string) (subject string, shared bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return "", false
	}
	delete(b.subs, id)
	for _, other := range b.subs {
		if other.subject == sub.subject {
			return sub.subject, true
		}
	}
	return sub.subject, false
}

type wsSubscription struct {
	id      string
	subject string
	handler MessageHandler
	bus     *WSBus
	closed  atomic.Bool
}

func (s *wsSubscription) Unsubscribe() error {
	if s.closed.Swap(true) {
		return nil
	}
	subject, shared := s.bus.removeSub(s.id)
	if subject == "" || shared || s.bus.closed.Load() {
		return nil
	}

	s.bus.mu.Lock()
	conn := s.bus.conn
	s.bus.mu.Unlock()
	if conn == nil {
		return nil
	}
	return s.bus.write(context.Background(), conn, Frame{Op: opUnsubscribe, Subject: subject})
}

func (s *wsSubscription) Subject() string {
	return s.subject
}

// encodeData keeps JSON payloads inline and wraps anything else as a string.
func encodeData(data []byte) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	if json.Valid(data) {
		return json.RawMessage(data)
	}
	quoted, _ := json.Marshal(string(data))
	return quoted
}

func decodeData(raw json.RawMessage) []byte {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return []byte(s)
		}
	}
	return []byte(raw)
}

func formatDialError(resp *http.Response, err error) error {
	if resp == nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	if resp.Body != nil {
		defer resp.Body.Close()
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("websocket connection failed (%s): check HELPMETEST_API_TOKEN", resp.Status)
	}
	return fmt.Errorf("websocket connection failed (%s): %v", resp.Status, err)
}
