package bus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// relay is a minimal stand-in for the API's WebSocket relay: it echoes
// published frames back to the same socket when a matching subscription exists.
type relay struct {
	mu        sync.Mutex
	auth      string
	subjects  map[string]bool
	published []Frame
}

func (r *relay) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.auth = req.Header.Get("Authorization")
		r.mu.Unlock()

		conn, err := websocket.Accept(w, req, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := req.Context()
		for {
			var frame Frame
			if err := wsjson.Read(ctx, conn, &frame); err != nil {
				return
			}
			r.mu.Lock()
			switch frame.Op {
			case opSubscribe:
				r.subjects[frame.Subject] = true
			case opUnsubscribe:
				delete(r.subjects, frame.Subject)
			case opPublish:
				r.published = append(r.published, frame)
			}
			var echo bool
			for pattern := range r.subjects {
				if frame.Op == opPublish && matchSubject(pattern, frame.Subject) {
					echo = true
				}
			}
			r.mu.Unlock()

			if echo {
				out := Frame{Op: opMessage, Subject: frame.Subject, Data: frame.Data}
				if err := wsjson.Write(ctx, conn, out); err != nil {
					return
				}
			}
		}
	}
}

func newRelay(t *testing.T) (*relay, *httptest.Server) {
	t.Helper()
	r := &relay{subjects: make(map[string]bool)}
	srv := httptest.NewServer(r.handler(t))
	t.Cleanup(srv.Close)
	return r, srv
}

func TestWSEndpoint(t *testing.T) {
	tests := []struct {
		base string
		path string
		want string
	}{
		{"https://helpmetest.com", "/api/ws", "wss://helpmetest.com/api/ws"},
		{"http://localhost:8080/", "", "ws://localhost:8080/api/ws"},
		{"staging.helpmetest.com", "relay", "wss://staging.helpmetest.com/relay"},
		{"https://example.com/prefix?x=1", "/api/ws", "wss://example.com/prefix/api/ws"},
	}
	for _, tt := range tests {
		got, err := wsEndpoint(tt.base, tt.path)
		if err != nil {
			t.Fatalf("wsEndpoint(%q): %v", tt.base, err)
		}
		if got != tt.want {
			t.Errorf("wsEndpoint(%q, %q) = %q, want %q", tt.base, tt.path, got, tt.want)
		}
	}

	if _, err := wsEndpoint("", "/api/ws"); err == nil {
		t.Error("expected error for empty base")
	}
	if _, err := wsEndpoint("ftp://example.com", ""); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestWSBus_PublishSubscribeRoundTrip(t *testing.T) {
	r, srv := newRelay(t)

	b, err := NewWSBus(Config{URL: srv.URL, Path: "/api/ws", Token: "HELP-secret", Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewWSBus: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *Message, 2)
	sub, err := b.Subscribe(ctx, "helpmetest.ui.*.in", func(msg *Message) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub.Subject() != "helpmetest.ui.*.in" {
		t.Errorf("Subject() = %q", sub.Subject())
	}

	if err := b.Publish(ctx, "helpmetest.ui.room.in", []byte(`{"kind":"user","text":"hi"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Subject != "helpmetest.ui.room.in" {
			t.Errorf("subject = %q", msg.Subject)
		}
		if string(msg.Data) != `{"kind":"user","text":"hi"}` {
			t.Errorf("data = %s", msg.Data)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for relayed message")
	}

	if err := b.Publish(ctx, "helpmetest.ui.room.in", []byte("plain text")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case msg := <-received:
		if string(msg.Data) != "plain text" {
			t.Errorf("non-JSON payload = %q", msg.Data)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for relayed text message")
	}

	r.mu.Lock()
	auth := r.auth
	r.mu.Unlock()
	if auth != "Bearer HELP-secret" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestWSBus_PublishOnly(t *testing.T) {
	r, srv := newRelay(t)

	b, err := NewWSBus(Config{URL: srv.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewWSBus: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	if err := b.Publish(ctx, "helpmetest.ui.room.out", []byte(`{"status":"running"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		n := len(r.published)
		r.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("relay never saw the published frame")
}

func TestWSBus_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	b, err := NewWSBus(Config{URL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewWSBus: %v", err)
	}
	defer b.Close()

	if err := b.Publish(context.Background(), "x", []byte("{}")); err == nil {
		t.Fatal("expected dial failure")
	}
	if _, err := b.Subscribe(context.Background(), "x", func(*Message) {}); err == nil {
		t.Fatal("expected subscribe to fail")
	}
	if b.hasSubs() {
		t.Error("failed subscribe should not leave a registration behind")
	}
}

func TestWSBus_Closed(t *testing.T) {
	b, err := NewWSBus(Config{URL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("NewWSBus: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Publish(context.Background(), "x", nil); err != ErrClosed {
		t.Errorf("Publish after close = %v, want ErrClosed", err)
	}
}
