package interactive

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/helpmetest/cli/pkg/browser"
	"github.com/helpmetest/cli/pkg/logging"
	"github.com/helpmetest/cli/pkg/telemetry"
)

// TokenLayout formats minted session tokens. Tokens sort lexically.
const TokenLayout = "2006-01-02T15:04:05.000Z"

// Origin records how a session became known to this process.
type Origin string

const (
	OriginMinted   Origin = "minted"
	OriginExplicit Origin = "explicit"
)

// Identity is the tenant the API token belongs to.
type Identity struct {
	TenantID     string
	DashboardURL string
}

// Session is an interactive session known to this process.
type Session struct {
	Token     string
	TenantID  string
	Room      string
	ViewerURL string
	Origin    Origin
	CreatedAt time.Time

	recorded bool
}

// RoomFor derives the notification room of a session.
func RoomFor(tenantID, token string) string {
	return tenantID + "__interactive__" + token
}

// ViewerURL is where the dashboard shows a session live.
func ViewerURL(dashboard, token string) string {
	return strings.TrimRight(dashboard, "/") + "/interactive/" + url.PathEscape(token)
}

// SessionContext is the per-process interactive state: the current session,
// the acknowledgement flag and the one-time side-effect guards. Tests get a
// fresh one per case.
type SessionContext struct {
	mu             sync.Mutex
	current        string
	sessions       map[string]*Session
	viewerOpened   map[string]bool
	onboardingSent bool
	awaitingAck    bool
	lastMinted     time.Time
}

// NewSessionContext returns empty state.
func NewSessionContext() *SessionContext {
	return &SessionContext{
		sessions:     make(map[string]*Session),
		viewerOpened: make(map[string]bool),
	}
}

// Current returns the current session token, empty when idle.
func (c *SessionContext) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Session returns a known session by token.
func (c *SessionContext) Session(token string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[token]
	return s, ok
}

// AwaitingAcknowledgement reports whether the next command is blocked.
func (c *SessionContext) AwaitingAcknowledgement() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaitingAck
}

func (c *SessionContext) setAwaitingAck(v bool) {
	c.mu.Lock()
	c.awaitingAck = v
	c.mu.Unlock()
}

// OnboardingSent reports whether the one-time hint was injected.
func (c *SessionContext) OnboardingSent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onboardingSent
}

// SessionCount is the number of sessions seen by this process.
func (c *SessionContext) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// SystemMessenger receives the onboarding hint.
type SystemMessenger interface {
	InjectSystemMessage(text string)
}

// HintSource provides the onboarding hint text.
type HintSource interface {
	OnboardingHint(ctx context.Context) string
}

// HintFunc adapts a function to HintSource.
type HintFunc func(ctx context.Context) string

func (f HintFunc) OnboardingHint(ctx context.Context) string { return f(ctx) }

// Registry resolves which session a command runs in.
type Registry struct {
	state     *SessionContext
	opener    browser.Opener
	messenger SystemMessenger
	hints     HintSource
	logger    *logging.Logger
	now       func() time.Time
}

// NewRegistry builds a registry over state. opener, messenger and hints may be
// nil.
func NewRegistry(state *SessionContext, opener browser.Opener, messenger SystemMessenger, hints HintSource, logger *logging.Logger) *Registry {
	if state == nil {
		state = NewSessionContext()
	}
	if opener == nil {
		opener = browser.NoopOpener{}
	}
	return &Registry{
		state:     state,
		opener:    opener,
		messenger: messenger,
		hints:     hints,
		logger:    logging.OrDiscard(logger),
		now:       time.Now,
	}
}

// Resolve adopts an explicit token, continues the current session, or mints a
// new one. The viewer opens once per token; the onboarding hint is injected
// for the first minted session of the process only. Resolution never fails.
func (r *Registry) Resolve(ctx context.Context, explicitToken string, id Identity) *Session {
	explicitToken = strings.TrimSpace(explicitToken)

	r.state.mu.Lock()
	var sess *Session
	minted := false
	switch {
	case explicitToken != "":
		sess = r.lookupOrAdd(explicitToken, OriginExplicit, id)
	case r.state.current != "":
		sess = r.lookupOrAdd(r.state.current, OriginExplicit, id)
	default:
		sess = r.lookupOrAdd(r.mintLocked(), OriginMinted, id)
		minted = true
	}
	r.state.current = sess.Token

	openViewer := !r.state.viewerOpened[sess.Token]
	r.state.viewerOpened[sess.Token] = true

	injectHint := minted && !r.state.onboardingSent
	if injectHint {
		r.state.onboardingSent = true
	}
	r.state.mu.Unlock()

	if openViewer {
		if err := r.opener.Open(ctx, sess.ViewerURL); err != nil {
			r.logger.WarnContext(ctx, "failed to open session viewer", "url", sess.ViewerURL, "error", err)
		}
	}
	if injectHint && r.messenger != nil && r.hints != nil {
		if hint := strings.TrimSpace(r.hints.OnboardingHint(ctx)); hint != "" {
			r.messenger.InjectSystemMessage(hint)
		}
	}
	return sess
}

// End stops offering token as the current session. Its history is kept.
func (r *Registry) End(token string) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	if r.state.current == token {
		r.state.current = ""
	}
}

// Current returns the current session, nil when idle.
func (r *Registry) Current() *Session {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	if r.state.current == "" {
		return nil
	}
	return r.state.sessions[r.state.current]
}

func (r *Registry) lookupOrAdd(token string, origin Origin, id Identity) *Session {
	if sess, ok := r.state.sessions[token]; ok {
		return sess
	}
	sess := &Session{
		Token:     token,
		TenantID:  id.TenantID,
		Room:      RoomFor(id.TenantID, token),
		ViewerURL: ViewerURL(id.DashboardURL, token),
		Origin:    origin,
		CreatedAt: r.now().UTC(),
	}
	if origin == OriginMinted {
		if t, err := time.Parse(TokenLayout, token); err == nil {
			sess.CreatedAt = t
		}
	}
	r.state.sessions[token] = sess
	telemetry.SessionsStarted.WithLabelValues(string(origin)).Inc()
	return sess
}

// mintLocked returns a token strictly later than any minted before it.
func (r *Registry) mintLocked() string {
	t := r.now().UTC().Truncate(time.Millisecond)
	if !t.After(r.state.lastMinted) {
		t = r.state.lastMinted.Add(time.Millisecond)
	}
	r.state.lastMinted = t
	return t.Format(TokenLayout)
}
