package interactive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/helpmetest/cli/pkg/browser"
	"github.com/helpmetest/cli/pkg/logging"
	"github.com/helpmetest/cli/pkg/notify"
	"github.com/helpmetest/cli/pkg/storage"
	"github.com/helpmetest/cli/pkg/telemetry"
)

const (
	DefaultTimeout = 5 * time.Second
	MaxTimeout     = 300 * time.Second
	// DefaultTimeoutGrace is added to a command's timeout before the client
	// gives up waiting for the executor.
	DefaultTimeoutGrace = 15 * time.Second
)

// ExecuteRequest is one command sent to the remote executor.
type ExecuteRequest struct {
	SessionToken string `json:"timestamp"`
	Command      string `json:"command"`
	Explanation  string `json:"explanation"`
	Line         int    `json:"line,omitempty"`
	Debug        bool   `json:"debug,omitempty"`
	TimeoutMS    int    `json:"timeout"`
	Screenshot   bool   `json:"screenshot,omitempty"`
}

// Executor runs commands in a remote browser session.
//
//go:generate mockgen -package=interactive -destination=mock_executor_test.go github.com/helpmetest/cli/pkg/interactive Executor
type Executor interface {
	Execute(ctx context.Context, req ExecuteRequest) ([]json.RawMessage, error)
	// EndSession closes the remote browser. timeout is passed on to the
	// executor the same way as ExecuteRequest.TimeoutMS.
	EndSession(ctx context.Context, token string, timeout time.Duration) ([]json.RawMessage, error)
}

// IdentityProvider resolves the tenant of the API token. Implementations
// memoize.
type IdentityProvider interface {
	Identity(ctx context.Context) (Identity, error)
}

// IdentityFunc adapts a function to IdentityProvider.
type IdentityFunc func(ctx context.Context) (Identity, error)

func (f IdentityFunc) Identity(ctx context.Context) (Identity, error) { return f(ctx) }

// Notifier is the UI channel as seen by the coordinator.
type Notifier interface {
	Notify(ctx context.Context, room string, n notify.Notification)
	DrainPending() []notify.PendingEvent
	InjectSystemMessage(text string)
	Watch(ctx context.Context, room string) error
}

// History records sessions and commands locally.
type History interface {
	RecordSession(ctx context.Context, rec storage.SessionRecord) error
	EndSession(ctx context.Context, token string, at time.Time) error
	RecordCommand(ctx context.Context, rec storage.CommandRecord) (int64, error)
}

// CommandArgs are the inputs of one run_interactive_command call.
type CommandArgs struct {
	Command     string
	Explanation string
	Line        int
	Debug       bool
	// TimeoutMS of zero selects the coordinator default.
	TimeoutMS int
	Token     string
	// Screenshot nil selects the coordinator default.
	Screenshot *bool
	Message    string
	Tasks      []notify.Task
}

func (a CommandArgs) acknowledges() bool {
	return strings.TrimSpace(a.Message) != "" || len(a.Tasks) > 0
}

// AckArgs is a standalone acknowledgement.
type AckArgs struct {
	Message string
	Tasks   []notify.Task
	Token   string
}

// Result is the outcome of a coordinator call.
type Result struct {
	Text        string
	Screenshots []Screenshot
	IsError     bool
	Session     *Session
	MessageID   string
	Ended       bool
}

// Command is a parsed command. Exit is recognized before dispatch.
type Command struct {
	Text string
	Exit bool
}

// ParseCommand classifies raw command text.
func ParseCommand(text string) Command {
	trimmed := strings.TrimSpace(text)
	return Command{Text: trimmed, Exit: strings.EqualFold(trimmed, "exit")}
}

// Coordinator is the stateful core of interactive mode. Calls are
// serialized; one command is in flight at a time.
type Coordinator struct {
	mu sync.Mutex

	state    *SessionContext
	registry *Registry
	executor Executor
	identity IdentityProvider
	notifier Notifier
	history  History
	logger   *logging.Logger
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string

	opener         browser.Opener
	hints          HintSource
	defaultTimeout time.Duration
	grace          time.Duration
	autoScreenshot bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithSessionContext(state *SessionContext) Option {
	return func(c *Coordinator) {
		if state != nil {
			c.state = state
		}
	}
}

func WithOpener(o browser.Opener) Option {
	return func(c *Coordinator) { c.opener = o }
}

func WithHints(h HintSource) Option {
	return func(c *Coordinator) { c.hints = h }
}

func WithHistory(h History) Option {
	return func(c *Coordinator) { c.history = h }
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logging.OrDiscard(l) }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) {
		if gen != nil {
			c.newID = gen
		}
	}
}

// WithDefaultTimeout sets the timeout used when a call does not pass one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.defaultTimeout = clampTimeout(d)
		}
	}
}

// WithTimeoutGrace sets how long past a command's timeout the client waits.
func WithTimeoutGrace(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.grace = d
		}
	}
}

// WithAutoScreenshot requests a screenshot with every command unless the
// call says otherwise.
func WithAutoScreenshot(v bool) Option {
	return func(c *Coordinator) { c.autoScreenshot = v }
}

// NewCoordinator wires a coordinator. notifier may be a channel without a
// transport; it must not be nil.
func NewCoordinator(executor Executor, identity IdentityProvider, notifier Notifier, opts ...Option) *Coordinator {
	c := &Coordinator{
		state:          NewSessionContext(),
		executor:       executor,
		identity:       identity,
		notifier:       notifier,
		logger:         logging.Discard(),
		tracer:         telemetry.Tracer(),
		now:            time.Now,
		newID:          func() string { return ulid.Make().String() },
		defaultTimeout: DefaultTimeout,
		grace:          DefaultTimeoutGrace,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.registry = NewRegistry(c.state, c.opener, notifier, c.hints, c.logger)
	c.registry.now = c.now
	return c
}

// State exposes the session context for status reporting.
func (c *Coordinator) State() *SessionContext { return c.state }

// Registry exposes the session registry.
func (c *Coordinator) Registry() *Registry { return c.registry }

// RunCommand runs one interactive command.
//
// It fails with ErrAcknowledgementRequired, before contacting anything
// remote, when the previous command has not been acknowledged and args carry
// no inline acknowledgement. Executor errors are returned as-is and leave the
// acknowledgement flag untouched. A command that ran to completion, pass or
// fail, returns a Result and sets the flag; exit clears it.
func (c *Coordinator) RunCommand(ctx context.Context, args CommandArgs) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.now()
	cmd := ParseCommand(args.Command)

	ctx, span := c.tracer.Start(ctx, "interactive.run_command",
		trace.WithAttributes(
			telemetry.AttrCommand.String(cmd.Text),
			telemetry.AttrSessionToken.String(args.Token),
		))
	defer span.End()

	if cmd.Text == "" {
		return nil, invalidInput("command is required")
	}
	if !cmd.Exit && strings.TrimSpace(args.Explanation) == "" {
		return nil, invalidInput("explanation is required")
	}

	if !cmd.Exit && c.state.AwaitingAcknowledgement() && !args.acknowledges() {
		telemetry.AckRejections.Inc()
		err := newAcknowledgementRequired(c.state.Current())
		span.SetStatus(codes.Error, "acknowledgement required")
		return nil, err
	}

	if cmd.Exit && strings.TrimSpace(args.Token) == "" && c.state.Current() == "" {
		return &Result{Text: "No active interactive session to end."}, nil
	}

	id, err := c.identity.Identity(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "identity lookup failed")
		return nil, err
	}

	sess := c.registry.Resolve(ctx, args.Token, id)
	span.SetAttributes(
		telemetry.AttrSessionToken.String(sess.Token),
		telemetry.AttrRoom.String(sess.Room),
	)
	log := c.logger.WithSession(sess.Token)
	c.recordSession(ctx, sess)

	if err := c.notifier.Watch(ctx, sess.Room); err != nil {
		log.DebugContext(ctx, "ui room watch failed", "room", sess.Room, "error", err)
	}

	if args.acknowledges() {
		c.notifier.Notify(ctx, sess.Room, notify.AgentMessage(c.newID(), args.Message, args.Tasks))
		c.state.setAwaitingAck(false)
	}

	messageID := c.newID()
	span.SetAttributes(telemetry.AttrMessageID.String(messageID))
	c.notifier.Notify(ctx, sess.Room, notify.CommandNotification(messageID, cmd.Text, args.Explanation, notify.StatusRunning))
	log.CommandStarted(ctx, messageID, cmd.Text)

	if cmd.Exit {
		return c.endSession(ctx, span, log, sess, messageID, args, start)
	}

	timeout := c.timeoutFor(args.TimeoutMS)
	req := ExecuteRequest{
		SessionToken: sess.Token,
		Command:      cmd.Text,
		Explanation:  args.Explanation,
		Line:         args.Line,
		Debug:        args.Debug,
		TimeoutMS:    int(timeout / time.Millisecond),
		Screenshot:   c.autoScreenshot,
	}
	if args.Screenshot != nil {
		req.Screenshot = *args.Screenshot
	}

	raws, err := c.execute(ctx, req, timeout)
	if err != nil {
		c.notifier.Notify(ctx, sess.Room, notify.CommandNotification(messageID, cmd.Text, args.Explanation, notify.StatusFailed))
		telemetry.RecordCommand(telemetry.ResultError, c.now().Sub(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "remote execution failed")
		log.WarnContext(ctx, "interactive command failed remotely", "message_id", messageID, "error", err)
		return nil, err
	}

	events := DecodeEvents(raws)
	cls := ClassifyDetailed(events)
	if cls.Defaulted {
		log.DebugContext(ctx, "no keyword events in trace, classified as success", "message_id", messageID, "events", len(events))
	}
	extraction := Extract(events)

	status := notify.StatusSuccess
	if !cls.Success {
		status = notify.StatusFailed
	}
	c.notifier.Notify(ctx, sess.Room, notify.CommandNotification(messageID, cmd.Text, args.Explanation, status))

	pending := c.notifier.DrainPending()
	elapsed := c.now().Sub(start)

	reqJSON, _ := json.Marshal(req)
	text := FormatResult(Report{
		Command:        cmd.Text,
		Explanation:    args.Explanation,
		Session:        sess,
		Classification: cls,
		Extraction:     extraction,
		Events:         events,
		Request:        reqJSON,
		Debug:          args.Debug,
		Elapsed:        elapsed,
		Pending:        pending,
	})

	c.state.setAwaitingAck(true)

	result := telemetry.ResultSuccess
	if !cls.Success {
		result = telemetry.ResultFailed
	}
	telemetry.RecordCommand(result, elapsed)
	log.CommandFinished(ctx, messageID, cls.Success, len(events))
	span.SetAttributes(
		telemetry.AttrSuccess.Bool(cls.Success),
		telemetry.AttrEventCount.Int(len(events)),
	)
	if !cls.Success {
		span.SetStatus(codes.Error, cls.Reason)
	}

	c.recordCommand(ctx, storage.CommandRecord{
		SessionToken: sess.Token,
		MessageID:    messageID,
		Command:      cmd.Text,
		Explanation:  args.Explanation,
		Line:         args.Line,
		Success:      cls.Success,
		Error:        extraction.Error,
		EventCount:   len(events),
		Elapsed:      elapsed,
		CreatedAt:    start,
	})

	return &Result{
		Text:        text,
		Screenshots: ExtractScreenshots(events),
		IsError:     !cls.Success,
		Session:     sess,
		MessageID:   messageID,
	}, nil
}

func (c *Coordinator) endSession(ctx context.Context, span trace.Span, log *logging.Logger, sess *Session, messageID string, args CommandArgs, start time.Time) (*Result, error) {
	raws, timedOut, err := c.end(ctx, sess.Token, c.defaultTimeout)
	if err != nil {
		c.notifier.Notify(ctx, sess.Room, notify.CommandNotification(messageID, "Exit", args.Explanation, notify.StatusFailed))
		telemetry.RecordCommand(telemetry.ResultError, c.now().Sub(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "remote end session failed")
		return nil, err
	}

	events := DecodeEvents(raws)
	status := notify.StatusSuccess
	if timedOut {
		status = notify.StatusFailed
		log.WarnContext(ctx, "remote executor did not confirm the end of the session", "message_id", messageID)
	}
	c.notifier.Notify(ctx, sess.Room, notify.CommandNotification(messageID, "Exit", args.Explanation, status))
	pending := c.notifier.DrainPending()

	c.registry.End(sess.Token)
	c.state.setAwaitingAck(false)

	elapsed := c.now().Sub(start)
	telemetry.RecordCommand(telemetry.ResultExit, elapsed)
	log.InfoContext(ctx, "interactive session ended", "message_id", messageID)

	if c.history != nil {
		if err := c.history.EndSession(ctx, sess.Token, c.now()); err != nil {
			log.WarnContext(ctx, "failed to record session end", "error", err)
		}
	}
	c.recordCommand(ctx, storage.CommandRecord{
		SessionToken: sess.Token,
		MessageID:    messageID,
		Command:      "Exit",
		Explanation:  args.Explanation,
		Success:      !timedOut,
		Exit:         true,
		EventCount:   len(events),
		Elapsed:      elapsed,
		CreatedAt:    start,
	})

	return &Result{
		Text:        FormatExit(sess, events, elapsed, pending),
		Screenshots: ExtractScreenshots(events),
		IsError:     timedOut,
		Session:     sess,
		MessageID:   messageID,
		Ended:       true,
	}, nil
}

// end closes the remote session under the same client-side deadline as
// execute. The session is ended locally even when only that deadline
// expires; the synthetic failure event is reported in the trace.
func (c *Coordinator) end(ctx context.Context, token string, timeout time.Duration) ([]json.RawMessage, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout+c.grace)
	defer cancel()

	raws, err := c.executor.EndSession(callCtx, token, timeout)
	if err == nil {
		return raws, false, nil
	}
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return append(raws, timeoutEvent(timeout)), true, nil
	}
	return nil, false, err
}

// execute calls the executor with a client-side deadline of timeout plus
// grace. When only that deadline expires, the call is reported as a failed
// trace rather than an error.
func (c *Coordinator) execute(ctx context.Context, req ExecuteRequest, timeout time.Duration) ([]json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout+c.grace)
	defer cancel()

	raws, err := c.executor.Execute(callCtx, req)
	if err == nil {
		return raws, nil
	}
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return append(raws, timeoutEvent(timeout)), nil
	}
	return nil, err
}

func timeoutEvent(timeout time.Duration) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"type":    "error",
		"error":   true,
		"message": fmt.Sprintf("no response from the remote executor within %s; the command may still be running in the browser", timeout),
	})
	return raw
}

// Acknowledge sends a status message and/or task list to the session viewer
// and clears the acknowledgement requirement.
func (c *Coordinator) Acknowledge(ctx context.Context, args AckArgs) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.TrimSpace(args.Message) == "" && len(args.Tasks) == 0 {
		return nil, invalidInput("message or tasks is required")
	}

	token := strings.TrimSpace(args.Token)
	if token == "" {
		token = c.state.Current()
	}
	if token == "" {
		return nil, invalidInput("no active interactive session; run a command first or pass the session timestamp")
	}

	ctx, span := c.tracer.Start(ctx, "interactive.acknowledge",
		trace.WithAttributes(telemetry.AttrSessionToken.String(token)))
	defer span.End()

	room := ""
	if sess, ok := c.state.Session(token); ok {
		room = sess.Room
	} else {
		id, err := c.identity.Identity(ctx)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		room = RoomFor(id.TenantID, token)
	}
	span.SetAttributes(telemetry.AttrRoom.String(room))

	c.notifier.Notify(ctx, room, notify.AgentMessage(c.newID(), args.Message, args.Tasks))
	c.state.setAwaitingAck(false)

	var sb strings.Builder
	sb.WriteString("✅ Update sent to the UI. You may run the next command.\n")
	sb.WriteString(FormatPending(c.notifier.DrainPending()))
	return &Result{Text: sb.String()}, nil
}

func (c *Coordinator) timeoutFor(ms int) time.Duration {
	if ms <= 0 {
		return c.defaultTimeout
	}
	return clampTimeout(time.Duration(ms) * time.Millisecond)
}

func clampTimeout(d time.Duration) time.Duration {
	if d > MaxTimeout {
		return MaxTimeout
	}
	return d
}

func (c *Coordinator) recordSession(ctx context.Context, sess *Session) {
	if c.history == nil || sess.recorded {
		return
	}
	sess.recorded = true
	err := c.history.RecordSession(ctx, storage.SessionRecord{
		Token:     sess.Token,
		TenantID:  sess.TenantID,
		Room:      sess.Room,
		Origin:    string(sess.Origin),
		StartedAt: sess.CreatedAt,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "failed to record session", "session", sess.Token, "error", err)
	}
}

func (c *Coordinator) recordCommand(ctx context.Context, rec storage.CommandRecord) {
	if c.history == nil {
		return
	}
	if _, err := c.history.RecordCommand(ctx, rec); err != nil {
		c.logger.WarnContext(ctx, "failed to record command", "session", rec.SessionToken, "error", err)
	}
}
