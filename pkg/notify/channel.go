package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/helpmetest/cli/pkg/bus"
	"github.com/helpmetest/cli/pkg/logging"
	"github.com/helpmetest/cli/pkg/telemetry"
)

const (
	DefaultQueueSize   = 256
	DefaultSendTimeout = 10 * time.Second
)

var (
	// ErrQueueFull is reported when the outbound queue has no room left.
	ErrQueueFull = errors.New("notification queue full")

	// ErrChannelClosed is reported for sends after Close.
	ErrChannelClosed = errors.New("notification channel closed")
)

// DeliveryObserver sees every delivery attempt. err is nil on success.
type DeliveryObserver func(room string, n Notification, err error)

// Channel publishes notifications to rooms and buffers inbound events.
//
// Outbound work (publishes and room subscriptions) goes through a bounded
// queue drained by one goroutine, so Notify and Watch return without waiting
// on the transport and never fail the caller. The pending queue is drained
// with an atomic swap so events arriving during a drain are kept for the
// next one.
type Channel struct {
	bus         bus.MessageBus
	logger      *logging.Logger
	observer    DeliveryObserver
	now         func() time.Time
	queueSize   int
	sendTimeout time.Duration

	mu      sync.Mutex
	pending []PendingEvent

	watchMu  sync.Mutex
	watches  map[string]bus.Subscription
	watching map[string]bool

	queue     chan outbound
	stop      chan struct{}
	finished  chan struct{}
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// outbound is one unit of transport work. Exactly one of notification,
// watch or flush is set.
type outbound struct {
	ctx          context.Context
	room         string
	notification *Notification
	watch        bool
	flush        chan struct{}
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *logging.Logger) Option {
	return func(c *Channel) {
		c.logger = logging.OrDiscard(l)
	}
}

// WithObserver registers a delivery observer.
func WithObserver(o DeliveryObserver) Option {
	return func(c *Channel) {
		c.observer = o
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) {
		if now != nil {
			c.now = now
		}
	}
}

// WithQueueSize bounds the outbound queue. Sends beyond it are dropped and
// reported as ErrQueueFull.
func WithQueueSize(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithSendTimeout bounds each publish or subscribe on the transport.
func WithSendTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.sendTimeout = d
		}
	}
}

// NewChannel creates a channel on top of b. A nil bus makes every Notify a
// logged no-op, which is how the CLI runs with the UI transport disabled.
func NewChannel(b bus.MessageBus, opts ...Option) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		bus:         b,
		logger:      logging.Discard(),
		now:         time.Now,
		queueSize:   DefaultQueueSize,
		sendTimeout: DefaultSendTimeout,
		watches:     make(map[string]bus.Subscription),
		watching:    make(map[string]bool),
		stop:        make(chan struct{}),
		finished:    make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.queue = make(chan outbound, c.queueSize)
	go c.run()
	return c
}

// Notify queues n for the room's outbound subject and returns immediately.
// Failures are logged, counted and reported to the observer but never
// returned.
func (c *Channel) Notify(ctx context.Context, room string, n Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = c.now().UTC()
	}
	if err := c.send(outbound{ctx: ctx, room: room, notification: &n}); err != nil {
		c.delivered(ctx, room, n, err)
	}
}

func (c *Channel) delivered(ctx context.Context, room string, n Notification, err error) {
	telemetry.RecordNotification(string(n.Kind), err)
	if err != nil {
		c.logger.DeliveryFailed(ctx, room, n.MessageID, err)
	}
	if c.observer != nil {
		c.observer(room, n, err)
	}
}

// send hands op to the worker without blocking.
func (c *Channel) send(op outbound) error {
	select {
	case <-c.stop:
		return ErrChannelClosed
	default:
	}
	select {
	case c.queue <- op:
		return nil
	default:
		return ErrQueueFull
	}
}

// Flush waits until everything queued before the call has been handed to
// the transport.
func (c *Channel) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case c.queue <- outbound{flush: done}:
	case <-c.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-c.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) run() {
	defer close(c.finished)
	for {
		select {
		case op := <-c.queue:
			c.handle(op)
		case <-c.stop:
			for {
				select {
				case op := <-c.queue:
					c.handle(op)
				default:
					return
				}
			}
		}
	}
}

func (c *Channel) handle(op outbound) {
	switch {
	case op.flush != nil:
		close(op.flush)
	case op.watch:
		c.subscribe(op.ctx, op.room)
	case op.notification != nil:
		ctx, cancel := c.sendContext(op.ctx)
		err := c.publish(ctx, op.room, *op.notification)
		cancel()
		c.delivered(op.ctx, op.room, *op.notification, err)
	}
}

// sendContext keeps the caller's values but not its cancellation: the caller
// has usually returned by the time the worker gets to its work.
func (c *Channel) sendContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.sendTimeout)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *Channel) publish(ctx context.Context, room string, n Notification) error {
	if c.bus == nil {
		return fmt.Errorf("no UI transport configured")
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return c.bus.Publish(ctx, bus.RoomSubject(room, bus.DirectionOut), data)
}

// Enqueue adds an inbound event to the pending queue.
func (c *Channel) Enqueue(evt PendingEvent) {
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = c.now().UTC()
	}
	c.mu.Lock()
	c.pending = append(c.pending, evt)
	n := len(c.pending)
	c.mu.Unlock()
	telemetry.PendingEvents.Set(float64(n))
}

// InjectSystemMessage queues a system-originated event as if it had arrived
// from the viewer.
func (c *Channel) InjectSystemMessage(text string) {
	c.Enqueue(PendingEvent{Kind: PendingSystem, Text: text})
}

// DrainPending returns every queued event in arrival order and empties the
// queue. Returns nil when nothing is pending.
func (c *Channel) DrainPending() []PendingEvent {
	c.mu.Lock()
	drained := c.pending
	c.pending = nil
	c.mu.Unlock()
	telemetry.PendingEvents.Set(0)
	return drained
}

// PendingCount reports the queue length.
func (c *Channel) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Watch queues a subscription to the room's inbound subject; what arrives
// there lands in the pending queue. Watching an already watched room is a
// no-op. A failed subscription is logged and retried by the next Watch. The
// subscription lives until Unwatch or Close, not until ctx is done.
func (c *Channel) Watch(ctx context.Context, room string) error {
	if c.bus == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	if _, ok := c.watches[room]; ok || c.watching[room] {
		return nil
	}
	if err := c.send(outbound{ctx: ctx, room: room, watch: true}); err != nil {
		return fmt.Errorf("watch room %s: %w", room, err)
	}
	c.watching[room] = true
	return nil
}

// subscribe ties the subscription to the channel's lifetime; the transport
// bounds its own dial and write time.
func (c *Channel) subscribe(parent context.Context, room string) {
	subject := bus.RoomSubject(room, bus.DirectionIn)
	sub, err := c.bus.Subscribe(c.ctx, subject, func(msg *bus.Message) {
		evt, err := ParsePendingEvent(msg.Data)
		if err != nil {
			c.logger.Debug("ignoring inbound UI message", "room", room, "error", err.Error())
			return
		}
		c.Enqueue(evt)
	})

	c.watchMu.Lock()
	delete(c.watching, room)
	if err == nil {
		c.watches[room] = sub
	}
	c.watchMu.Unlock()

	if err != nil {
		c.logger.WarnContext(context.WithoutCancel(parent), "ui room watch failed", "room", room, "error", err)
	}
}

// Unwatch drops the room's inbound subscription.
func (c *Channel) Unwatch(room string) {
	c.watchMu.Lock()
	sub, ok := c.watches[room]
	delete(c.watches, room)
	c.watchMu.Unlock()

	if ok {
		_ = sub.Unsubscribe()
	}
}

// Watching reports whether the room has an inbound subscription.
func (c *Channel) Watching(room string) bool {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	_, ok := c.watches[room]
	return ok
}

// Close delivers what is already queued, waiting at most one send timeout,
// then unsubscribes every watched room. The bus itself is left open.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		select {
		case <-c.finished:
		case <-time.After(c.sendTimeout):
		}
		c.cancel()
		<-c.finished
	})

	c.watchMu.Lock()
	watches := c.watches
	c.watches = make(map[string]bus.Subscription)
	c.watchMu.Unlock()

	for _, sub := range watches {
		_ = sub.Unsubscribe()
	}
}
