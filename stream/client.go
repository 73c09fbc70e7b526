package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/team7636/robomania-bot/telemetry"
)

// UserAgentSuffix identifies the bot to the panel in the handshake.
const UserAgentSuffix = "New-Robomania-Bot"

var (
	// ErrExhausted is returned by Run once the retry budget is spent. The process keeps running.
	ErrExhausted = errors.New("stream: max retries reached")
	// ErrAlreadyRunning guards the one-connection-per-client invariant.
	ErrAlreadyRunning = errors.New("stream: client already running")
)

// TransportError is a connection-level failure that drives a reconnect.
type TransportError struct {
	Op  string // dial | read | decode
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("stream %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// State of the connection state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of the client.
type Status struct {
	State       State         `json:"-"`
	StateName   string        `json:"state"`
	RetryCount  int           `json:"retry_count"`
	RetryDelay  time.Duration `json:"-"`
	RetryDelayS float64       `json:"retry_delay_seconds"`
	ConnectedAt *time.Time    `json:"connected_at,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	Events      uint64        `json:"events"`
}

// HandlerFunc handles one decoded frame. Returned errors are logged; the loop continues.
type HandlerFunc func(ctx context.Context, env Envelope) error

// Options configures a Client. Zero values fall back to the production defaults.
type Options struct {
	URL        string
	Token      string
	UserAgent  string // base user agent; UserAgentSuffix is appended
	MaxRetries int    // zero selects 15
	BaseDelay  time.Duration
	MaxDelay   time.Duration // 0 = uncapped
	Dialer     Dialer

	// Sleep waits d or until ctx is done. Defaults to a timer select.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Client maintains the auth event stream.
type Client struct {
	opts     Options
	running  atomic.Bool
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	status   Status
}

// New returns a Client; register handlers before calling Run.
func New(opts Options) *Client {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 15
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 2 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = WSDialer{Timeout: 30 * time.Second, PingInterval: DefaultPingInterval, PongTimeout: DefaultPongTimeout}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Go-http-client/1.1"
	}
	c := &Client{opts: opts, handlers: make(map[string]HandlerFunc)}
	c.status = Status{State: StateDisconnected, RetryDelay: opts.BaseDelay}
	return c
}

// Handle registers h for frames tagged eventType, replacing any previous handler.
func (c *Client) Handle(eventType string, h HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = h
}

// OnNewLogin routes auth.new_login events to n, stamped with the dispatch time.
func (c *Client) OnNewLogin(n Notifier) {
	c.Handle(EventNewLogin, func(ctx context.Context, env Envelope) error {
		ev, err := decodeNewLogin(env)
		if err != nil {
			return err
		}
		return n.NotifyNewLogin(ctx, ev, c.opts.Now())
	})
}

// Status returns a snapshot safe to read from other goroutines.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.status
	s.StateName = s.State.String()
	s.RetryDelayS = s.RetryDelay.Seconds()
	return s
}

// Run connects and processes events until the retry budget is exhausted
// (ErrExhausted) or ctx is cancelled (ctx.Err()).
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	bo := NewBackoff(c.opts.BaseDelay, c.opts.MaxDelay, c.opts.MaxRetries)
	for {
		if err := ctx.Err(); err != nil {
			c.setState(StateDisconnected, bo, nil)
			return err
		}
		err := c.session(ctx, bo)
		if ctx.Err() != nil {
			c.setState(StateDisconnected, bo, nil)
			return ctx.Err()
		}
		telemetry.Inc(telemetry.StreamFailures)

		delay, ok := bo.Fail()
		if !ok {
			c.setState(StateExhausted, bo, err)
			slog.Error("max retries reached; could not connect to event stream",
				slog.Int("max_retries", c.opts.MaxRetries), slog.Any("err", err), slog.String("component", "stream"))
			return ErrExhausted
		}
		c.setState(StateDisconnected, bo, err)
		slog.Error("event stream error; attempting to reconnect",
			slog.Any("err", err), slog.Duration("retry_in", delay), slog.Int("retry", bo.Retries()), slog.String("component", "stream"))
		if err := c.opts.Sleep(ctx, delay); err != nil {
			c.setState(StateDisconnected, bo, nil)
			return err
		}
	}
}

// session performs one Connecting -> Connected -> failure cycle. It always returns a non-nil error.
func (c *Client) session(ctx context.Context, bo *Backoff) error {
	c.setState(StateConnecting, bo, nil)
	telemetry.Inc(telemetry.StreamDialAttempts)
	slog.Info("connecting to event stream",
		slog.Int("attempt", bo.Retries()+1), slog.Int("max_retries", c.opts.MaxRetries), slog.String("component", "stream"))

	header := http.Header{}
	header.Set("Authorization", "Token "+c.opts.Token)
	header.Set("User-Agent", c.opts.UserAgent+" "+UserAgentSuffix)
	conn, err := c.opts.Dialer.Dial(ctx, c.opts.URL, header)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	defer func() { _ = conn.Close() }()
	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	bo.Reset()
	c.mu.Lock()
	now := c.opts.Now()
	c.status.ConnectedAt = &now
	c.mu.Unlock()
	c.setState(StateConnected, bo, nil)
	telemetry.Inc(telemetry.StreamConnects)

	sessionCtx := telemetry.WithCorrelation(ctx, uuid.New().String())
	telemetry.LoggerWithCorr(sessionCtx).Info("connected to event stream", slog.String("component", "stream"))

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return &TransportError{Op: "read", Err: err}
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return &TransportError{Op: "decode", Err: err}
		}
		c.dispatch(sessionCtx, env)
	}
}

func (c *Client) dispatch(ctx context.Context, env Envelope) {
	c.mu.Lock()
	c.status.Events++
	h, ok := c.handlers[env.Type]
	c.mu.Unlock()

	log := telemetry.LoggerWithCorr(ctx)
	if !ok {
		telemetry.IncLabel(telemetry.StreamEvents, "unknown")
		log.Info("received unknown event", slog.String("type", env.Type), slog.String("data", string(env.Raw)), slog.String("component", "stream"))
		return
	}
	telemetry.IncLabel(telemetry.StreamEvents, env.Type)

	ctx, span := telemetry.StartSpan(ctx, "stream", "dispatch "+env.Type, telemetry.EventTypeAttr(env.Type))
	defer span.End()
	var err error
	telemetry.TimeFunc(telemetry.StreamDispatchDuration, func() { err = safeCall(ctx, h, env) })
	if err != nil {
		telemetry.Inc(telemetry.StreamHandlerErrors)
		telemetry.RecordError(span, err)
		log.Error("event handler failed", slog.String("type", env.Type), slog.Any("err", err), slog.String("component", "stream"))
		return
	}
	telemetry.SetSpanSuccess(span)
}

func safeCall(ctx context.Context, h HandlerFunc, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, env)
}

func (c *Client) setState(s State, bo *Backoff, cause error) {
	c.mu.Lock()
	c.status.State = s
	c.status.RetryCount = bo.Retries()
	c.status.RetryDelay = bo.Delay()
	if cause != nil {
		c.status.LastError = cause.Error()
	}
	c.mu.Unlock()
	telemetry.SetStreamState(int(s), bo.Retries())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
