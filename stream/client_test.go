package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptConn replays a fixed list of frames and then fails with io.EOF.
type scriptConn struct {
	mu     sync.Mutex
	frames []string
	closed bool
}

func (c *scriptConn) ReadMessage() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.frames) == 0 {
		return nil, io.EOF
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return []byte(f), nil
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// scriptDialer hands out results in order; once the script is spent every dial fails.
type scriptDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   int
	headers []http.Header
}

type dialResult struct {
	conn Conn
	err  error
}

func (d *scriptDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.headers = append(d.headers, header.Clone())
	if len(d.results) == 0 {
		return nil, errors.New("connection refused")
	}
	r := d.results[0]
	d.results = d.results[1:]
	return r.conn, r.err
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestClient(d Dialer, s *sleepRecorder, maxRetries int) *Client {
	return New(Options{
		URL:        "ws://panel.test/ws/auth/",
		Token:      "secret",
		UserAgent:  "test-agent",
		MaxRetries: maxRetries,
		BaseDelay:  2 * time.Second,
		Dialer:     d,
		Sleep:      s.Sleep,
		Now:        func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
}

func TestRun_ExhaustsAfterMaxRetries(t *testing.T) {
	d := &scriptDialer{}
	s := &sleepRecorder{}
	c := newTestClient(d, s, 15)

	err := c.Run(context.Background())
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Run() = %v, want ErrExhausted", err)
	}
	if d.dials != 16 {
		t.Errorf("dials = %d, want 16", d.dials)
	}
	if len(s.delays) != 15 {
		t.Fatalf("sleeps = %d, want 15", len(s.delays))
	}
	want := 4 * time.Second
	for i, got := range s.delays {
		if got != want {
			t.Errorf("sleep %d = %v, want %v", i, got, want)
		}
		want *= 2
	}
	st := c.Status()
	if st.State != StateExhausted || st.StateName != "exhausted" {
		t.Errorf("state = %v", st.State)
	}
	if !strings.Contains(st.LastError, "connection refused") {
		t.Errorf("last error = %q", st.LastError)
	}
	if st.ConnectedAt != nil {
		t.Errorf("connected_at = %v, want unset when never connected", st.ConnectedAt)
	}
}

func TestRun_SuccessResetsBackoff(t *testing.T) {
	fail := dialResult{err: errors.New("boom")}
	d := &scriptDialer{results: []dialResult{
		fail, fail,
		{conn: &scriptConn{}},
		fail, fail, fail,
	}}
	s := &sleepRecorder{}
	c := newTestClient(d, s, 2)

	if err := c.Run(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Run() = %v, want ErrExhausted", err)
	}
	// Two failures, a session that drops (counts as the first failure after
	// reset), then two more failures and a third that exhausts the budget.
	want := []time.Duration{4 * time.Second, 8 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(s.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", s.delays, want)
	}
	for i := range want {
		if s.delays[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, s.delays[i], want[i])
		}
	}
	if d.dials != 5 {
		t.Errorf("dials = %d, want 5", d.dials)
	}
}

func TestRun_DispatchesNewLogin(t *testing.T) {
	conn := &scriptConn{frames: []string{
		`{"type":"something.else","foo":1}`,
		`{"type":"auth.new_login","ip":"1.2.3.4","user_agent":"UA","method":"password","member_discord_id":"42"}`,
	}}
	d := &scriptDialer{results: []dialResult{{conn: conn}}}
	s := &sleepRecorder{}
	c := newTestClient(d, s, 1)

	var mu sync.Mutex
	var got []NewLogin
	var stamps []time.Time
	c.OnNewLogin(NotifierFunc(func(ctx context.Context, ev NewLogin, at time.Time) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
		stamps = append(stamps, at)
		return nil
	}))

	if err := c.Run(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Run() = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(got))
	}
	if got[0].MemberDiscordID != "42" || got[0].IP != "1.2.3.4" || got[0].UserAgent != "UA" || got[0].Method != "password" {
		t.Errorf("payload = %+v", got[0])
	}
	if !stamps[0].Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("stamp = %v", stamps[0])
	}
	if ev := c.Status().Events; ev != 2 {
		t.Errorf("events = %d, want 2", ev)
	}
}

func TestRun_SendsAuthHeaders(t *testing.T) {
	d := &scriptDialer{}
	c := newTestClient(d, &sleepRecorder{}, 1)
	_ = c.Run(context.Background())

	if len(d.headers) == 0 {
		t.Fatalf("dials = %d", len(d.headers))
	}
	h := d.headers[0]
	if got := h.Get("Authorization"); got != "Token secret" {
		t.Errorf("Authorization = %q", got)
	}
	if got := h.Get("User-Agent"); got != "test-agent New-Robomania-Bot" {
		t.Errorf("User-Agent = %q", got)
	}
}

func TestRun_HandlerErrorKeepsConnection(t *testing.T) {
	conn := &scriptConn{frames: []string{
		`{"type":"auth.new_login","member_discord_id":"1"}`,
		`{"type":"auth.new_login","member_discord_id":"2"}`,
		`{"type":"auth.new_login"}`,
		`{"type":"auth.new_login","member_discord_id":"3"}`,
	}}
	d := &scriptDialer{results: []dialResult{{conn: conn}}}
	c := newTestClient(d, &sleepRecorder{}, 1)

	var calls []ID
	c.OnNewLogin(NotifierFunc(func(ctx context.Context, ev NewLogin, at time.Time) error {
		calls = append(calls, ev.MemberDiscordID)
		if ev.MemberDiscordID == "1" {
			return errors.New("dm closed")
		}
		if ev.MemberDiscordID == "2" {
			panic("unexpected")
		}
		return nil
	}))
	_ = c.Run(context.Background())

	if d.dials != 2 {
		t.Errorf("dials = %d, want 2 (one session plus one refused redial)", d.dials)
	}
	if len(calls) != 3 || calls[2] != "3" {
		t.Errorf("calls = %v, want [1 2 3]", calls)
	}
}

// failureLog records Status().LastError each time the client backs off.
func failureLog(c **Client, errs *[]string) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*errs = append(*errs, (*c).Status().LastError)
		return ctx.Err()
	}
}

func TestRun_MalformedFrameReconnects(t *testing.T) {
	bad := &scriptConn{frames: []string{`not json`, `{"type":"auth.new_login","member_discord_id":"9"}`}}
	d := &scriptDialer{results: []dialResult{{conn: bad}}}
	var errs []string
	var c *Client
	c = New(Options{URL: "ws://x/", MaxRetries: 1, Dialer: d, Sleep: failureLog(&c, &errs)})

	notified := 0
	c.OnNewLogin(NotifierFunc(func(context.Context, NewLogin, time.Time) error {
		notified++
		return nil
	}))
	_ = c.Run(context.Background())

	if notified != 0 {
		t.Errorf("frame after a malformed one was dispatched on the same connection")
	}
	if d.dials != 2 {
		t.Errorf("dials = %d, want 2", d.dials)
	}
	if len(errs) != 1 || !strings.Contains(errs[0], "stream decode") {
		t.Errorf("backoff errors = %q", errs)
	}
}

func TestRun_NonObjectFrameIsTransportError(t *testing.T) {
	conn := &scriptConn{frames: []string{`[1,2,3]`}}
	d := &scriptDialer{results: []dialResult{{conn: conn}}}
	var errs []string
	var c *Client
	c = New(Options{URL: "ws://x/", MaxRetries: 1, Dialer: d, Sleep: failureLog(&c, &errs)})
	_ = c.Run(context.Background())
	if len(errs) != 1 || !strings.Contains(errs[0], "stream decode") {
		t.Errorf("backoff errors = %q", errs)
	}
}

func TestRun_CancelDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &scriptDialer{}
	c := New(Options{
		URL:    "ws://x/",
		Dialer: d,
		Sleep: func(ctx context.Context, dur time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})
	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if d.dials != 1 {
		t.Errorf("dials = %d, want 1", d.dials)
	}
	if c.Status().State != StateDisconnected {
		t.Errorf("state = %v", c.Status().State)
	}
}

// blockingConn blocks in ReadMessage until closed.
type blockingConn struct {
	once sync.Once
	done chan struct{}
}

func (c *blockingConn) ReadMessage() ([]byte, error) {
	<-c.done
	return nil, io.ErrClosedPipe
}

func (c *blockingConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func TestRun_AlreadyRunningAndShutdown(t *testing.T) {
	conn := &blockingConn{done: make(chan struct{})}
	d := &scriptDialer{results: []dialResult{{conn: conn}}}
	c := newTestClient(d, &sleepRecorder{}, 3)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for c.Status().State != StateConnected {
		if time.Now().After(deadline) {
			t.Fatal("client never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if at := c.Status().ConnectedAt; at == nil || !at.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("connected_at = %v", at)
	}
	if err := c.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() = %v, want ErrAlreadyRunning", err)
	}

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEnvelope_TypeOptional(t *testing.T) {
	var env Envelope
	if err := env.UnmarshalJSON([]byte(`{"foo":"bar"}`)); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != "" {
		t.Errorf("type = %q", env.Type)
	}
}

func TestID_AcceptsNumberAndString(t *testing.T) {
	tests := []struct {
		in   string
		want ID
	}{
		{`"123456789012345678"`, "123456789012345678"},
		{`123456789012345678`, "123456789012345678"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var id ID
		if err := id.UnmarshalJSON([]byte(tt.in)); err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		if id != tt.want {
			t.Errorf("%s: got %q want %q", tt.in, id, tt.want)
		}
	}
}
