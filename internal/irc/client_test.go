package irc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt0x6f/cascade-core/internal/metrics"
)

const testTimeout = 2 * time.Second

// pipeDialer hands the server side of every dialed connection to the test.
type pipeDialer struct {
	conns chan net.Conn
	fail  bool
	dials atomic.Int32
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{conns: make(chan net.Conn, 4)}
}

func (d *pipeDialer) Dial(ctx context.Context, srv Server) (io.ReadWriteCloser, error) {
	d.dials.Add(1)
	if d.fail {
		return nil, errors.New("connection refused")
	}
	client, server := net.Pipe()
	select {
	case d.conns <- server:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return client, nil
}

type fakeServer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (d *pipeDialer) accept(t *testing.T) *fakeServer {
	t.Helper()
	select {
	case conn := <-d.conns:
		return &fakeServer{t: t, conn: conn, r: bufio.NewReader(conn)}
	case <-time.After(testTimeout):
		t.Fatal("client did not connect")
	}
	return nil
}

// expect reads the next line from the client and compares it with want.
func (f *fakeServer) expect(want string) {
	f.t.Helper()
	f.conn.SetReadDeadline(time.Now().Add(testTimeout))
	line, err := f.r.ReadString('\n')
	require.NoError(f.t, err, "waiting for %q", want)
	assert.Equal(f.t, want, strings.TrimRight(line, "\r\n"))
}

func (f *fakeServer) send(line string) {
	f.t.Helper()
	f.conn.SetWriteDeadline(time.Now().Add(testTimeout))
	_, err := f.conn.Write([]byte(line + "\r\n"))
	require.NoError(f.t, err)
}

// register completes the handshake without capabilities.
func (f *fakeServer) register(nick string) {
	f.t.Helper()
	f.expect("CAP LS 302")
	f.expect("NICK " + nick)
	f.expect("USER " + nick + " 0 * :" + nick)
	f.send(":srv CAP * LS :away-notify")
	f.expect("CAP END")
	f.send(":srv 001 " + nick + " :Welcome to the test network")
}

// eventRecorder is a Notifier that queues everything it receives.
type eventRecorder struct {
	events chan Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{events: make(chan Event, 1024)}
}

func (r *eventRecorder) push(ev Event) { r.events <- ev }

func (r *eventRecorder) MessageReceived(_ Handle, ev MessageEvent) { r.push(ev) }
func (r *eventRecorder) SystemNotice(_ Handle, ev NoticeEvent)     { r.push(ev) }
func (r *eventRecorder) RosterChanged(_ Handle, ev RosterEvent)    { r.push(ev) }
func (r *eventRecorder) TopicChanged(_ Handle, ev TopicEvent)      { r.push(ev) }
func (r *eventRecorder) BusyChanged(_ Handle, ev BusyEvent)        { r.push(ev) }
func (r *eventRecorder) StateChanged(_ Handle, ev StateEvent)      { r.push(ev) }
func (r *eventRecorder) ChannelJoined(_ Handle, ev JoinEvent)      { r.push(ev) }
func (r *eventRecorder) ChannelParted(_ Handle, ev PartEvent)      { r.push(ev) }
func (r *eventRecorder) UserQuit(_ Handle, ev QuitEvent)           { r.push(ev) }
func (r *eventRecorder) NickChanged(_ Handle, ev NickEvent)        { r.push(ev) }

// waitFor discards events until match accepts one.
func (r *eventRecorder) waitFor(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case ev := <-r.events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return nil
		}
	}
}

func isPhase(p Phase) func(Event) bool {
	return func(ev Event) bool {
		se, ok := ev.(StateEvent)
		return ok && se.Phase == p
	}
}

func testConfig() Config {
	return Config{
		Network:  "test",
		Servers:  []Server{{Host: "irc.test", Port: 6667}},
		Identity: Identity{Nick: "me", User: "me", RealName: "me"},
		Caps:     []string{},
	}
}

func runClient(t *testing.T, c *Client) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitRun(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(testTimeout):
		t.Fatal("Run did not return")
	}
	return nil
}

func TestClientRegistersAndChats(t *testing.T) {
	d := newPipeDialer()
	rec := newEventRecorder()
	cfg := testConfig()
	cfg.AutoJoin = []JoinTarget{{Name: "#go", Key: "gopher"}}
	c := NewClient(cfg, WithDialer(d), WithNotifier(rec))

	_, done := runClient(t, c)
	srv := d.accept(t)
	srv.register("me")

	rec.waitFor(t, isPhase(PhaseRegistered))
	assert.Equal(t, "me", c.Session().Nick)

	srv.expect("JOIN #go gopher")
	srv.send(":me!me@host JOIN #go")
	srv.send(":srv 353 me = #go :me @op")
	srv.send(":srv 366 me #go :End of /NAMES list.")
	roster := rec.waitFor(t, func(ev Event) bool {
		r, ok := ev.(RosterEvent)
		return ok && len(r.Members) == 2
	}).(RosterEvent)
	assert.Equal(t, []Member{{Nick: "op", Modes: "o"}, {Nick: "me"}}, roster.Members)

	srv.send("PING :keepalive")
	srv.expect("PONG :keepalive")

	require.NoError(t, c.Send(context.Background(), Privmsg{Target: "#go", Text: "hello"}))
	srv.expect("PRIVMSG #go :hello")
	echo := rec.waitFor(t, func(ev Event) bool { _, ok := ev.(MessageEvent); return ok }).(MessageEvent)
	assert.True(t, echo.Outgoing)
	assert.Equal(t, "hello", echo.Text)

	err := c.Send(context.Background(), Privmsg{Target: "#go", Text: "bad\r\nQUIT"})
	assert.ErrorIs(t, err, ErrBadCharacter)

	srv.send(":bob!b@h PRIVMSG me :psst")
	msg := rec.waitFor(t, func(ev Event) bool { _, ok := ev.(MessageEvent); return ok }).(MessageEvent)
	assert.True(t, msg.Private)
	assert.Equal(t, "bob", msg.From.Nick)

	// losing the transport clears the session
	srv.conn.Close()
	err = waitRun(t, done)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "read", terr.Op)

	s := c.Session()
	assert.Equal(t, PhaseDisconnected, s.Phase)
	assert.Empty(t, s.Channels)
	assert.Empty(t, s.Nick)
	assert.Equal(t, []JoinTarget{{Name: "#go", Key: "gopher"}}, c.JoinTargets())
}

func TestClientReconnectRegistersAgain(t *testing.T) {
	d := newPipeDialer()
	rec := newEventRecorder()
	cfg := testConfig()
	cfg.Reconnect = ReconnectPolicy{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
	c := NewClient(cfg, WithDialer(d), WithNotifier(rec))

	cancel, done := runClient(t, c)
	srv := d.accept(t)
	srv.register("me")
	rec.waitFor(t, isPhase(PhaseRegistered))

	require.NoError(t, c.Send(context.Background(), Join{Channel: "#go", Key: "k"}))
	srv.expect("JOIN #go k")
	srv.send(":me!me@host JOIN #go")
	rec.waitFor(t, func(ev Event) bool { j, ok := ev.(JoinEvent); return ok && j.Self })

	srv.conn.Close()
	retry := rec.waitFor(t, func(ev Event) bool {
		se, ok := ev.(StateEvent)
		return ok && se.Phase == PhaseDisconnected && se.RetryIn > 0
	}).(StateEvent)
	assert.Equal(t, 1, retry.Attempt)
	assert.Error(t, retry.Err)

	srv = d.accept(t)
	srv.expect("CAP LS 302")
	s := c.Session()
	assert.Equal(t, PhaseRegistering, s.Phase)
	assert.Empty(t, s.Channels)
	assert.Empty(t, s.Nick)

	srv.expect("NICK me")
	srv.expect("USER me 0 * :me")
	srv.send(":srv CAP * LS :away-notify")
	srv.expect("CAP END")
	assert.Equal(t, PhaseRegistering, c.Session().Phase)

	srv.send(":srv 001 me :Welcome back")
	rec.waitFor(t, isPhase(PhaseRegistered))
	srv.expect("JOIN #go k")

	cancel()
	assert.NoError(t, waitRun(t, done))
}

func TestClientReconnectExhausted(t *testing.T) {
	d := newPipeDialer()
	d.fail = true
	cfg := testConfig()
	cfg.Reconnect = ReconnectPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	c := NewClient(cfg, WithDialer(d))

	_, done := runClient(t, c)
	err := waitRun(t, done)
	assert.ErrorIs(t, err, ErrReconnectExhausted)
	assert.Equal(t, int32(3), d.dials.Load())
}

func TestClientTriesServersInOrder(t *testing.T) {
	var tried []string
	dialer := dialerFunc(func(ctx context.Context, srv Server) (io.ReadWriteCloser, error) {
		tried = append(tried, srv.Host)
		return nil, errors.New("unreachable")
	})
	cfg := testConfig()
	cfg.Servers = []Server{{Host: "a.test", Port: 6667}, {Host: "b.test", Port: 6697, TLS: true}}
	c := NewClient(cfg, WithDialer(dialer))

	err := c.Run(context.Background())
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "connect", terr.Op)
	assert.Equal(t, "ircs://b.test:6697", terr.Server)
	assert.Equal(t, []string{"a.test", "b.test"}, tried)
}

type dialerFunc func(ctx context.Context, srv Server) (io.ReadWriteCloser, error)

func (f dialerFunc) Dial(ctx context.Context, srv Server) (io.ReadWriteCloser, error) {
	return f(ctx, srv)
}

func TestClientRegistrationTimeout(t *testing.T) {
	d := newPipeDialer()
	cfg := testConfig()
	cfg.RegistrationTimeout = 200 * time.Millisecond
	c := NewClient(cfg, WithDialer(d))

	_, done := runClient(t, c)
	srv := d.accept(t)
	srv.expect("CAP LS 302")

	err := waitRun(t, done)
	assert.ErrorIs(t, err, errRegistrationTimeout)
}

func TestClientDisconnectSendsQuit(t *testing.T) {
	d := newPipeDialer()
	rec := newEventRecorder()
	c := NewClient(testConfig(), WithDialer(d), WithNotifier(rec))

	_, done := runClient(t, c)
	srv := d.accept(t)
	srv.register("me")
	rec.waitFor(t, isPhase(PhaseRegistered))

	go c.Disconnect("see you")
	srv.expect("QUIT :see you")
	assert.NoError(t, waitRun(t, done))
}

func TestClientSendWhileDisconnected(t *testing.T) {
	c := NewClient(testConfig())

	err := c.Send(context.Background(), Privmsg{Target: "#go", Text: "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)
	var ierr *InvalidIntentError
	assert.ErrorAs(t, err, &ierr)
}

func TestClientRunTwice(t *testing.T) {
	d := newPipeDialer()
	c := NewClient(testConfig(), WithDialer(d))

	cancel, done := runClient(t, c)
	d.accept(t)
	assert.Error(t, c.Run(context.Background()))

	cancel()
	assert.NoError(t, waitRun(t, done))
}

func TestClientDisconnectCancelsPendingReconnect(t *testing.T) {
	d := newPipeDialer()
	d.fail = true
	rec := newEventRecorder()
	cfg := testConfig()
	cfg.Reconnect = ReconnectPolicy{MaxAttempts: 3, InitialDelay: time.Minute, MaxDelay: time.Minute}
	c := NewClient(cfg, WithDialer(d), WithNotifier(rec))

	_, done := runClient(t, c)
	ev := rec.waitFor(t, func(ev Event) bool {
		se, ok := ev.(StateEvent)
		return ok && se.RetryIn > 0
	}).(StateEvent)
	assert.Equal(t, 1, ev.Attempt)

	start := time.Now()
	c.Disconnect("bye")
	assert.NoError(t, waitRun(t, done))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), d.dials.Load())
}

func TestReconnectBackOffStaysWithinMaxDelay(t *testing.T) {
	policy := ReconnectPolicy{MaxAttempts: 20, InitialDelay: time.Minute, MaxDelay: time.Minute}
	bo := newReconnectBackOff(context.Background(), policy)

	for i := 0; i < 20; i++ {
		delay := bo.NextBackOff()
		assert.Positive(t, delay)
		assert.LessOrEqual(t, delay, time.Minute)
	}
	assert.Equal(t, backoff.Stop, bo.NextBackOff())
}

func TestClientPhaseGauge(t *testing.T) {
	m := metrics.New()
	dialing := make(chan struct{})
	dialer := dialerFunc(func(ctx context.Context, srv Server) (io.ReadWriteCloser, error) {
		close(dialing)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := NewClient(testConfig(), WithDialer(dialer), WithMetrics(m))

	cancel, done := runClient(t, c)
	select {
	case <-dialing:
	case <-time.After(testTimeout):
		t.Fatal("client did not dial")
	}
	assert.Equal(t, float64(PhaseConnecting), testutil.ToFloat64(m.Phase.WithLabelValues("test")))

	cancel()
	assert.NoError(t, waitRun(t, done))
	assert.Equal(t, float64(PhaseDisconnected), testutil.ToFloat64(m.Phase.WithLabelValues("test")))
}
