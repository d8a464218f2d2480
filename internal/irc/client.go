package irc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/matt0x6f/cascade-core/internal/constants"
	"github.com/matt0x6f/cascade-core/internal/logger"
	"github.com/matt0x6f/cascade-core/internal/metrics"
)

var errRegistrationTimeout = errors.New("registration timed out")

// ReconnectPolicy bounds automatic reconnection. MaxAttempts of zero disables it.
type ReconnectPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// JoinTarget is a channel with an optional key.
type JoinTarget struct {
	Name string
	Key  string
}

// Config describes one network connection.
type Config struct {
	Network             string
	Servers             []Server // tried in order
	Identity            Identity
	Password            string
	AltNicks            []string
	SASL                *SASLConfig
	Caps                []string
	AutoJoin            []JoinTarget
	CTCPVersion         string
	ConnectTimeout      time.Duration
	RegistrationTimeout time.Duration
	Reconnect           ReconnectPolicy
	SendRate            float64 // lines per second
	SendBurst           int
}

// Option customizes a Client.
type Option func(*Client)

// WithDialer replaces the default TCP/TLS dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithNotifier sets the collaborator that receives notifications.
func WithNotifier(n Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

// WithMetrics records engine metrics in m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger replaces the network logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Client is the connection manager for one network. It owns the transport,
// runs the read/parse/dispatch loop and a rate-limited writer, and reconnects
// with bounded backoff.
type Client struct {
	cfg        Config
	dialer     Dialer
	notifier   Notifier
	metrics    *metrics.Collector
	log        zerolog.Logger
	dispatcher *Dispatcher

	mu      sync.RWMutex
	session *Session
	conn    *conn
	cancel  context.CancelFunc
	running bool
	rejoin  []JoinTarget
	keys    map[string]string
}

// NewClient creates a disconnected client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = constants.ConnectTimeout
	}
	if cfg.RegistrationTimeout == 0 {
		cfg.RegistrationTimeout = constants.RegistrationTimeout
	}
	if cfg.Reconnect.InitialDelay == 0 {
		cfg.Reconnect.InitialDelay = constants.ReconnectInitialDelay
	}
	if cfg.Reconnect.MaxDelay == 0 {
		cfg.Reconnect.MaxDelay = constants.ReconnectMaxDelay
	}
	if cfg.SendRate == 0 {
		cfg.SendRate = constants.SendRate
	}
	if cfg.SendBurst == 0 {
		cfg.SendBurst = constants.SendBurst
	}

	c := &Client{
		cfg:      cfg,
		dialer:   &NetDialer{Timeout: cfg.ConnectTimeout},
		notifier: NopNotifier{},
		log:      logger.ForNetwork(cfg.Network),
		dispatcher: &Dispatcher{
			AltNicks:    cfg.AltNicks,
			Caps:        cfg.Caps,
			SASL:        cfg.SASL,
			CTCPVersion: cfg.CTCPVersion,
		},
		session: NewSession(cfg.Network, cfg.Identity),
		keys:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle identifies this client's session to collaborators.
func (c *Client) Handle() Handle {
	return c.Session().Handle
}

// Session returns the current snapshot. It must not be modified.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Run connects and serves the connection until ctx is cancelled, Disconnect is
// called, or the reconnect policy gives up.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("client is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
	}()

	policy := c.cfg.Reconnect
	bo := newReconnectBackOff(ctx, policy)

	attempt := 0
	for {
		registered, err := c.runOnce(ctx, attempt)
		if ctx.Err() != nil {
			c.notifyState(StateEvent{Phase: PhaseDisconnected})
			return nil
		}
		if registered {
			bo.Reset()
			attempt = 0
		}
		if policy.MaxAttempts <= 0 {
			c.notifyState(StateEvent{Phase: PhaseDisconnected, Err: err})
			return err
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			c.notifyState(StateEvent{Phase: PhaseDisconnected, Err: err, Attempt: attempt})
			c.notify(NoticeEvent{Text: ErrReconnectExhausted.Error()})
			return fmt.Errorf("%w: %v", ErrReconnectExhausted, err)
		}
		attempt++
		c.metrics.Reconnect(c.cfg.Network)
		c.log.Info().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting")
		c.notifyState(StateEvent{Phase: PhaseDisconnected, Err: err, Attempt: attempt, RetryIn: delay})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.notifyState(StateEvent{Phase: PhaseDisconnected})
			return nil
		case <-timer.C:
		}
	}
}

// cappedBackOff keeps randomized intervals within the configured maximum.
type cappedBackOff struct {
	backoff.BackOff
	limit time.Duration
}

func (b cappedBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d != backoff.Stop && b.limit > 0 && d > b.limit {
		return b.limit
	}
	return d
}

func newReconnectBackOff(ctx context.Context, policy ReconnectPolicy) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialDelay
	eb.MaxInterval = policy.MaxDelay
	eb.MaxElapsedTime = 0
	bo := cappedBackOff{
		BackOff: backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(policy.MaxAttempts, 0))), ctx),
		limit:   policy.MaxDelay,
	}
	bo.Reset()
	return bo
}

// runOnce performs one connect/register/serve cycle. It reports whether the
// session reached Registered before the transport was lost.
func (c *Client) runOnce(ctx context.Context, attempt int) (bool, error) {
	c.update(func(s *Session) { s.Phase = PhaseConnecting })
	c.metrics.SetPhase(c.cfg.Network, int(PhaseConnecting))
	c.notifyState(StateEvent{Phase: PhaseConnecting, Attempt: attempt})
	c.notifyBusy(true)
	defer c.notifyBusy(false)

	rwc, srv, err := c.connect(ctx)
	if err != nil {
		c.update(func(s *Session) { s.Reset() })
		c.metrics.SetPhase(c.cfg.Network, int(PhaseDisconnected))
		return false, err
	}
	defer rwc.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	cn := newConn(connCtx, cancel, rwc, srv, c.cfg)
	go func() {
		<-connCtx.Done()
		rwc.Close()
	}()

	c.dispatcher.Reset()
	c.mu.Lock()
	c.conn = cn
	next := c.session.Clone()
	next.Phase = PhaseRegistering
	next.Registration = Registration{CapNegotiating: true}
	c.session = next
	c.mu.Unlock()
	c.metrics.SetPhase(c.cfg.Network, int(PhaseRegistering))
	c.notifyState(StateEvent{Phase: PhaseRegistering, Server: srv.String(), Attempt: attempt})

	go cn.writeLoop(c)
	c.register(cn, next)

	var timedOut atomic.Bool
	regTimer := time.AfterFunc(c.cfg.RegistrationTimeout, func() {
		if c.Session().Phase != PhaseRegistered {
			timedOut.Store(true)
			cancel()
		}
	})

	err = c.readLoop(cn)
	regTimer.Stop()
	cancel()
	<-cn.done

	registered := c.Session().Phase == PhaseRegistered
	c.mu.Lock()
	c.conn = nil
	reset := c.session.Clone()
	reset.Reset()
	c.session = reset
	c.mu.Unlock()
	c.metrics.SetPhase(c.cfg.Network, int(PhaseDisconnected))

	if timedOut.Load() {
		err = errRegistrationTimeout
	}
	if ctx.Err() != nil {
		return registered, nil
	}
	c.log.Warn().Err(err).Str("server", srv.String()).Msg("Connection lost")
	return registered, &TransportError{Op: "read", Server: srv.String(), Err: err}
}

// connect tries each server in order, each bounded by the connect timeout.
func (c *Client) connect(ctx context.Context) (io.ReadWriteCloser, Server, error) {
	if len(c.cfg.Servers) == 0 {
		return nil, Server{}, &TransportError{Op: "connect", Err: errors.New("no servers configured")}
	}

	var lastErr error
	var last Server
	for _, srv := range c.cfg.Servers {
		last = srv
		c.log.Info().Str("server", srv.String()).Msg("Connecting")
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		rwc, err := c.dialer.Dial(dialCtx, srv)
		cancel()
		if err == nil {
			return rwc, srv, nil
		}
		lastErr = err
		c.log.Warn().Err(err).Str("server", srv.String()).Msg("Failed to connect")
		c.notify(NoticeEvent{Text: fmt.Sprintf("failed to connect to %s: %v", srv, err)})
		if ctx.Err() != nil {
			break
		}
	}
	return nil, last, &TransportError{Op: "connect", Server: last.String(), Err: lastErr}
}

func (c *Client) register(cn *conn, s *Session) {
	intents := []Intent{Cap{Sub: "LS", Args: []string{"302"}}}
	if c.cfg.Password != "" {
		intents = append(intents, Pass{Password: c.cfg.Password})
	}
	intents = append(intents,
		Nick{Nick: s.Target.Nick},
		User{User: s.Target.User, RealName: s.Target.RealName},
	)
	for _, in := range intents {
		c.sendReply(cn, in, s)
	}
}

func (c *Client) readLoop(cn *conn) error {
	lr := NewLineReader(cn.rwc, constants.MaxLineLength)
	for {
		line, err := lr.ReadLine()
		if errors.Is(err, ErrFrameTooLong) {
			c.log.Debug().Msg("Dropped oversized line")
			c.metrics.FrameDropped(c.cfg.Network)
			continue
		}
		if err != nil {
			return err
		}
		c.metrics.LineReceived(c.cfg.Network)
		c.log.Trace().Str("line", line).Msg("<-")

		msg, err := ParseMessage(line)
		if err != nil {
			c.log.Debug().Err(err).Str("line", line).Msg("Dropped malformed line")
			c.metrics.ParseError(c.cfg.Network)
			continue
		}
		c.process(cn, msg)
	}
}

// process dispatches one message. Only the read loop calls it, so messages of
// a session are applied strictly in order.
func (c *Client) process(cn *conn, msg Message) {
	c.mu.Lock()
	prev := c.session
	res := c.dispatcher.Dispatch(prev, msg)
	c.session = res.Session
	c.mu.Unlock()

	if res.Err != nil {
		c.log.Debug().Err(res.Err).Msg("Rejected message")
	}
	if !res.Handled {
		c.log.Debug().Str("command", msg.Command.Name).Msg("Unhandled message")
		c.metrics.UnhandledCommand(c.cfg.Network, msg.Command.Name)
	}

	for _, in := range res.Replies {
		c.sendReply(cn, in, res.Session)
	}
	for _, ev := range res.Events {
		c.track(ev, res.Session)
		c.notify(ev)
	}

	if prev.Phase != PhaseRegistered && res.Session.Phase == PhaseRegistered {
		c.metrics.SetPhase(c.cfg.Network, int(PhaseRegistered))
		c.log.Info().Str("nick", res.Session.Nick).Msg("Registered")
		c.notifyState(StateEvent{Phase: PhaseRegistered, Server: cn.server.String()})
		c.notifyBusy(false)
		go c.autojoin(cn, res.Session)
	}
}

// track remembers joined channels so they survive a reconnect.
func (c *Client) track(ev Event, s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch e := ev.(type) {
	case JoinEvent:
		if !e.Self {
			return
		}
		key := s.Fold(e.Channel)
		for _, t := range c.rejoin {
			if s.Fold(t.Name) == key {
				return
			}
		}
		c.rejoin = append(c.rejoin, JoinTarget{Name: e.Channel, Key: c.keys[key]})
	case PartEvent:
		if !e.Self {
			return
		}
		key := s.Fold(e.Channel)
		for i, t := range c.rejoin {
			if s.Fold(t.Name) == key {
				c.rejoin = append(c.rejoin[:i], c.rejoin[i+1:]...)
				return
			}
		}
	}
}

// JoinTargets returns the configured auto-join channels followed by channels
// joined during this run, without duplicates.
func (c *Client) JoinTargets() []JoinTarget {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.session
	seen := make(map[string]bool)
	var targets []JoinTarget
	for _, list := range [][]JoinTarget{c.cfg.AutoJoin, c.rejoin} {
		for _, t := range list {
			key := s.Fold(t.Name)
			if seen[key] {
				continue
			}
			seen[key] = true
			targets = append(targets, t)
		}
	}
	return targets
}

func (c *Client) autojoin(cn *conn, s *Session) {
	for _, t := range c.JoinTargets() {
		line, err := Encode(Join{Channel: t.Name, Key: t.Key}, s)
		if err != nil {
			c.log.Warn().Err(err).Str("channel", t.Name).Msg("Skipping auto-join")
			continue
		}
		c.log.Info().Str("channel", t.Name).Msg("Auto-joining channel")
		if err := cn.enqueue(cn.ctx, outgoing{line: line}, false); err != nil {
			return
		}
	}
}

func (c *Client) sendReply(cn *conn, in Intent, s *Session) {
	line, err := Encode(in, s)
	if err != nil {
		c.log.Debug().Err(err).Msg("Dropped reply")
		c.metrics.InvalidIntent(c.cfg.Network)
		return
	}
	if err := cn.enqueue(cn.ctx, outgoing{line: line}, true); err != nil {
		c.log.Debug().Err(err).Msg("Reply not sent")
	}
}

// Send encodes intent against the current session and queues it. It returns an
// *InvalidIntentError without touching the transport when the intent is not
// valid now, and may block while the outgoing queue is full.
func (c *Client) Send(ctx context.Context, intent Intent) error {
	c.mu.RLock()
	s, cn := c.session, c.conn
	c.mu.RUnlock()

	line, err := Encode(intent, s)
	if err != nil {
		c.metrics.InvalidIntent(c.cfg.Network)
		return err
	}
	if cn == nil {
		return invalid(intentName(intent), ErrNotConnected)
	}

	if j, ok := intent.(Join); ok {
		c.mu.Lock()
		c.keys[s.Fold(j.Channel)] = j.Key
		c.mu.Unlock()
	}
	if err := cn.enqueue(ctx, outgoing{line: line}, false); err != nil {
		return err
	}
	c.echo(intent, s)
	return nil
}

// echo reports our own messages to the collaborator; servers do not send them back.
func (c *Client) echo(intent Intent, s *Session) {
	ev := MessageEvent{From: Prefix{Nick: s.Nick}, Outgoing: true, Time: time.Now()}
	switch in := intent.(type) {
	case Privmsg:
		ev.Target, ev.Text = in.Target, in.Text
	case Notice:
		ev.Target, ev.Text, ev.Notice = in.Target, in.Text, true
	case Action:
		ev.Target, ev.Text, ev.Action = in.Target, in.Text, true
	default:
		return
	}
	ev.Private = !s.IsChannel(ev.Target)
	c.notify(ev)
}

// Disconnect sends QUIT, waits briefly for it to be written, then tears the
// connection down. It also cancels a pending reconnect.
func (c *Client) Disconnect(reason string) {
	c.mu.RLock()
	s, cn, cancel := c.session, c.conn, c.cancel
	c.mu.RUnlock()

	if cn != nil {
		if line, err := Encode(Quit{Reason: reason}, s); err == nil {
			sent := make(chan struct{})
			if cn.offer(outgoing{line: line, sent: sent}) {
				select {
				case <-sent:
				case <-cn.done:
				case <-time.After(constants.ConnectionCleanupDelay):
				}
			}
		}
	}
	if cancel != nil {
		cancel()
	}
}

func (c *Client) update(fn func(s *Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.session.Clone()
	fn(next)
	c.session = next
}

func (c *Client) notify(ev Event) {
	Deliver(c.notifier, c.Handle(), ev)
}

func (c *Client) notifyState(ev StateEvent) {
	c.notify(ev)
}

func (c *Client) notifyBusy(busy bool) {
	c.notify(BusyEvent{Busy: busy})
}

// outgoing is one encoded line. sent, when set, is closed after the write.
type outgoing struct {
	line []byte
	sent chan struct{}
}

// conn is one live transport with its writer.
type conn struct {
	ctx      context.Context
	cancel   context.CancelFunc
	rwc      io.ReadWriteCloser
	server   Server
	priority chan outgoing
	normal   chan outgoing
	limiter  *rate.Limiter
	done     chan struct{}
}

func newConn(ctx context.Context, cancel context.CancelFunc, rwc io.ReadWriteCloser, srv Server, cfg Config) *conn {
	return &conn{
		ctx:      ctx,
		cancel:   cancel,
		rwc:      rwc,
		server:   srv,
		priority: make(chan outgoing, constants.PriorityQueueSize),
		normal:   make(chan outgoing, constants.SendQueueSize),
		limiter:  rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
		done:     make(chan struct{}),
	}
}

// enqueue blocks until the line is queued, the connection ends, or ctx is done.
func (cn *conn) enqueue(ctx context.Context, out outgoing, priority bool) error {
	ch := cn.normal
	if priority {
		ch = cn.priority
	}
	select {
	case ch <- out:
		return nil
	case <-cn.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// offer queues a priority line without blocking.
func (cn *conn) offer(out outgoing) bool {
	select {
	case cn.priority <- out:
		return true
	default:
		return false
	}
}

// writeLoop drains the queues. Priority lines (keepalive and negotiation)
// bypass the rate limiter and are always taken first.
func (cn *conn) writeLoop(c *Client) {
	defer close(cn.done)
	for {
		var out outgoing
		select {
		case out = <-cn.priority:
		default:
			select {
			case <-cn.ctx.Done():
				return
			case out = <-cn.priority:
			case out = <-cn.normal:
				if err := cn.limiter.Wait(cn.ctx); err != nil {
					return
				}
			}
		}

		if _, err := cn.rwc.Write(out.line); err != nil {
			c.log.Warn().Err(err).Msg("Write failed")
			cn.cancel()
			return
		}
		c.metrics.LineSent(c.cfg.Network)
		c.log.Trace().Bytes("line", out.line).Msg("->")
		if out.sent != nil {
			close(out.sent)
		}
	}
}
