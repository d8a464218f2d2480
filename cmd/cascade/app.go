package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/matt0x6f/cascade-core/internal/config"
	"github.com/matt0x6f/cascade-core/internal/constants"
	"github.com/matt0x6f/cascade-core/internal/events"
	"github.com/matt0x6f/cascade-core/internal/input"
	"github.com/matt0x6f/cascade-core/internal/irc"
	"github.com/matt0x6f/cascade-core/internal/logger"
	"github.com/matt0x6f/cascade-core/internal/metrics"
	"github.com/matt0x6f/cascade-core/internal/security"
	"github.com/matt0x6f/cascade-core/internal/storage"
)

// App owns the clients of every configured network and their shared collaborators
type App struct {
	cfg      *config.Config
	storage  *storage.Storage
	eventBus *events.EventBus
	metrics  *metrics.Collector
	console  *Console
	lock     *flock.Flock

	ircClients map[string]*irc.Client // keyed by lower-cased network name
	order      []string
	mu         sync.RWMutex
	runWg      sync.WaitGroup
}

// NewApp opens the data directory and wires storage, bus and metrics
func NewApp(cfg *config.Config, console *Console) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	lock, err := acquireLock(filepath.Join(cfg.DataDir, "cascade.lock"))
	if err != nil {
		return nil, err
	}

	if err := cfg.ResolveSecrets(security.NewKeychain(), security.PasswordKey, security.SASLKey); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}

	app := &App{
		cfg:        cfg,
		eventBus:   events.NewEventBus(),
		metrics:    metrics.New(),
		console:    console,
		lock:       lock,
		ircClients: make(map[string]*irc.Client),
	}

	if cfg.History.Enabled {
		dbPath := filepath.Join(cfg.DataDir, "cascade.db")
		stor, err := storage.NewStorage(dbPath, cfg.History.BufferSize, time.Duration(cfg.History.FlushInterval))
		if err != nil {
			lock.Unlock()
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		app.storage = stor
		storage.NewRecorder(stor, app.joinKey).Attach(app.eventBus)
	}

	app.eventBus.Subscribe(events.Wildcard, console)
	if cfg.Notify.Highlights {
		app.eventBus.Subscribe(events.EventMessageReceived, events.SubscriberFunc(notifyHighlight))
	}

	return app, nil
}

// acquireLock makes sure only one client uses a data directory
func acquireLock(path string) (*flock.Flock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("couldn't acquire lock on %s (is another cascade running?)", path)
	}
	return fl, nil
}

// startup creates a client per network and connects those marked autoconnect,
// staggered so they don't all dial at once
func (a *App) startup(ctx context.Context, only string) error {
	if a.cfg.Metrics.Listen != "" {
		go func() {
			if err := a.metrics.Serve(ctx, a.cfg.Metrics.Listen); err != nil {
				logger.Log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	started := 0
	for _, n := range a.cfg.Networks {
		n := n
		if only != "" && !strings.EqualFold(n.Name, only) {
			continue
		}
		if only == "" && n.AutoConnect != nil && !*n.AutoConnect {
			continue
		}

		client := irc.NewClient(a.clientConfig(n),
			irc.WithDialer(&irc.NetDialer{
				Timeout: time.Duration(a.cfg.Connection.ConnectTimeout),
				Proxy:   a.cfg.Proxy,
			}),
			irc.WithNotifier(a.eventBus),
			irc.WithMetrics(a.metrics),
		)

		key := strings.ToLower(n.Name)
		a.mu.Lock()
		a.ircClients[key] = client
		a.order = append(a.order, key)
		a.mu.Unlock()

		if started > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(constants.ConnectionStaggerDelay):
			}
		}
		started++

		a.runWg.Add(1)
		go func() {
			defer a.runWg.Done()
			if err := client.Run(ctx); err != nil {
				logger.Log.Error().Err(err).Str("network", n.Name).Msg("Network stopped")
			}
		}()
	}

	if started == 0 {
		return fmt.Errorf("no network to connect")
	}
	if a.console.Network() == "" {
		a.console.SetNetwork(a.cfg.Networks[0].Name)
		if only != "" {
			a.console.SetNetwork(only)
		}
	}
	return nil
}

// clientConfig adds the channels remembered in storage to the configured auto-join list
func (a *App) clientConfig(n config.Network) irc.Config {
	cc := a.cfg.ClientConfig(n)
	if a.storage == nil {
		return cc
	}
	saved, err := a.storage.GetAutoJoinChannels(n.Name)
	if err != nil {
		logger.Log.Warn().Err(err).Str("network", n.Name).Msg("Failed to load saved channels")
		return cc
	}
	for _, ch := range saved {
		cc.AutoJoin = append(cc.AutoJoin, irc.JoinTarget{Name: ch.Name, Key: ch.ChannelKey})
	}
	return cc
}

func (a *App) client(network string) (*irc.Client, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.ircClients[strings.ToLower(network)]
	return c, ok
}

// SendCommand runs one line of user input against the current network.
// It reports whether the user asked to exit.
func (a *App) SendCommand(ctx context.Context, line string) (bool, error) {
	cmd, err := input.Parse(line, a.console.Target())
	if err != nil {
		return false, err
	}

	switch cmd.Action {
	case input.ActionNone:
		return false, nil
	case input.ActionHelp:
		a.console.Println(input.Help)
		return false, nil
	case input.ActionExit:
		return true, nil
	case input.ActionSwitch:
		a.console.SetTarget(cmd.Arg)
		a.notice(a.console.Network(), "Now talking to "+cmd.Arg)
		return false, nil
	case input.ActionNetwork:
		if _, ok := a.client(cmd.Arg); !ok {
			return false, fmt.Errorf("network %q is not connected", cmd.Arg)
		}
		a.console.SetNetwork(cmd.Arg)
		a.console.SetTarget("")
		a.notice(cmd.Arg, "Switched network")
		return false, nil
	case input.ActionHistory:
		return false, a.printHistory(cmd.Arg, cmd.N)
	case input.ActionForget:
		return false, a.forgetChannel(cmd.Arg)
	}

	network := a.console.Network()
	client, ok := a.client(network)
	if !ok {
		return false, fmt.Errorf("network %q is not connected", network)
	}

	if cmd.Action == input.ActionQuit {
		client.Disconnect(cmd.Arg)
		return false, nil
	}

	return false, client.Send(ctx, cmd.Intent)
}

// joinKey returns the key the client used for channel, if any
func (a *App) joinKey(network, channel string) string {
	client, ok := a.client(network)
	if !ok {
		return ""
	}
	s := client.Session()
	for _, t := range client.JoinTargets() {
		if s.Fold(t.Name) == s.Fold(channel) {
			return t.Key
		}
	}
	return ""
}

// notice prints a client-side status line through the bus
func (a *App) notice(network, text string) {
	a.eventBus.Emit(events.Event{
		Type:      events.EventSystemNotice,
		Handle:    irc.Handle{Network: network},
		Payload:   irc.NoticeEvent{Text: text},
		Timestamp: time.Now(),
		Source:    events.EventSourceUser,
	})
}

func (a *App) forgetChannel(channel string) error {
	if a.storage == nil {
		return fmt.Errorf("history is disabled")
	}
	network := a.console.Network()
	if err := a.storage.DeleteChannel(network, channel); err != nil {
		return fmt.Errorf("failed to forget %s: %w", channel, err)
	}
	a.notice(network, fmt.Sprintf("%s removed from saved channels", channel))
	return nil
}

func (a *App) printHistory(target string, limit int) error {
	if a.storage == nil {
		return fmt.Errorf("history is disabled")
	}
	a.storage.Flush()
	network := a.console.Network()
	if ch, err := a.storage.GetChannelByName(network, target); err == nil && ch.Topic != "" {
		a.console.Println(fmt.Sprintf("-!- %s topic: %s", ch.Name, ch.Topic))
	}
	msgs, err := a.storage.GetMessages(network, target, limit)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		a.console.Println(formatHistory(m))
	}
	return nil
}

// shutdown disconnects every network and closes storage, bounded by a timeout
func (a *App) shutdown(reason string) {
	logger.Log.Info().Msg("Shutdown initiated")

	a.mu.RLock()
	clients := make([]*irc.Client, 0, len(a.ircClients))
	for _, key := range a.order {
		clients = append(clients, a.ircClients[key])
	}
	a.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Disconnect(reason)
		}()
	}
	wg.Wait()

	runDone := make(chan struct{})
	go func() {
		a.runWg.Wait()
		close(runDone)
	}()
	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		logger.Log.Warn().Msg("Timeout waiting for networks, continuing shutdown")
	}

	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			logger.Log.Warn().Err(err).Msg("Failed to close storage")
		}
	}
	if err := a.lock.Unlock(); err != nil {
		logger.Log.Warn().Err(err).Msg("Failed to release lock")
	}
}
