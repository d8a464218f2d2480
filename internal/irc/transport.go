package irc

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"

	"github.com/matt0x6f/cascade-core/internal/constants"
)

// Server is one address of a network.
type Server struct {
	Host       string
	Port       int
	TLS        bool
	SkipVerify bool
	WebSocket  bool
	Path       string // websocket path, "/" by default
}

// Address returns host:port.
func (s Server) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s Server) String() string {
	switch {
	case s.WebSocket:
		return s.websocketURL()
	case s.TLS:
		return "ircs://" + s.Address()
	}
	return "irc://" + s.Address()
}

func (s Server) websocketURL() string {
	scheme := "ws"
	if s.TLS {
		scheme = "wss"
	}
	path := s.Path
	if path == "" {
		path = "/"
	}
	u := url.URL{Scheme: scheme, Host: s.Address(), Path: path}
	return u.String()
}

// Dialer opens the byte stream for one server. The core treats the result as
// an opaque duplex stream.
type Dialer interface {
	Dial(ctx context.Context, srv Server) (io.ReadWriteCloser, error)
}

// NetDialer dials TCP, optionally wrapped in TLS and routed through a proxy.
// WebSocket servers are delegated to a WebSocketDialer.
type NetDialer struct {
	Timeout   time.Duration
	Proxy     string // socks5:// or http:// URL; empty uses the environment
	TLSConfig *tls.Config
	WebSocket *WebSocketDialer
}

// Dial implements Dialer.
func (d *NetDialer) Dial(ctx context.Context, srv Server) (io.ReadWriteCloser, error) {
	if srv.WebSocket {
		ws := d.WebSocket
		if ws == nil {
			ws = &WebSocketDialer{Timeout: d.Timeout, TLSConfig: d.TLSConfig}
		}
		return ws.Dial(ctx, srv)
	}

	timeout := d.Timeout
	if timeout == 0 {
		timeout = constants.ConnectTimeout
	}
	base := &net.Dialer{Timeout: timeout, KeepAlive: time.Minute}

	cd, err := d.contextDialer(base)
	if err != nil {
		return nil, err
	}
	conn, err := cd.DialContext(ctx, "tcp", srv.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", srv.Address(), err)
	}
	if !srv.TLS {
		return conn, nil
	}

	tlsConn := tls.Client(conn, d.tlsConfig(srv))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("TLS handshake with %s failed: %w", srv.Address(), err)
	}
	return tlsConn, nil
}

func (d *NetDialer) contextDialer(base *net.Dialer) (proxy.ContextDialer, error) {
	var pd proxy.Dialer
	if d.Proxy == "" {
		pd = proxy.FromEnvironmentUsing(base)
	} else {
		u, err := url.Parse(d.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		pd, err = proxy.FromURL(u, base)
		if err != nil {
			return nil, fmt.Errorf("failed to configure proxy: %w", err)
		}
	}
	cd, ok := pd.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("proxy dialer does not support contexts")
	}
	return cd, nil
}

func (d *NetDialer) tlsConfig(srv Server) *tls.Config {
	cfg := &tls.Config{}
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = srv.Host
	}
	if srv.SkipVerify {
		cfg.InsecureSkipVerify = true
	}
	return cfg
}

// WebSocketDialer connects to IRC-over-WebSocket endpoints. Each websocket
// message carries one line without its terminator.
type WebSocketDialer struct {
	Timeout   time.Duration
	TLSConfig *tls.Config
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, srv Server) (io.ReadWriteCloser, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = constants.ConnectTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            websocketProxy,
		HandshakeTimeout: timeout,
		TLSClientConfig:  d.TLSConfig,
		Subprotocols:     []string{"text.ircv3.net"},
	}
	if srv.SkipVerify {
		cfg := &tls.Config{}
		if d.TLSConfig != nil {
			cfg = d.TLSConfig.Clone()
		}
		cfg.InsecureSkipVerify = true
		dialer.TLSClientConfig = cfg
	}

	conn, _, err := dialer.DialContext(ctx, srv.websocketURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", srv.websocketURL(), err)
	}
	return &wsStream{conn: conn}, nil
}

var websocketProxy = websocket.DefaultDialer.Proxy

// wsStream adapts a message-oriented websocket to a byte stream.
type wsStream struct {
	conn    *websocket.Conn
	pending []byte
	wmu     sync.Mutex
}

func (w *wsStream) Read(p []byte) (int, error) {
	for len(w.pending) == 0 {
		typ, data, err := w.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		w.pending = append(data, '\r', '\n')
	}
	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

func (w *wsStream) Write(p []byte) (int, error) {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	for _, line := range bytes.Split(p, []byte{'\n'}) {
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) == 0 {
			continue
		}
		typ := websocket.TextMessage
		if !utf8.Valid(line) {
			typ = websocket.BinaryMessage
		}
		if err := w.conn.WriteMessage(typ, line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (w *wsStream) Close() error {
	return w.conn.Close()
}
