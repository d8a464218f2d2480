package constants

import "time"

// Protocol limits
const (
	// MaxLineLength is the maximum length of a protocol line, including CRLF
	MaxLineLength = 512

	// MaxSASLChunk is the maximum size of a single AUTHENTICATE payload
	MaxSASLChunk = 400
)

// Connection timing constants
const (
	// ConnectTimeout bounds a single dial attempt, including the TLS handshake
	ConnectTimeout = 30 * time.Second

	// RegistrationTimeout is how long we wait for RPL_WELCOME before giving up on a server
	RegistrationTimeout = 60 * time.Second

	// ReconnectInitialDelay is the first backoff interval after a transport failure
	ReconnectInitialDelay = 2 * time.Second

	// ReconnectMaxDelay caps the backoff interval
	ReconnectMaxDelay = 2 * time.Minute

	// ReconnectMaxAttempts is the default number of reconnect attempts (0 disables reconnects)
	ReconnectMaxAttempts = 5

	// ConnectionStaggerDelay is the delay between each network connection attempt
	ConnectionStaggerDelay = 500 * time.Millisecond

	// ConnectionCleanupDelay is the delay to wait for the writer to flush QUIT
	ConnectionCleanupDelay = 500 * time.Millisecond
)

// Outgoing queue settings
const (
	// SendQueueSize is the capacity of the normal outgoing queue
	SendQueueSize = 256

	// PriorityQueueSize is the capacity of the keepalive/negotiation queue
	PriorityQueueSize = 64

	// SendRate is the steady-state number of lines per second
	SendRate = 2

	// SendBurst is the number of lines allowed before rate limiting applies
	SendBurst = 5
)

// Storage settings
const (
	// HistoryBufferSize is the capacity of the history write buffer
	HistoryBufferSize = 100

	// HistoryFlushInterval is how often buffered history is flushed to disk
	HistoryFlushInterval = 2 * time.Second
)
