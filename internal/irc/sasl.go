package irc

import (
	"fmt"
	"strings"
)

// SASLConfig selects a mechanism and its credentials.
type SASLConfig struct {
	Mechanism string
	Username  string
	Password  string
}

// Mechanism is one client side of a SASL exchange. Next receives the decoded
// server challenge and returns the raw response.
type Mechanism interface {
	Name() string
	Next(challenge []byte) ([]byte, error)
}

// NewMechanism builds the mechanism named in cfg.
func NewMechanism(cfg SASLConfig) (Mechanism, error) {
	switch strings.ToUpper(cfg.Mechanism) {
	case "", "PLAIN":
		return &plainMechanism{username: cfg.Username, password: cfg.Password}, nil
	case "EXTERNAL":
		return &externalMechanism{}, nil
	case "SCRAM-SHA-256", "SCRAM-SHA-512":
		return newSCRAM(strings.ToUpper(cfg.Mechanism), cfg.Username, cfg.Password, "")
	}
	return nil, fmt.Errorf("unsupported SASL mechanism %q", cfg.Mechanism)
}

// plainMechanism sends \0username\0password in one step.
type plainMechanism struct {
	username string
	password string
	sent     bool
}

func (m *plainMechanism) Name() string { return "PLAIN" }

func (m *plainMechanism) Next(challenge []byte) ([]byte, error) {
	if m.sent {
		return nil, fmt.Errorf("unexpected PLAIN challenge")
	}
	m.sent = true
	return []byte(fmt.Sprintf("\x00%s\x00%s", m.username, m.password)), nil
}

// externalMechanism relies on the TLS client certificate and sends an empty response.
type externalMechanism struct{}

func (externalMechanism) Name() string { return "EXTERNAL" }

func (externalMechanism) Next([]byte) ([]byte, error) {
	return nil, nil
}
