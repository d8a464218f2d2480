package validation

import (
	"fmt"
	"strings"
)

// Server is the part of a server entry that can be validated.
type Server struct {
	Address string
	Port    int
}

// ValidateNetworkConfig validates network configuration
func ValidateNetworkConfig(name, nickname, username, realname string, servers []Server) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("network name is required")
	}
	if err := ValidateNickname(nickname); err != nil {
		return err
	}
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("username is required")
	}
	if strings.ContainsAny(username, " @\x00\r\n") {
		return fmt.Errorf("username contains invalid characters")
	}
	if strings.TrimSpace(realname) == "" {
		return fmt.Errorf("realname is required")
	}
	if len(servers) == 0 {
		return fmt.Errorf("at least one server is required")
	}
	for i, srv := range servers {
		if err := ValidateServerAddress(srv.Address, srv.Port); err != nil {
			return fmt.Errorf("server %d: %w", i+1, err)
		}
	}
	return nil
}

// ValidateNickname validates an IRC nickname
func ValidateNickname(nick string) error {
	if nick == "" {
		return fmt.Errorf("nickname is required")
	}
	if strings.ContainsAny(nick, " ,*?!@.:\x00\r\n") {
		return fmt.Errorf("nickname %q contains invalid characters", nick)
	}
	switch nick[0] {
	case '#', '&', '$', '+', '~', '%':
		return fmt.Errorf("nickname %q must not start with %q", nick, nick[0])
	}
	if nick[0] >= '0' && nick[0] <= '9' || nick[0] == '-' {
		return fmt.Errorf("nickname %q must not start with a digit or hyphen", nick)
	}
	return nil
}

// ValidateChannelName validates an IRC channel name
func ValidateChannelName(channel string) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return fmt.Errorf("channel name is required")
	}
	// IRC channels must start with #, &, +, or !
	if channel[0] != '#' && channel[0] != '&' && channel[0] != '+' && channel[0] != '!' {
		return fmt.Errorf("channel name must start with #, &, +, or !")
	}
	if len(channel) > 200 {
		return fmt.Errorf("channel name too long (max 200 characters)")
	}
	if strings.ContainsAny(channel, " \x00\x07\x0A\x0D,") {
		return fmt.Errorf("channel name contains invalid characters")
	}
	return nil
}

// ValidateServerAddress validates a server address and port
func ValidateServerAddress(address string, port int) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("server address is required")
	}
	if strings.ContainsAny(address, " /") {
		return fmt.Errorf("server address %q is not a host name", address)
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// ValidateSASLMechanism checks that a mechanism is one the client implements
func ValidateSASLMechanism(mechanism string) error {
	switch strings.ToUpper(mechanism) {
	case "", "PLAIN", "EXTERNAL", "SCRAM-SHA-256", "SCRAM-SHA-512":
		return nil
	}
	return fmt.Errorf("unsupported SASL mechanism %q", mechanism)
}
