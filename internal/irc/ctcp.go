package irc

import (
	"strconv"
	"strings"
	"time"
)

// DefaultCTCPVersion is sent in reply to CTCP VERSION when none is configured.
const DefaultCTCPVersion = "Cascade IRC Client v1.0.0"

// parseCTCP splits a \x01-delimited payload. The closing delimiter is optional.
func parseCTCP(text string) (command, args string, ok bool) {
	if len(text) < 2 || text[0] != '\x01' {
		return "", "", false
	}
	body := strings.TrimSuffix(text[1:], "\x01")
	command, args, _ = strings.Cut(body, " ")
	if command == "" {
		return "", "", false
	}
	return strings.ToUpper(command), args, true
}

// ctcpReply returns the automatic answer to a CTCP request, if we give one.
func (d *Dispatcher) ctcpReply(command, args string) (string, bool) {
	switch command {
	case "VERSION":
		if d.CTCPVersion != "" {
			return d.CTCPVersion, true
		}
		return DefaultCTCPVersion, true
	case "TIME":
		return d.now().Format(time.RFC1123Z), true
	case "PING":
		if args != "" {
			return args, true
		}
		return strconv.FormatInt(d.now().Unix(), 10), true
	case "CLIENTINFO":
		return "ACTION CLIENTINFO PING TIME VERSION", true
	}
	return "", false
}
