package irc

import (
	"errors"
	"strings"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/matt0x6f/cascade-core/internal/constants"
)

// Intent is a typed outgoing command. The concrete types below form a closed set.
type Intent interface {
	isIntent()
}

type (
	// Join joins a channel, optionally with a key.
	Join struct{ Channel, Key string }
	// Part leaves a channel.
	Part struct{ Channel, Reason string }
	// Privmsg sends text to a channel or nickname.
	Privmsg struct{ Target, Text string }
	// Notice sends a NOTICE.
	Notice struct{ Target, Text string }
	// Action sends a CTCP ACTION (/me).
	Action struct{ Target, Text string }
	// CTCP sends a CTCP request, or a reply when Reply is set.
	CTCP struct {
		Target  string
		Command string
		Args    string
		Reply   bool
	}
	// Nick requests a nickname change.
	Nick struct{ Nick string }
	// Quit ends the session.
	Quit struct{ Reason string }
	// Topic queries the topic, or sets it when Set is true.
	Topic struct {
		Channel string
		Topic   string
		Set     bool
	}
	// Mode changes channel or user modes.
	Mode struct {
		Target string
		Modes  string
		Args   []string
	}
	// Kick removes a user from a channel.
	Kick struct{ Channel, Nick, Reason string }
	// Invite invites a user to a channel.
	Invite struct{ Nick, Channel string }
	// Whois queries a user.
	Whois struct{ Nick string }
	// Names requests a channel member list.
	Names struct{ Channel string }
	// Away sets an away message, or clears it when Message is empty.
	Away struct{ Message string }
	// Raw sends a user-typed protocol line.
	Raw struct{ Line string }

	// Pong answers a keepalive PING.
	Pong struct{ Params []string }
	// Pass sends the server password during registration.
	Pass struct{ Password string }
	// User announces username and realname during registration.
	User struct{ User, RealName string }
	// Cap drives capability negotiation.
	Cap struct {
		Sub  string
		Args []string
	}
	// Authenticate carries one SASL payload chunk.
	Authenticate struct{ Payload string }
)

func (Join) isIntent()         {}
func (Part) isIntent()         {}
func (Privmsg) isIntent()      {}
func (Notice) isIntent()       {}
func (Action) isIntent()       {}
func (CTCP) isIntent()         {}
func (Nick) isIntent()         {}
func (Quit) isIntent()         {}
func (Topic) isIntent()        {}
func (Mode) isIntent()         {}
func (Kick) isIntent()         {}
func (Invite) isIntent()       {}
func (Whois) isIntent()        {}
func (Names) isIntent()        {}
func (Away) isIntent()         {}
func (Raw) isIntent()          {}
func (Pong) isIntent()         {}
func (Pass) isIntent()         {}
func (User) isIntent()         {}
func (Cap) isIntent()          {}
func (Authenticate) isIntent() {}

// requiresRegistration reports whether an intent may only be sent once the
// server has accepted registration. Everything else is allowed while Registering.
func requiresRegistration(intent Intent) bool {
	switch intent.(type) {
	case Nick, Quit, Pong, Pass, User, Cap, Authenticate:
		return false
	}
	return true
}

// line is an outgoing command before serialization.
type line struct {
	command  string
	params   []string
	trailing bool // force the last parameter into trailing form
}

// Encode validates intent against the session snapshot and serializes it as a
// CRLF-terminated line. Failures are *InvalidIntentError; nothing is written.
func Encode(intent Intent, s *Session) ([]byte, error) {
	if s.Phase < PhaseRegistering {
		return nil, invalid(intentName(intent), ErrNotConnected)
	}
	if requiresRegistration(intent) && s.Phase != PhaseRegistered {
		return nil, invalid(intentName(intent), ErrNotRegistered)
	}

	l, err := build(intent, s)
	if err != nil {
		return nil, invalid(intentName(intent), err)
	}
	for _, p := range l.params {
		if strings.ContainsAny(p, "\r\n\x00") {
			return nil, invalid(l.command, ErrBadCharacter)
		}
	}

	msg := ircmsg.MakeMessage(nil, "", l.command, l.params...)
	if l.trailing && len(l.params) > 0 {
		msg.ForceTrailing()
	}
	out, err := msg.LineBytesStrict(true, constants.MaxLineLength)
	if err != nil {
		return nil, invalid(l.command, translateEncodeError(err))
	}
	return out, nil
}

func translateEncodeError(err error) error {
	switch {
	case errors.Is(err, ircmsg.ErrorBodyTooLong):
		return ErrLineTooLong
	case errors.Is(err, ircmsg.ErrorLineContainsBadChar):
		return ErrBadCharacter
	case errors.Is(err, ircmsg.ErrorBadParam):
		return ErrBadParameter
	}
	return err
}

func build(intent Intent, s *Session) (line, error) {
	switch in := intent.(type) {
	case Join:
		if err := checkChannel(s, in.Channel); err != nil {
			return line{}, err
		}
		if in.Key != "" {
			if err := checkMiddle(in.Key); err != nil {
				return line{}, err
			}
			return line{command: "JOIN", params: []string{in.Channel, in.Key}}, nil
		}
		return line{command: "JOIN", params: []string{in.Channel}}, nil

	case Part:
		if err := checkChannel(s, in.Channel); err != nil {
			return line{}, err
		}
		if in.Reason != "" {
			return line{command: "PART", params: []string{in.Channel, in.Reason}, trailing: true}, nil
		}
		return line{command: "PART", params: []string{in.Channel}}, nil

	case Privmsg:
		return textLine("PRIVMSG", in.Target, in.Text)

	case Notice:
		return textLine("NOTICE", in.Target, in.Text)

	case Action:
		if in.Text == "" {
			return line{}, ErrEmptyText
		}
		return textLine("PRIVMSG", in.Target, ctcpPayload("ACTION", in.Text))

	case CTCP:
		if in.Command == "" {
			return line{}, ErrEmptyText
		}
		command := "PRIVMSG"
		if in.Reply {
			command = "NOTICE"
		}
		return textLine(command, in.Target, ctcpPayload(strings.ToUpper(in.Command), in.Args))

	case Nick:
		if err := checkMiddle(in.Nick); err != nil {
			return line{}, err
		}
		return line{command: "NICK", params: []string{in.Nick}}, nil

	case Quit:
		if in.Reason == "" {
			return line{command: "QUIT"}, nil
		}
		return line{command: "QUIT", params: []string{in.Reason}, trailing: true}, nil

	case Topic:
		if err := checkChannel(s, in.Channel); err != nil {
			return line{}, err
		}
		if !in.Set {
			return line{command: "TOPIC", params: []string{in.Channel}}, nil
		}
		return line{command: "TOPIC", params: []string{in.Channel, in.Topic}, trailing: true}, nil

	case Mode:
		if err := checkMiddle(in.Target); err != nil {
			return line{}, err
		}
		params := []string{in.Target}
		if in.Modes != "" {
			if err := checkMiddle(in.Modes); err != nil {
				return line{}, err
			}
			params = append(params, in.Modes)
			for _, arg := range in.Args {
				if err := checkMiddle(arg); err != nil {
					return line{}, err
				}
				params = append(params, arg)
			}
		}
		return line{command: "MODE", params: params}, nil

	case Kick:
		if err := checkChannel(s, in.Channel); err != nil {
			return line{}, err
		}
		if err := checkMiddle(in.Nick); err != nil {
			return line{}, err
		}
		if in.Reason != "" {
			return line{command: "KICK", params: []string{in.Channel, in.Nick, in.Reason}, trailing: true}, nil
		}
		return line{command: "KICK", params: []string{in.Channel, in.Nick}}, nil

	case Invite:
		if err := checkMiddle(in.Nick); err != nil {
			return line{}, err
		}
		if err := checkChannel(s, in.Channel); err != nil {
			return line{}, err
		}
		return line{command: "INVITE", params: []string{in.Nick, in.Channel}}, nil

	case Whois:
		if err := checkMiddle(in.Nick); err != nil {
			return line{}, err
		}
		return line{command: "WHOIS", params: []string{in.Nick}}, nil

	case Names:
		if err := checkChannel(s, in.Channel); err != nil {
			return line{}, err
		}
		return line{command: "NAMES", params: []string{in.Channel}}, nil

	case Away:
		if in.Message == "" {
			return line{command: "AWAY"}, nil
		}
		return line{command: "AWAY", params: []string{in.Message}, trailing: true}, nil

	case Raw:
		if strings.ContainsAny(in.Line, "\r\n\x00") {
			return line{}, ErrBadCharacter
		}
		msg, err := ParseMessage(in.Line)
		if err != nil {
			return line{}, err
		}
		if msg.Prefix != nil {
			return line{}, ErrBadParameter
		}
		return line{command: msg.Command.Name, params: msg.Args(), trailing: msg.HasTrailing}, nil

	case Pong:
		return line{command: "PONG", params: in.Params, trailing: true}, nil

	case Pass:
		if err := checkMiddle(in.Password); err != nil {
			return line{}, err
		}
		return line{command: "PASS", params: []string{in.Password}}, nil

	case User:
		if err := checkMiddle(in.User); err != nil {
			return line{}, err
		}
		realname := in.RealName
		if realname == "" {
			realname = in.User
		}
		return line{command: "USER", params: []string{in.User, "0", "*", realname}, trailing: true}, nil

	case Cap:
		if err := checkMiddle(in.Sub); err != nil {
			return line{}, err
		}
		params := append([]string{in.Sub}, in.Args...)
		return line{command: "CAP", params: params, trailing: in.Sub == "REQ" && len(in.Args) > 0}, nil

	case Authenticate:
		if err := checkMiddle(in.Payload); err != nil {
			return line{}, err
		}
		return line{command: "AUTHENTICATE", params: []string{in.Payload}}, nil
	}
	return line{}, ErrUnknownIntent
}

func textLine(command, target, text string) (line, error) {
	if err := checkMiddle(target); err != nil {
		return line{}, err
	}
	if text == "" {
		return line{}, ErrEmptyText
	}
	return line{command: command, params: []string{target, text}, trailing: true}, nil
}

func checkChannel(s *Session, name string) error {
	if name == "" {
		return ErrEmptyTarget
	}
	if !s.IsChannel(name) || strings.ContainsAny(name, ",\x07") {
		return ErrInvalidChan
	}
	return checkMiddle(name)
}

func checkMiddle(p string) error {
	if p == "" {
		return ErrEmptyTarget
	}
	if strings.ContainsAny(p, "\r\n\x00") {
		return ErrBadCharacter
	}
	if strings.IndexByte(p, ' ') >= 0 || p[0] == ':' {
		return ErrBadParameter
	}
	return nil
}

func ctcpPayload(command, args string) string {
	if args == "" {
		return "\x01" + command + "\x01"
	}
	return "\x01" + command + " " + args + "\x01"
}

func intentName(intent Intent) string {
	switch in := intent.(type) {
	case Join:
		return "JOIN"
	case Part:
		return "PART"
	case Privmsg, Action:
		return "PRIVMSG"
	case Notice:
		return "NOTICE"
	case CTCP:
		if in.Reply {
			return "NOTICE"
		}
		return "PRIVMSG"
	case Nick:
		return "NICK"
	case Quit:
		return "QUIT"
	case Topic:
		return "TOPIC"
	case Mode:
		return "MODE"
	case Kick:
		return "KICK"
	case Invite:
		return "INVITE"
	case Whois:
		return "WHOIS"
	case Names:
		return "NAMES"
	case Away:
		return "AWAY"
	case Raw:
		return "RAW"
	case Pong:
		return "PONG"
	case Pass:
		return "PASS"
	case User:
		return "USER"
	case Cap:
		return "CAP"
	case Authenticate:
		return "AUTHENTICATE"
	}
	return ""
}
