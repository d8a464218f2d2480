package irc

import (
	"errors"
	"strconv"
	"strings"

	"github.com/ergochat/irc-go/ircmsg"
)

// CommandKind is the closed set of commands the dispatcher understands.
// Anything else parses as CmdUnknown and is tolerated.
type CommandKind int

const (
	CmdUnknown CommandKind = iota
	CmdNumeric
	CmdPing
	CmdPong
	CmdNick
	CmdJoin
	CmdPart
	CmdKick
	CmdQuit
	CmdPrivmsg
	CmdNotice
	CmdTopic
	CmdMode
	CmdInvite
	CmdCap
	CmdAuthenticate
	CmdError
)

var commandKinds = map[string]CommandKind{
	"PING":         CmdPing,
	"PONG":         CmdPong,
	"NICK":         CmdNick,
	"JOIN":         CmdJoin,
	"PART":         CmdPart,
	"KICK":         CmdKick,
	"QUIT":         CmdQuit,
	"PRIVMSG":      CmdPrivmsg,
	"NOTICE":       CmdNotice,
	"TOPIC":        CmdTopic,
	"MODE":         CmdMode,
	"INVITE":       CmdInvite,
	"CAP":          CmdCap,
	"AUTHENTICATE": CmdAuthenticate,
	"ERROR":        CmdError,
}

// Command is either a textual command or a three digit numeric reply.
type Command struct {
	Kind CommandKind
	Name string // upper-cased token as received
	Code int    // set when Kind == CmdNumeric
}

// ParseCommand classifies a command token.
func ParseCommand(token string) Command {
	name := strings.ToUpper(token)
	if isNumeric(name) {
		code, _ := strconv.Atoi(name)
		return Command{Kind: CmdNumeric, Name: name, Code: code}
	}
	return Command{Kind: commandKinds[name], Name: name}
}

func (c Command) String() string {
	return c.Name
}

func isNumeric(token string) bool {
	if len(token) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if token[i] < '0' || token[i] > '9' {
			return false
		}
	}
	return true
}

// Prefix is the decomposed source of a message. Missing parts stay empty.
type Prefix struct {
	Nick string
	User string
	Host string
}

// IsServer reports whether the prefix names a server rather than a user.
func (p *Prefix) IsServer() bool {
	return p.User == "" && p.Host == "" && strings.Contains(p.Nick, ".")
}

func (p *Prefix) String() string {
	nuh := ircmsg.NUH{Name: p.Nick, User: p.User, Host: p.Host}
	return nuh.Canonical()
}

// Message is one parsed protocol line.
type Message struct {
	Tags        map[string]string
	Prefix      *Prefix
	Command     Command
	Params      []string // middle parameters
	Trailing    string
	HasTrailing bool
}

// Args returns the middle parameters followed by the trailing one, if any.
func (m *Message) Args() []string {
	args := make([]string, 0, len(m.Params)+1)
	args = append(args, m.Params...)
	if m.HasTrailing {
		args = append(args, m.Trailing)
	}
	return args
}

// Arg returns the i'th argument, or "" when there are not that many.
func (m *Message) Arg(i int) string {
	if i < len(m.Params) {
		return m.Params[i]
	}
	if i == len(m.Params) && m.HasTrailing {
		return m.Trailing
	}
	return ""
}

// NArgs is the number of arguments, trailing included.
func (m *Message) NArgs() int {
	if m.HasTrailing {
		return len(m.Params) + 1
	}
	return len(m.Params)
}

// Last returns the final argument.
func (m *Message) Last() string {
	if n := m.NArgs(); n > 0 {
		return m.Arg(n - 1)
	}
	return ""
}

// Nick returns the prefix nickname, or "" for prefix-less lines.
func (m *Message) Nick() string {
	if m.Prefix == nil {
		return ""
	}
	return m.Prefix.Nick
}

// Line encodes the message back to wire form, CRLF included.
func (m *Message) Line() (string, error) {
	source := ""
	if m.Prefix != nil {
		source = m.Prefix.String()
	}
	out := ircmsg.MakeMessage(m.Tags, source, m.Command.Name, m.Args()...)
	if m.HasTrailing {
		out.ForceTrailing()
	}
	return out.Line()
}

// ParseMessage converts one framed line into a Message.
func ParseMessage(line string) (Message, error) {
	var msg Message

	rest := trimSpaces(line)
	if rest == "" {
		return msg, &ParseError{Reason: ReasonEmptyLine, Line: line}
	}

	if rest[0] == '@' {
		end := strings.IndexByte(rest, ' ')
		if end < 0 {
			return msg, &ParseError{Reason: ReasonMissingCommand, Line: line}
		}
		tagged, err := ircmsg.ParseLine(rest)
		if err != nil {
			return msg, &ParseError{Reason: ReasonMalformedTags, Line: line}
		}
		if tags := tagged.AllTags(); len(tags) > 0 {
			msg.Tags = tags
		}
		rest = trimSpaces(rest[end+1:])
	}

	if rest != "" && rest[0] == ':' {
		end := strings.IndexByte(rest, ' ')
		if end < 0 {
			return msg, &ParseError{Reason: ReasonMissingCommand, Line: line}
		}
		prefix, err := parsePrefix(rest[1:end])
		if err != nil {
			return msg, &ParseError{Reason: ReasonMalformedPrefix, Line: line}
		}
		msg.Prefix = prefix
		rest = trimSpaces(rest[end+1:])
	}

	if rest == "" {
		return msg, &ParseError{Reason: ReasonMissingCommand, Line: line}
	}

	end := strings.IndexByte(rest, ' ')
	if end < 0 {
		end = len(rest)
	}
	msg.Command = ParseCommand(rest[:end])
	rest = rest[end:]

	for {
		rest = trimSpaces(rest)
		if rest == "" {
			break
		}
		if rest[0] == ':' {
			msg.Trailing = rest[1:]
			msg.HasTrailing = true
			break
		}
		end := strings.IndexByte(rest, ' ')
		if end < 0 {
			msg.Params = append(msg.Params, rest)
			break
		}
		msg.Params = append(msg.Params, rest[:end])
		rest = rest[end:]
	}

	return msg, nil
}

var errEmptyPrefixName = errors.New("prefix has no name")

func parsePrefix(source string) (*Prefix, error) {
	nuh, err := ircmsg.ParseNUH(source)
	if err != nil {
		return nil, err
	}
	if nuh.Name == "" {
		return nil, errEmptyPrefixName
	}
	return &Prefix{Nick: nuh.Name, User: nuh.User, Host: nuh.Host}, nil
}

func trimSpaces(s string) string {
	return strings.TrimLeft(s, " ")
}
