// Package input turns lines typed by the user into protocol intents or local
// client actions.
package input

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/matt0x6f/cascade-core/internal/irc"
)

// ErrNoTarget is returned for plain text when no channel or query is selected.
var ErrNoTarget = errors.New("no target selected; use /join or /query first")

// Action says what the caller should do with a parsed Command.
type Action int

const (
	// ActionSend sends Command.Intent on the current network.
	ActionSend Action = iota
	// ActionSwitch makes Command.Arg the current target.
	ActionSwitch
	// ActionNetwork makes Command.Arg the current network.
	ActionNetwork
	// ActionHistory prints the last Command.N lines of Command.Arg.
	ActionHistory
	// ActionQuit disconnects the current network with reason Command.Arg.
	ActionQuit
	// ActionExit disconnects every network and exits.
	ActionExit
	// ActionHelp prints the command list.
	ActionHelp
	// ActionForget removes channel Command.Arg from the saved auto-join list.
	ActionForget
	// ActionNone means nothing to do.
	ActionNone
)

// Command is the result of parsing one input line.
type Command struct {
	Action Action
	Intent irc.Intent
	Arg    string
	N      int
}

// Help lists the supported commands.
const Help = `/join #channel [key]    /part [#channel] [reason]   /msg target text
/me text                /notice target text         /query nick [text]
/nick newnick           /topic [#channel] [topic]   /mode target modes [args]
/kick #channel nick     /invite nick [#channel]     /whois nick
/names [#channel]       /away [message]             /ctcp target command [args]
/op /deop /voice /devoice [#channel] nick           /ban /unban [#channel] mask
/quote line             /network name               /window target
/history [target] [n]   /forget [#channel]          /quit [reason]
/exit`

const defaultHistory = 50

func send(in irc.Intent) (Command, error) {
	return Command{Action: ActionSend, Intent: in}, nil
}

func usage(s string) (Command, error) {
	return Command{}, fmt.Errorf("usage: %s", s)
}

func isChannel(s string) bool {
	return s != "" && strings.ContainsRune("#&+!", rune(s[0]))
}

// Parse interprets line. target is the currently selected channel or query
// and may be empty. Unknown slash commands are sent to the server as is.
func Parse(line, target string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Command{Action: ActionNone}, nil
	}

	if !strings.HasPrefix(line, "/") || strings.HasPrefix(line, "//") {
		text := strings.TrimPrefix(line, "/")
		if target == "" {
			return Command{}, ErrNoTarget
		}
		return send(irc.Privmsg{Target: target, Text: text})
	}

	parts := strings.Fields(line[1:])
	if len(parts) == 0 {
		return Command{}, fmt.Errorf("invalid command")
	}
	cmd := strings.ToUpper(parts[0])
	args := parts[1:]
	// rest returns the text from parts[from] on.
	rest := func(from int) string {
		return restOf(line, from)
	}

	// channelArg takes an explicit channel as the first argument, or falls
	// back to the current target.
	channelArg := func() (string, []string, bool) {
		if len(args) > 0 && isChannel(args[0]) {
			return args[0], args[1:], true
		}
		if isChannel(target) {
			return target, args, true
		}
		return "", args, false
	}

	switch cmd {
	case "JOIN", "J":
		if len(args) < 1 {
			return usage("/join #channel [key]")
		}
		in := irc.Join{Channel: args[0]}
		if len(args) >= 2 {
			in.Key = args[1]
		}
		return send(in)
	case "PART", "LEAVE":
		if len(args) > 0 && isChannel(args[0]) {
			return send(irc.Part{Channel: args[0], Reason: rest(2)})
		}
		if !isChannel(target) {
			return usage("/part #channel [reason]")
		}
		return send(irc.Part{Channel: target, Reason: rest(1)})
	case "MSG", "PRIVMSG", "M":
		if len(args) < 2 {
			return usage("/msg target message")
		}
		return send(irc.Privmsg{Target: args[0], Text: rest(2)})
	case "NOTICE":
		if len(args) < 2 {
			return usage("/notice target message")
		}
		return send(irc.Notice{Target: args[0], Text: rest(2)})
	case "ME", "ACTION":
		if target == "" || len(args) == 0 {
			return usage("/me action text")
		}
		return send(irc.Action{Target: target, Text: rest(1)})
	case "CTCP":
		if len(args) < 2 {
			return usage("/ctcp target command [args]")
		}
		return send(irc.CTCP{Target: args[0], Command: strings.ToUpper(args[1]), Args: rest(3)})
	case "QUERY", "Q":
		if len(args) < 1 {
			return usage("/query nickname [message]")
		}
		if len(args) >= 2 {
			return send(irc.Privmsg{Target: args[0], Text: rest(2)})
		}
		return Command{Action: ActionSwitch, Arg: args[0]}, nil
	case "WINDOW", "W":
		if len(args) < 1 {
			return usage("/window target")
		}
		return Command{Action: ActionSwitch, Arg: args[0]}, nil
	case "NICK":
		if len(args) < 1 {
			return usage("/nick newnick")
		}
		return send(irc.Nick{Nick: args[0]})
	case "TOPIC":
		channel, rem, ok := channelArg()
		if !ok {
			return usage("/topic #channel [new topic]")
		}
		if len(rem) == 0 {
			return send(irc.Topic{Channel: channel})
		}
		return send(irc.Topic{Channel: channel, Topic: strings.Join(rem, " "), Set: true})
	case "MODE":
		if len(args) < 1 {
			return usage("/mode target modes [args]")
		}
		in := irc.Mode{Target: args[0]}
		if len(args) >= 2 {
			in.Modes = args[1]
			in.Args = args[2:]
		}
		return send(in)
	case "KICK":
		channel, rem, ok := channelArg()
		if !ok || len(rem) < 1 {
			return usage("/kick #channel nickname [reason]")
		}
		return send(irc.Kick{Channel: channel, Nick: rem[0], Reason: strings.Join(rem[1:], " ")})
	case "INVITE":
		if len(args) < 1 {
			return usage("/invite nickname #channel")
		}
		channel := target
		if len(args) >= 2 {
			channel = args[1]
		}
		if !isChannel(channel) {
			return usage("/invite nickname #channel")
		}
		return send(irc.Invite{Nick: args[0], Channel: channel})
	case "OP", "DEOP", "VOICE", "V", "DEVOICE", "DEV", "BAN", "UNBAN":
		channel, rem, ok := channelArg()
		if !ok || len(rem) < 1 {
			return usage("/" + strings.ToLower(cmd) + " #channel nickname")
		}
		return send(irc.Mode{Target: channel, Modes: shortcutModes[cmd], Args: rem[:1]})
	case "WHOIS":
		if len(args) < 1 {
			return usage("/whois nickname")
		}
		return send(irc.Whois{Nick: args[0]})
	case "NAMES":
		channel, _, ok := channelArg()
		if !ok {
			return usage("/names #channel")
		}
		return send(irc.Names{Channel: channel})
	case "AWAY":
		return send(irc.Away{Message: rest(1)})
	case "QUOTE", "RAW":
		if len(args) < 1 {
			return usage("/quote command [args]")
		}
		return send(irc.Raw{Line: rest(1)})
	case "NETWORK", "SERVER":
		if len(args) < 1 {
			return usage("/network name")
		}
		return Command{Action: ActionNetwork, Arg: args[0]}, nil
	case "HISTORY":
		return parseHistory(args, target)
	case "FORGET":
		channel, _, ok := channelArg()
		if !ok {
			return usage("/forget #channel")
		}
		return Command{Action: ActionForget, Arg: channel}, nil
	case "QUIT", "DISCONNECT":
		return Command{Action: ActionQuit, Arg: rest(1)}, nil
	case "EXIT":
		return Command{Action: ActionExit, Arg: rest(1)}, nil
	case "HELP":
		return Command{Action: ActionHelp}, nil
	}

	return send(irc.Raw{Line: line[1:]})
}

var shortcutModes = map[string]string{
	"OP":      "+o",
	"DEOP":    "-o",
	"VOICE":   "+v",
	"V":       "+v",
	"DEVOICE": "-v",
	"DEV":     "-v",
	"BAN":     "+b",
	"UNBAN":   "-b",
}

func parseHistory(args []string, target string) (Command, error) {
	c := Command{Action: ActionHistory, Arg: target, N: defaultHistory}
	for _, a := range args {
		if n, err := strconv.Atoi(a); err == nil {
			if n <= 0 {
				return usage("/history [target] [count]")
			}
			c.N = n
			continue
		}
		c.Arg = a
	}
	if c.Arg == "" {
		return usage("/history [target] [count]")
	}
	return c, nil
}

// restOf returns line from its n-th space-separated word on, keeping the
// original spacing of the remainder.
func restOf(line string, n int) string {
	s := line
	for i := 0; i < n; i++ {
		s = strings.TrimLeft(s, " ")
		idx := strings.IndexByte(s, ' ')
		if idx < 0 {
			return ""
		}
		s = s[idx:]
	}
	return strings.TrimLeft(s, " ")
}
