package irc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ergochat/irc-go/ircutils"
)

var (
	errMalformed  = errors.New("malformed message")
	errOutOfPhase = errors.New("unexpected in the current phase")
)

// maxNickRetries bounds the underscore suffixes tried after the alternates run out.
const maxNickRetries = 5

// DefaultCaps are requested whenever the server offers them.
var DefaultCaps = []string{"multi-prefix", "userhost-in-names", "extended-join", "server-time"}

// Result is the outcome of dispatching one message.
type Result struct {
	Session *Session
	Events  []Event
	Replies []Intent // sent ahead of queued user commands
	Handled bool     // false for commands and numerics we do not know
	Err     error    // set when the message was rejected as malformed
}

func (r *Result) emit(ev Event) {
	r.Events = append(r.Events, ev)
}

func (r *Result) reply(in Intent) {
	r.Replies = append(r.Replies, in)
}

// Dispatcher applies server messages to session snapshots. One Dispatcher
// serves one connection; it keeps only the in-flight SASL exchange.
type Dispatcher struct {
	AltNicks    []string
	Caps        []string
	SASL        *SASLConfig
	CTCPVersion string
	Now         func() time.Time

	mech    Mechanism
	saslBuf *ircutils.SASLBuffer
}

// Reset forgets per-connection negotiation state.
func (d *Dispatcher) Reset() {
	d.mech = nil
	d.saslBuf = nil
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Dispatch returns the session that results from applying msg to s, together
// with the notifications and replies it causes. s itself is never modified:
// a rejected or unknown message yields s unchanged.
func (d *Dispatcher) Dispatch(s *Session, msg Message) Result {
	next := s.Clone()
	r := Result{Session: next, Handled: true}

	var err error
	switch msg.Command.Kind {
	case CmdPing:
		r.reply(Pong{Params: msg.Args()})
	case CmdPong:
	case CmdNick:
		err = d.onNick(next, &msg, &r)
	case CmdJoin:
		err = d.onJoin(next, &msg, &r)
	case CmdPart:
		err = d.onPart(next, &msg, &r)
	case CmdKick:
		err = d.onKick(next, &msg, &r)
	case CmdQuit:
		err = d.onQuit(next, &msg, &r)
	case CmdPrivmsg:
		err = d.onMessage(next, &msg, &r, false)
	case CmdNotice:
		err = d.onMessage(next, &msg, &r, true)
	case CmdTopic:
		err = d.onTopic(next, &msg, &r)
	case CmdMode:
		err = d.onMode(next, &msg, &r)
	case CmdInvite:
		err = d.onInvite(next, &msg, &r)
	case CmdCap:
		err = d.onCap(next, &msg, &r)
	case CmdAuthenticate:
		err = d.onAuthenticate(next, &msg, &r)
	case CmdError:
		r.emit(NoticeEvent{From: msg.Nick(), Text: msg.Last()})
	case CmdNumeric:
		err = d.onNumeric(next, &msg, &r)
	default:
		r.Handled = false
	}

	if err != nil {
		return Result{Session: s, Handled: true, Err: fmt.Errorf("%s: %w", msg.Command.Name, err)}
	}
	if !r.Handled {
		r.Session = s
	}
	return r
}

func (d *Dispatcher) roster(s *Session, ch *Channel) RosterEvent {
	return RosterEvent{Channel: ch.Name, Members: s.Roster(ch.Name)}
}

func (d *Dispatcher) onNick(s *Session, msg *Message, r *Result) error {
	newNick := msg.Arg(0)
	if msg.Prefix == nil || newNick == "" {
		return errMalformed
	}
	oldNick := msg.Prefix.Nick
	self := s.IsSelf(oldNick)

	touched := s.renameMember(oldNick, newNick)
	if self {
		if s.Phase == PhaseRegistered {
			s.Nick = newNick
			s.Target.Nick = newNick
		} else {
			s.Registration.PendingNick = newNick
		}
	}

	r.emit(NickEvent{Old: oldNick, New: newNick, Self: self, Channels: touched})
	for _, name := range touched {
		ch, _ := s.Channel(name)
		r.emit(d.roster(s, ch))
	}
	return nil
}

func (d *Dispatcher) onJoin(s *Session, msg *Message, r *Result) error {
	channel := msg.Arg(0)
	if msg.Prefix == nil || channel == "" {
		return errMalformed
	}
	nick := msg.Prefix.Nick

	if s.IsSelf(nick) {
		if s.Phase != PhaseRegistered {
			return ErrNotRegistered
		}
		if _, ok := s.Channel(channel); ok {
			return nil
		}
		ch := s.joinChannel(channel)
		r.emit(JoinEvent{Channel: ch.Name, Nick: s.Nick, Self: true})
		r.emit(d.roster(s, ch))
		return nil
	}

	ch, ok := s.Channel(channel)
	if !ok {
		return nil
	}
	s.addMember(ch, nick, "")
	r.emit(JoinEvent{Channel: ch.Name, Nick: nick})
	r.emit(d.roster(s, ch))
	return nil
}

func (d *Dispatcher) onPart(s *Session, msg *Message, r *Result) error {
	if msg.Prefix == nil || msg.Arg(0) == "" {
		return errMalformed
	}
	nick := msg.Prefix.Nick
	reason := msg.Arg(1)

	for _, channel := range strings.Split(msg.Arg(0), ",") {
		ch, ok := s.Channel(channel)
		if !ok {
			continue
		}
		if s.IsSelf(nick) {
			s.partChannel(channel)
			r.emit(PartEvent{Channel: ch.Name, Nick: nick, Reason: reason, Self: true})
			continue
		}
		if s.removeMember(ch, nick) {
			r.emit(PartEvent{Channel: ch.Name, Nick: nick, Reason: reason})
			r.emit(d.roster(s, ch))
		}
	}
	return nil
}

func (d *Dispatcher) onKick(s *Session, msg *Message, r *Result) error {
	channel, victim := msg.Arg(0), msg.Arg(1)
	if channel == "" || victim == "" {
		return errMalformed
	}
	ch, ok := s.Channel(channel)
	if !ok {
		return nil
	}
	ev := PartEvent{Channel: ch.Name, Nick: victim, Reason: msg.Arg(2), KickedBy: msg.Nick()}

	if s.IsSelf(victim) {
		s.partChannel(channel)
		ev.Self = true
		r.emit(ev)
		return nil
	}
	if s.removeMember(ch, victim) {
		r.emit(ev)
		r.emit(d.roster(s, ch))
	}
	return nil
}

func (d *Dispatcher) onQuit(s *Session, msg *Message, r *Result) error {
	if msg.Prefix == nil {
		return errMalformed
	}
	nick := msg.Prefix.Nick
	if s.IsSelf(nick) {
		return nil
	}
	left := s.quitMember(nick)
	if len(left) == 0 {
		return nil
	}
	r.emit(QuitEvent{Nick: nick, Reason: msg.Arg(0), Channels: left})
	for _, name := range left {
		ch, _ := s.Channel(name)
		r.emit(d.roster(s, ch))
	}
	return nil
}

func (d *Dispatcher) onMessage(s *Session, msg *Message, r *Result, notice bool) error {
	if msg.NArgs() < 2 {
		return errMalformed
	}
	target, text := msg.Arg(0), msg.Arg(1)

	if msg.Prefix == nil || msg.Prefix.IsServer() || target == "*" {
		r.emit(NoticeEvent{From: msg.Nick(), Text: text})
		return nil
	}
	from := *msg.Prefix

	if command, args, ok := parseCTCP(text); ok && command != "ACTION" {
		if notice {
			r.emit(NoticeEvent{From: from.Nick, Text: fmt.Sprintf("CTCP %s reply from %s: %s", command, from.Nick, args)})
			return nil
		}
		r.emit(NoticeEvent{From: from.Nick, Text: fmt.Sprintf("CTCP %s request from %s", command, from.Nick)})
		if resp, ok := d.ctcpReply(command, args); ok && s.Phase == PhaseRegistered {
			r.reply(CTCP{Target: from.Nick, Command: command, Args: resp, Reply: true})
		}
		return nil
	}

	ev := MessageEvent{
		From:     from,
		Target:   target,
		Text:     text,
		Notice:   notice,
		Private:  !s.IsChannel(target),
		Outgoing: s.IsSelf(from.Nick),
		Time:     d.messageTime(msg),
	}
	if command, args, ok := parseCTCP(text); ok && command == "ACTION" {
		ev.Action = true
		ev.Text = args
	}
	ev.Highlight = !ev.Outgoing && mentions(s, ev.Text)
	r.emit(ev)
	return nil
}

func (d *Dispatcher) messageTime(msg *Message) time.Time {
	if ts, ok := msg.Tags["time"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t
		}
	}
	return d.now()
}

// mentions reports whether our nickname appears in text as a whole word.
func mentions(s *Session, text string) bool {
	if s.Nick == "" {
		return false
	}
	nick := s.Fold(s.Nick)
	for _, word := range strings.FieldsFunc(text, func(r rune) bool { return !isNickRune(r) }) {
		if s.Fold(word) == nick {
			return true
		}
	}
	return false
}

func isNickRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("[]\\`_^{|}-", r)
}

func (d *Dispatcher) onTopic(s *Session, msg *Message, r *Result) error {
	channel := msg.Arg(0)
	if channel == "" || msg.NArgs() < 2 {
		return errMalformed
	}
	ch, ok := s.Channel(channel)
	if !ok {
		return nil
	}
	ch.Topic = msg.Arg(1)
	ch.TopicSet = ch.Topic != ""
	ch.TopicBy = msg.Nick()
	ch.TopicAt = d.now()
	r.emit(TopicEvent{Channel: ch.Name, Topic: ch.Topic, SetBy: ch.TopicBy, SetAt: ch.TopicAt})
	return nil
}

func (d *Dispatcher) onMode(s *Session, msg *Message, r *Result) error {
	target := msg.Arg(0)
	if target == "" || msg.NArgs() < 2 {
		return errMalformed
	}
	args := msg.Args()[1:]
	text := fmt.Sprintf("%s sets mode %s %s", msg.Nick(), target, strings.Join(args, " "))

	if !s.IsChannel(target) {
		r.emit(NoticeEvent{From: msg.Nick(), Text: text})
		return nil
	}
	ch, ok := s.Channel(target)
	if !ok {
		return nil
	}
	r.emit(NoticeEvent{From: msg.Nick(), Text: text})
	if applyModes(s, ch, args[0], args[1:]) {
		r.emit(d.roster(s, ch))
	}
	return nil
}

// applyModes walks a channel mode string and updates member prefix modes.
// Non-prefix modes are skipped, consuming their arguments per CHANMODES.
func applyModes(s *Session, ch *Channel, modes string, params []string) bool {
	add := true
	changed := false
	for i := 0; i < len(modes); i++ {
		mode := modes[i]
		switch mode {
		case '+':
			add = true
			continue
		case '-':
			add = false
			continue
		}
		if strings.IndexByte(s.Features.PrefixModes, mode) >= 0 {
			if len(params) == 0 {
				continue
			}
			if s.setMemberMode(ch, params[0], mode, add) {
				changed = true
			}
			params = params[1:]
			continue
		}
		if modeTakesArg(s.Features, mode, add) && len(params) > 0 {
			params = params[1:]
		}
	}
	return changed
}

func modeTakesArg(f Features, mode byte, add bool) bool {
	switch {
	case strings.IndexByte(f.ChanModes[0], mode) >= 0, strings.IndexByte(f.ChanModes[1], mode) >= 0:
		return true
	case strings.IndexByte(f.ChanModes[2], mode) >= 0:
		return add
	}
	return false
}

func (d *Dispatcher) onInvite(s *Session, msg *Message, r *Result) error {
	if msg.NArgs() < 2 {
		return errMalformed
	}
	r.emit(NoticeEvent{From: msg.Nick(), Text: fmt.Sprintf("%s invited %s to %s", msg.Nick(), msg.Arg(0), msg.Arg(1))})
	return nil
}

func (d *Dispatcher) wantedCaps(s *Session) []string {
	wanted := d.Caps
	if wanted == nil {
		wanted = DefaultCaps
	}
	if d.SASL != nil {
		wanted = append(append([]string{}, wanted...), "sasl")
	}
	var req []string
	for _, c := range wanted {
		if _, offered := s.CapsAvailable[c]; offered && !s.CapsEnabled[c] {
			req = append(req, c)
		}
	}
	return req
}

func (d *Dispatcher) onCap(s *Session, msg *Message, r *Result) error {
	if msg.NArgs() < 3 {
		return errMalformed
	}
	caps := strings.Fields(msg.Last())

	switch strings.ToUpper(msg.Arg(1)) {
	case "LS":
		for _, c := range caps {
			name, value, _ := strings.Cut(c, "=")
			s.CapsAvailable[name] = value
		}
		if msg.NArgs() > 3 && msg.Arg(2) == "*" {
			return nil
		}
		if s.Phase == PhaseRegistered {
			return nil
		}
		if req := d.wantedCaps(s); len(req) > 0 {
			r.reply(Cap{Sub: "REQ", Args: []string{strings.Join(req, " ")}})
			return nil
		}
		d.endCap(s, r)

	case "ACK":
		for _, c := range caps {
			if strings.HasPrefix(c, "-") {
				delete(s.CapsEnabled, c[1:])
				continue
			}
			s.CapsEnabled[c] = true
		}
		if s.Phase == PhaseRegistered {
			return nil
		}
		if s.CapsEnabled["sasl"] && d.SASL != nil && s.Registration.SASL == SASLNone {
			d.startSASL(s, r)
			return nil
		}
		d.endCap(s, r)

	case "NAK":
		r.emit(NoticeEvent{Text: "capabilities rejected: " + strings.Join(caps, " ")})
		if s.Phase != PhaseRegistered {
			d.endCap(s, r)
		}

	case "NEW":
		for _, c := range caps {
			name, value, _ := strings.Cut(c, "=")
			s.CapsAvailable[name] = value
		}
		if s.Phase == PhaseRegistered {
			if req := d.wantedCaps(s); len(req) > 0 {
				r.reply(Cap{Sub: "REQ", Args: []string{strings.Join(req, " ")}})
			}
		}

	case "DEL":
		for _, c := range caps {
			delete(s.CapsAvailable, c)
			delete(s.CapsEnabled, c)
		}
	}
	return nil
}

func (d *Dispatcher) endCap(s *Session, r *Result) {
	if !s.Registration.CapNegotiating {
		return
	}
	s.Registration.CapNegotiating = false
	r.reply(Cap{Sub: "END"})
}

func (d *Dispatcher) startSASL(s *Session, r *Result) {
	mech, err := NewMechanism(*d.SASL)
	if err != nil {
		s.Registration.SASL = SASLFailed
		r.emit(NoticeEvent{Text: fmt.Sprintf("SASL authentication skipped: %v", err)})
		d.endCap(s, r)
		return
	}
	if offered := s.CapsAvailable["sasl"]; offered != "" && !containsFold(strings.Split(offered, ","), mech.Name()) {
		s.Registration.SASL = SASLFailed
		r.emit(NoticeEvent{Text: fmt.Sprintf("server does not offer SASL %s (offers %s)", mech.Name(), offered)})
		d.endCap(s, r)
		return
	}
	d.mech = mech
	d.saslBuf = ircutils.NewSASLBuffer(8192)
	s.Registration.SASL = SASLInProgress
	r.reply(Authenticate{Payload: mech.Name()})
}

func (d *Dispatcher) onAuthenticate(s *Session, msg *Message, r *Result) error {
	if d.mech == nil || s.Registration.SASL != SASLInProgress {
		return nil
	}
	done, challenge, err := d.saslBuf.Add(msg.Arg(0))
	if err != nil {
		d.abortSASL(s, r, err)
		return nil
	}
	if !done {
		return nil
	}
	resp, err := d.mech.Next(challenge)
	if err != nil {
		d.abortSASL(s, r, err)
		return nil
	}
	for _, chunk := range ircutils.EncodeSASLResponse(resp) {
		r.reply(Authenticate{Payload: chunk})
	}
	return nil
}

func (d *Dispatcher) abortSASL(s *Session, r *Result, err error) {
	d.mech = nil
	s.Registration.SASL = SASLFailed
	r.emit(NoticeEvent{Text: fmt.Sprintf("SASL authentication aborted: %v", err)})
	r.reply(Authenticate{Payload: "*"})
}

func (d *Dispatcher) onNumeric(s *Session, msg *Message, r *Result) error {
	code := msg.Command.Code
	switch code {
	case RPL_WELCOME:
		if s.Phase != PhaseRegistering {
			return errOutOfPhase
		}
		nick := msg.Arg(0)
		if nick == "" || nick == "*" {
			return errMalformed
		}
		s.Nick = nick
		s.Phase = PhaseRegistered
		s.Registration = Registration{}
		d.Reset()
		r.emit(NoticeEvent{Code: code, From: msg.Nick(), Text: msg.Last()})

	case RPL_ISUPPORT:
		applyISupport(s, msg.Params[min(1, len(msg.Params)):])

	case RPL_NOTOPIC, RPL_TOPIC:
		ch, ok := s.Channel(msg.Arg(1))
		if !ok {
			r.emit(NoticeEvent{Code: code, From: msg.Nick(), Text: strings.Join(msg.Args()[min(1, msg.NArgs()):], " ")})
			return nil
		}
		ch.Topic = ""
		if code == RPL_TOPIC {
			ch.Topic = msg.Arg(2)
		}
		ch.TopicSet = ch.Topic != ""
		r.emit(TopicEvent{Channel: ch.Name, Topic: ch.Topic, SetBy: ch.TopicBy, SetAt: ch.TopicAt})

	case RPL_TOPICWHOTIME:
		ch, ok := s.Channel(msg.Arg(1))
		if !ok {
			return nil
		}
		setter := msg.Arg(2)
		if p, err := parsePrefix(setter); err == nil {
			setter = p.Nick
		}
		ch.TopicBy = setter
		if ts, err := strconv.ParseInt(msg.Arg(3), 10, 64); err == nil {
			ch.TopicAt = time.Unix(ts, 0)
		}
		r.emit(TopicEvent{Channel: ch.Name, Topic: ch.Topic, SetBy: ch.TopicBy, SetAt: ch.TopicAt})

	case RPL_NAMREPLY:
		if msg.NArgs() < 3 {
			return errMalformed
		}
		d.onNames(s, msg.Arg(msg.NArgs()-2), msg.Last(), r)

	case RPL_ENDOFNAMES:
		channel := msg.Arg(1)
		delete(s.namesPending, s.Fold(channel))
		if ch, ok := s.Channel(channel); ok {
			r.emit(d.roster(s, ch))
		}

	case ERR_ERRONEUSNICK, ERR_NICKNAMEINUSE, ERR_NICKCOLLISION, ERR_UNAVAILRESOURCE:
		r.emit(NoticeEvent{Code: code, From: msg.Nick(), Text: strings.Join(msg.Args()[min(1, msg.NArgs()):], " ")})
		if s.Phase == PhaseRegistered {
			return nil
		}
		next, ok := d.nextNick(s)
		if !ok {
			r.emit(NoticeEvent{Text: "no usable nickname left"})
			return nil
		}
		s.Registration.NickAttempt++
		s.Registration.PendingNick = next
		r.reply(Nick{Nick: next})

	case RPL_SASLSUCCESS:
		s.Registration.SASL = SASLSucceeded
		d.mech = nil
		r.emit(NoticeEvent{Code: code, From: msg.Nick(), Text: msg.Last()})
		d.endCap(s, r)

	case ERR_NICKLOCKED, ERR_SASLFAIL, ERR_SASLTOOLONG, ERR_SASLABORTED:
		s.Registration.SASL = SASLFailed
		d.mech = nil
		r.emit(NoticeEvent{Code: code, From: msg.Nick(), Text: msg.Last()})
		d.endCap(s, r)

	case ERR_SASLALREADY:
		d.endCap(s, r)

	case RPL_SASLMECHS:
		r.emit(NoticeEvent{Code: code, From: msg.Nick(), Text: "server SASL mechanisms: " + msg.Arg(1)})

	default:
		if !informational[code] && !isErrorNumeric(code) {
			r.Handled = false
			return nil
		}
		r.emit(NoticeEvent{Code: code, From: msg.Nick(), Text: strings.Join(msg.Args()[min(1, msg.NArgs()):], " ")})
	}
	return nil
}

func (d *Dispatcher) onNames(s *Session, channel, names string, r *Result) {
	ch, ok := s.Channel(channel)
	if !ok {
		r.emit(NoticeEvent{Code: RPL_NAMREPLY, Text: channel + ": " + names})
		return
	}
	key := s.Fold(ch.Name)
	if !s.namesPending[key] {
		// first reply of a burst replaces the member set
		s.namesPending[key] = true
		self := ch.Members[s.Fold(s.Nick)]
		self.Nick = s.Nick
		ch.Members = map[string]Member{s.Fold(s.Nick): self}
	}
	for _, entry := range strings.Fields(names) {
		nick, modes := s.splitPrefixes(entry)
		if nick == "" {
			continue
		}
		s.addMember(ch, nick, modes)
	}
}

func (d *Dispatcher) nextNick(s *Session) (string, bool) {
	attempt := s.Registration.NickAttempt
	if attempt < len(d.AltNicks) {
		return d.AltNicks[attempt], true
	}
	n := attempt - len(d.AltNicks) + 1
	if n > maxNickRetries {
		return "", false
	}
	return s.Target.Nick + strings.Repeat("_", n), true
}

func applyISupport(s *Session, tokens []string) {
	for _, tok := range tokens {
		negate := strings.HasPrefix(tok, "-")
		name, value, _ := strings.Cut(strings.TrimPrefix(tok, "-"), "=")
		defaults := DefaultFeatures()

		switch strings.ToUpper(name) {
		case "CASEMAPPING":
			cm := defaults.Casemapping
			if !negate {
				if parsed, ok := ParseCasemapping(value); ok {
					cm = parsed
				}
			}
			if cm != s.Features.Casemapping {
				previous := s.Features.Casemapping
				s.Features.Casemapping = cm
				s.refold(previous)
			}
		case "CHANTYPES":
			s.Features.ChanTypes = value
			if negate {
				s.Features.ChanTypes = defaults.ChanTypes
			}
		case "PREFIX":
			s.Features.PrefixModes, s.Features.PrefixSymbols = defaults.PrefixModes, defaults.PrefixSymbols
			if !negate {
				if modes, symbols, ok := parsePrefixToken(value); ok {
					s.Features.PrefixModes, s.Features.PrefixSymbols = modes, symbols
				}
			}
		case "CHANMODES":
			s.Features.ChanModes = defaults.ChanModes
			if !negate {
				var groups [4]string
				copy(groups[:], strings.SplitN(value, ",", 4))
				s.Features.ChanModes = groups
			}
		case "NETWORK":
			s.Features.Network = value
			if negate {
				s.Features.Network = ""
			}
		}
	}
}

// parsePrefixToken splits "(ov)@+" into mode letters and symbols.
func parsePrefixToken(value string) (modes, symbols string, ok bool) {
	if value == "" {
		return "", "", true
	}
	if !strings.HasPrefix(value, "(") {
		return "", "", false
	}
	end := strings.IndexByte(value, ')')
	if end < 0 {
		return "", "", false
	}
	modes, symbols = value[1:end], value[end+1:]
	if len(modes) != len(symbols) {
		return "", "", false
	}
	return modes, symbols, true
}

func containsFold(list []string, item string) bool {
	for _, v := range list {
		if strings.EqualFold(v, item) {
			return true
		}
	}
	return false
}
