package irc

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Phase is the connection phase of a Session.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseRegistering
	PhaseRegistered
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseRegistering:
		return "registering"
	case PhaseRegistered:
		return "registered"
	}
	return "disconnected"
}

// Identity is the nickname, username and realname the user asked for.
type Identity struct {
	Nick     string
	User     string
	RealName string
}

// Handle identifies one Session to collaborators without shared global state.
type Handle struct {
	ID      uuid.UUID
	Network string
}

// Member is one nickname in a channel together with its prefix modes.
type Member struct {
	Nick  string
	Modes string // prefix mode letters, highest rank first
}

// Channel is a joined channel.
type Channel struct {
	Name     string
	Topic    string
	TopicSet bool
	TopicBy  string
	TopicAt  time.Time
	Members  map[string]Member // keyed by folded nick
}

// Features are the server parameters advertised in RPL_ISUPPORT.
type Features struct {
	Network       string
	Casemapping   Casemapping
	ChanTypes     string
	PrefixModes   string // e.g. "ov"
	PrefixSymbols string // e.g. "@+"
	ChanModes     [4]string
}

// DefaultFeatures are assumed until the server says otherwise.
func DefaultFeatures() Features {
	return Features{
		Casemapping:   CasemapRFC1459,
		ChanTypes:     "#&",
		PrefixModes:   "ov",
		PrefixSymbols: "@+",
		ChanModes:     [4]string{"beI", "k", "l", "imnpst"},
	}
}

// SASLState tracks authentication during registration.
type SASLState int

const (
	SASLNone SASLState = iota
	SASLInProgress
	SASLSucceeded
	SASLFailed
)

// Registration holds handshake progress. It is meaningless once Registered.
type Registration struct {
	CapNegotiating bool
	SASL           SASLState
	NickAttempt    int
	PendingNick    string
}

// Session is one connection's state. A published Session is never mutated;
// the dispatcher works on a Clone.
type Session struct {
	Handle   Handle
	Phase    Phase
	Target   Identity
	Nick     string // confirmed by the server, empty until RPL_WELCOME
	Features Features
	Channels map[string]*Channel // keyed by folded channel name

	CapsAvailable map[string]string
	CapsEnabled   map[string]bool
	Registration  Registration

	namesPending map[string]bool
}

// NewSession creates a disconnected session for the given network.
func NewSession(network string, target Identity) *Session {
	return &Session{
		Handle:        Handle{ID: uuid.New(), Network: network},
		Phase:         PhaseDisconnected,
		Target:        target,
		Features:      DefaultFeatures(),
		Channels:      make(map[string]*Channel),
		CapsAvailable: make(map[string]string),
		CapsEnabled:   make(map[string]bool),
		namesPending:  make(map[string]bool),
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Channels = make(map[string]*Channel, len(s.Channels))
	for k, ch := range s.Channels {
		c.Channels[k] = ch.clone()
	}
	c.CapsAvailable = make(map[string]string, len(s.CapsAvailable))
	for k, v := range s.CapsAvailable {
		c.CapsAvailable[k] = v
	}
	c.CapsEnabled = make(map[string]bool, len(s.CapsEnabled))
	for k, v := range s.CapsEnabled {
		c.CapsEnabled[k] = v
	}
	c.namesPending = make(map[string]bool, len(s.namesPending))
	for k, v := range s.namesPending {
		c.namesPending[k] = v
	}
	return &c
}

func (ch *Channel) clone() *Channel {
	c := *ch
	c.Members = make(map[string]Member, len(ch.Members))
	for k, m := range ch.Members {
		c.Members[k] = m
	}
	return &c
}

// Fold applies the session casemapping.
func (s *Session) Fold(name string) string {
	return s.Features.Casemapping.Fold(name)
}

// IsSelf reports whether nick is the confirmed local nickname.
// Before confirmation the nickname being registered counts as self.
func (s *Session) IsSelf(nick string) bool {
	if nick == "" {
		return false
	}
	me := s.Nick
	if me == "" {
		me = s.Registration.PendingNick
	}
	if me == "" {
		me = s.Target.Nick
	}
	return s.Fold(nick) == s.Fold(me)
}

// IsChannel reports whether target starts with one of the server's channel types.
func (s *Session) IsChannel(target string) bool {
	return target != "" && strings.IndexByte(s.Features.ChanTypes, target[0]) >= 0
}

// Channel looks up a joined channel. The result must not be modified.
func (s *Session) Channel(name string) (*Channel, bool) {
	ch, ok := s.Channels[s.Fold(name)]
	return ch, ok
}

// ChannelNames returns joined channel names in sorted order.
func (s *Session) ChannelNames() []string {
	names := make([]string, 0, len(s.Channels))
	for _, ch := range s.Channels {
		names = append(names, ch.Name)
	}
	sort.Strings(names)
	return names
}

// Roster returns the members of a channel ordered by rank then nickname.
func (s *Session) Roster(name string) []Member {
	ch, ok := s.Channel(name)
	if !ok {
		return nil
	}
	members := make([]Member, 0, len(ch.Members))
	for _, m := range ch.Members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		ri, rj := s.rank(members[i].Modes), s.rank(members[j].Modes)
		if ri != rj {
			return ri < rj
		}
		return s.Fold(members[i].Nick) < s.Fold(members[j].Nick)
	})
	return members
}

// MemberPrefix returns the display symbol for a member's highest mode.
func (s *Session) MemberPrefix(m Member) string {
	if m.Modes == "" {
		return ""
	}
	i := strings.IndexByte(s.Features.PrefixModes, m.Modes[0])
	if i < 0 || i >= len(s.Features.PrefixSymbols) {
		return ""
	}
	return s.Features.PrefixSymbols[i : i+1]
}

func (s *Session) rank(modes string) int {
	if modes == "" {
		return len(s.Features.PrefixModes)
	}
	if i := strings.IndexByte(s.Features.PrefixModes, modes[0]); i >= 0 {
		return i
	}
	return len(s.Features.PrefixModes)
}

// Reset drops everything learned from the server. The requested identity survives
// so it can be retried on reconnect.
func (s *Session) Reset() {
	s.Phase = PhaseDisconnected
	s.Nick = ""
	s.Features = DefaultFeatures()
	s.Channels = make(map[string]*Channel)
	s.CapsAvailable = make(map[string]string)
	s.CapsEnabled = make(map[string]bool)
	s.Registration = Registration{}
	s.namesPending = make(map[string]bool)
}

// mutators used by the dispatcher on a cloned session

func (s *Session) joinChannel(name string) *Channel {
	key := s.Fold(name)
	if ch, ok := s.Channels[key]; ok {
		return ch
	}
	ch := &Channel{
		Name:    name,
		Members: map[string]Member{s.Fold(s.Nick): {Nick: s.Nick}},
	}
	s.Channels[key] = ch
	return ch
}

func (s *Session) partChannel(name string) bool {
	key := s.Fold(name)
	if _, ok := s.Channels[key]; !ok {
		return false
	}
	delete(s.Channels, key)
	delete(s.namesPending, key)
	return true
}

func (s *Session) addMember(ch *Channel, nick, modes string) {
	ch.Members[s.Fold(nick)] = Member{Nick: nick, Modes: s.sortModes(modes)}
}

func (s *Session) removeMember(ch *Channel, nick string) bool {
	key := s.Fold(nick)
	if _, ok := ch.Members[key]; !ok {
		return false
	}
	delete(ch.Members, key)
	return true
}

// renameMember moves old to new in every channel and returns the channels touched.
func (s *Session) renameMember(oldNick, newNick string) []string {
	oldKey, newKey := s.Fold(oldNick), s.Fold(newNick)
	var touched []string
	for _, ch := range s.Channels {
		m, ok := ch.Members[oldKey]
		if !ok {
			continue
		}
		delete(ch.Members, oldKey)
		m.Nick = newNick
		ch.Members[newKey] = m
		touched = append(touched, ch.Name)
	}
	sort.Strings(touched)
	return touched
}

// quitMember removes nick from every channel and returns the channels it left.
func (s *Session) quitMember(nick string) []string {
	var left []string
	for _, ch := range s.Channels {
		if s.removeMember(ch, nick) {
			left = append(left, ch.Name)
		}
	}
	sort.Strings(left)
	return left
}

func (s *Session) setMemberMode(ch *Channel, nick string, mode byte, add bool) bool {
	key := s.Fold(nick)
	m, ok := ch.Members[key]
	if !ok {
		return false
	}
	has := strings.IndexByte(m.Modes, mode) >= 0
	switch {
	case add && !has:
		m.Modes = s.sortModes(m.Modes + string(mode))
	case !add && has:
		m.Modes = strings.ReplaceAll(m.Modes, string(mode), "")
	default:
		return false
	}
	ch.Members[key] = m
	return true
}

func (s *Session) sortModes(modes string) string {
	if len(modes) < 2 {
		return modes
	}
	b := []byte(modes)
	sort.SliceStable(b, func(i, j int) bool {
		return s.modeRank(b[i]) < s.modeRank(b[j])
	})
	return string(b)
}

func (s *Session) modeRank(mode byte) int {
	if i := strings.IndexByte(s.Features.PrefixModes, mode); i >= 0 {
		return i
	}
	return len(s.Features.PrefixModes)
}

// splitPrefixes separates leading membership symbols (multi-prefix aware) from a
// NAMES entry and maps them to mode letters.
func (s *Session) splitPrefixes(entry string) (nick, modes string) {
	i := 0
	var b strings.Builder
	for i < len(entry) {
		j := strings.IndexByte(s.Features.PrefixSymbols, entry[i])
		if j < 0 {
			break
		}
		if j < len(s.Features.PrefixModes) {
			b.WriteByte(s.Features.PrefixModes[j])
		}
		i++
	}
	nick = entry[i:]
	// userhost-in-names
	if bang := strings.IndexByte(nick, '!'); bang >= 0 {
		nick = nick[:bang]
	}
	return nick, b.String()
}

// refold rebuilds every map key after a casemapping change.
func (s *Session) refold(previous Casemapping) {
	channels := make(map[string]*Channel, len(s.Channels))
	pending := make(map[string]bool, len(s.namesPending))
	for _, ch := range s.Channels {
		members := make(map[string]Member, len(ch.Members))
		for _, m := range ch.Members {
			members[s.Fold(m.Nick)] = m
		}
		ch.Members = members
		channels[s.Fold(ch.Name)] = ch
		if s.namesPending[previous.Fold(ch.Name)] {
			pending[s.Fold(ch.Name)] = true
		}
	}
	s.Channels = channels
	s.namesPending = pending
}
