package irc

import (
	"time"
)

// Event is a notification produced while processing a message or a
// connection state change. The concrete types below form a closed set.
type Event interface {
	isEvent()
}

// MessageEvent is a PRIVMSG or NOTICE addressed to us or to a channel we are in.
type MessageEvent struct {
	From      Prefix
	Target    string
	Text      string
	Notice    bool
	Action    bool
	Private   bool // target is our nickname rather than a channel
	Outgoing  bool // sent by this client
	Highlight bool // text mentions our nickname
	Time      time.Time
}

// NoticeEvent is a system or status line: server notices, MOTD, errors, CTCP traffic.
type NoticeEvent struct {
	Code int // numeric code, 0 for textual sources
	From string
	Text string
}

// RosterEvent carries the full member list of a channel after it changed.
type RosterEvent struct {
	Channel string
	Members []Member
}

// TopicEvent is emitted when a channel topic is learned or changed.
type TopicEvent struct {
	Channel string
	Topic   string
	SetBy   string
	SetAt   time.Time
}

// JoinEvent reports a confirmed JOIN.
type JoinEvent struct {
	Channel string
	Nick    string
	Self    bool
}

// PartEvent reports a PART or KICK.
type PartEvent struct {
	Channel  string
	Nick     string
	Reason   string
	Self     bool
	KickedBy string // set for KICK
}

// QuitEvent reports a QUIT and the channels the user was removed from.
type QuitEvent struct {
	Nick     string
	Reason   string
	Channels []string
}

// NickEvent reports a confirmed nickname change.
type NickEvent struct {
	Old      string
	New      string
	Self     bool
	Channels []string
}

// StateEvent reports a connection phase change.
type StateEvent struct {
	Phase   Phase
	Server  string
	Err     error         // set when the transition was caused by a failure
	Attempt int           // reconnect attempt number, 0 for the first connect
	RetryIn time.Duration // delay before the next attempt, 0 if none is scheduled
}

// BusyEvent toggles the busy indicator while connecting and registering.
type BusyEvent struct {
	Busy bool
}

func (MessageEvent) isEvent() {}
func (NoticeEvent) isEvent()  {}
func (RosterEvent) isEvent()  {}
func (TopicEvent) isEvent()   {}
func (JoinEvent) isEvent()    {}
func (PartEvent) isEvent()    {}
func (QuitEvent) isEvent()    {}
func (NickEvent) isEvent()    {}
func (StateEvent) isEvent()   {}
func (BusyEvent) isEvent()    {}

// Notifier is the outward collaborator. Implementations must be safe for use
// from several sessions at once.
type Notifier interface {
	MessageReceived(h Handle, ev MessageEvent)
	SystemNotice(h Handle, ev NoticeEvent)
	RosterChanged(h Handle, ev RosterEvent)
	TopicChanged(h Handle, ev TopicEvent)
	BusyChanged(h Handle, ev BusyEvent)
	StateChanged(h Handle, ev StateEvent)
	ChannelJoined(h Handle, ev JoinEvent)
	ChannelParted(h Handle, ev PartEvent)
	UserQuit(h Handle, ev QuitEvent)
	NickChanged(h Handle, ev NickEvent)
}

// Deliver routes ev to the matching Notifier callback.
func Deliver(n Notifier, h Handle, ev Event) {
	switch e := ev.(type) {
	case MessageEvent:
		n.MessageReceived(h, e)
	case NoticeEvent:
		n.SystemNotice(h, e)
	case RosterEvent:
		n.RosterChanged(h, e)
	case TopicEvent:
		n.TopicChanged(h, e)
	case BusyEvent:
		n.BusyChanged(h, e)
	case StateEvent:
		n.StateChanged(h, e)
	case JoinEvent:
		n.ChannelJoined(h, e)
	case PartEvent:
		n.ChannelParted(h, e)
	case QuitEvent:
		n.UserQuit(h, e)
	case NickEvent:
		n.NickChanged(h, e)
	}
}

// NopNotifier ignores every notification. Embed it to implement a subset.
type NopNotifier struct{}

func (NopNotifier) MessageReceived(Handle, MessageEvent) {}
func (NopNotifier) SystemNotice(Handle, NoticeEvent)     {}
func (NopNotifier) RosterChanged(Handle, RosterEvent)    {}
func (NopNotifier) TopicChanged(Handle, TopicEvent)      {}
func (NopNotifier) BusyChanged(Handle, BusyEvent)        {}
func (NopNotifier) StateChanged(Handle, StateEvent)      {}
func (NopNotifier) ChannelJoined(Handle, JoinEvent)      {}
func (NopNotifier) ChannelParted(Handle, PartEvent)      {}
func (NopNotifier) UserQuit(Handle, QuitEvent)           {}
func (NopNotifier) NickChanged(Handle, NickEvent)        {}
