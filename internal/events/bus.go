package events

import (
	"sync"
	"time"

	"github.com/matt0x6f/cascade-core/internal/irc"
)

// EventSource represents the source of an event
type EventSource string

const (
	EventSourceIRC    EventSource = "irc"
	EventSourceUser   EventSource = "user"
	EventSourceSystem EventSource = "system"
)

// IRC event types
const (
	EventMessageReceived = "message.received"
	EventSystemNotice    = "system.notice"
	EventRosterChanged   = "roster.changed"
	EventTopicChanged    = "topic.changed"
	EventBusyChanged     = "busy.changed"
	EventStateChanged    = "state.changed"
	EventChannelJoined   = "channel.joined"
	EventChannelParted   = "channel.parted"
	EventUserQuit        = "user.quit"
	EventNickChanged     = "nick.changed"
)

// Wildcard subscribes to every event type.
const Wildcard = "*"

// Event represents a generic event. Payload holds the irc event value.
type Event struct {
	Type      string
	Handle    irc.Handle
	Payload   irc.Event
	Timestamp time.Time
	Source    EventSource
}

// Subscriber is an interface for event subscribers
type Subscriber interface {
	OnEvent(event Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(Event)

func (f SubscriberFunc) OnEvent(event Event) { f(event) }

type subscription struct {
	id  uint64
	sub Subscriber
}

// EventBus manages event routing
type EventBus struct {
	subscribers map[string][]subscription
	nextID      uint64
	mu          sync.RWMutex
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]subscription),
	}
}

// Subscribe subscribes a subscriber to a specific event type and returns a
// function that removes it.
func (eb *EventBus) Subscribe(eventType string, subscriber Subscriber) (unsubscribe func()) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscription{id: id, sub: subscriber})
	return func() { eb.remove(eventType, id) }
}

func (eb *EventBus) remove(eventType string, id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[eventType]
	for i, s := range subs {
		if s.id == id {
			eb.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (eb *EventBus) snapshot(eventType string) []Subscriber {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	subs := make([]Subscriber, 0, len(eb.subscribers[eventType])+len(eb.subscribers[Wildcard]))
	for _, s := range eb.subscribers[eventType] {
		subs = append(subs, s.sub)
	}
	for _, s := range eb.subscribers[Wildcard] {
		subs = append(subs, s.sub)
	}
	return subs
}

// Emit emits an event to all subscribers, each on its own goroutine
func (eb *EventBus) Emit(event Event) {
	for _, sub := range eb.snapshot(event.Type) {
		go sub.OnEvent(event)
	}
}

// EmitSync emits an event synchronously. Notifications from a client use it so
// subscribers see them in protocol order.
func (eb *EventBus) EmitSync(event Event) {
	for _, sub := range eb.snapshot(event.Type) {
		sub.OnEvent(event)
	}
}

func (eb *EventBus) publish(eventType string, h irc.Handle, ev irc.Event) {
	eb.EmitSync(Event{
		Type:      eventType,
		Handle:    h,
		Payload:   ev,
		Timestamp: time.Now(),
		Source:    EventSourceIRC,
	})
}

// The methods below make *EventBus an irc.Notifier shared by every client.

func (eb *EventBus) MessageReceived(h irc.Handle, ev irc.MessageEvent) {
	eb.publish(EventMessageReceived, h, ev)
}

func (eb *EventBus) SystemNotice(h irc.Handle, ev irc.NoticeEvent) {
	eb.publish(EventSystemNotice, h, ev)
}

func (eb *EventBus) RosterChanged(h irc.Handle, ev irc.RosterEvent) {
	eb.publish(EventRosterChanged, h, ev)
}

func (eb *EventBus) TopicChanged(h irc.Handle, ev irc.TopicEvent) {
	eb.publish(EventTopicChanged, h, ev)
}

func (eb *EventBus) BusyChanged(h irc.Handle, ev irc.BusyEvent) {
	eb.publish(EventBusyChanged, h, ev)
}

func (eb *EventBus) StateChanged(h irc.Handle, ev irc.StateEvent) {
	eb.publish(EventStateChanged, h, ev)
}

func (eb *EventBus) ChannelJoined(h irc.Handle, ev irc.JoinEvent) {
	eb.publish(EventChannelJoined, h, ev)
}

func (eb *EventBus) ChannelParted(h irc.Handle, ev irc.PartEvent) {
	eb.publish(EventChannelParted, h, ev)
}

func (eb *EventBus) UserQuit(h irc.Handle, ev irc.QuitEvent) {
	eb.publish(EventUserQuit, h, ev)
}

func (eb *EventBus) NickChanged(h irc.Handle, ev irc.NickEvent) {
	eb.publish(EventNickChanged, h, ev)
}

var _ irc.Notifier = (*EventBus)(nil)
