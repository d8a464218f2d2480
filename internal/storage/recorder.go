package storage

import (
	"github.com/matt0x6f/cascade-core/internal/events"
	"github.com/matt0x6f/cascade-core/internal/irc"
	"github.com/matt0x6f/cascade-core/internal/logger"
)

// KeyLookup returns the key a channel was joined with, or "".
type KeyLookup func(network, channel string) string

// Recorder persists chat history and joined channels from bus events. It is
// the only writer of the saved channel list and only acts on events the
// server confirmed.
type Recorder struct {
	store *Storage
	keys  KeyLookup
}

// NewRecorder creates a recorder writing to store. keys may be nil.
func NewRecorder(store *Storage, keys KeyLookup) *Recorder {
	return &Recorder{store: store, keys: keys}
}

// Attach subscribes the recorder to bus and returns a function that detaches it.
func (r *Recorder) Attach(bus *events.EventBus) func() {
	unsubs := []func(){
		bus.Subscribe(events.EventMessageReceived, r),
		bus.Subscribe(events.EventTopicChanged, r),
		bus.Subscribe(events.EventChannelJoined, r),
		bus.Subscribe(events.EventChannelParted, r),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// OnEvent implements events.Subscriber.
func (r *Recorder) OnEvent(event events.Event) {
	network := event.Handle.Network
	var err error

	switch ev := event.Payload.(type) {
	case irc.MessageEvent:
		err = r.store.WriteMessage(historyMessage(network, ev))
	case irc.TopicEvent:
		err = r.store.UpdateChannelTopic(network, ev.Channel, ev.Topic)
	case irc.JoinEvent:
		if ev.Self {
			err = r.saveJoined(network, ev.Channel)
		}
	case irc.PartEvent:
		// kicks keep the channel on the auto-join list
		if ev.Self && ev.KickedBy == "" {
			err = r.store.SetChannelAutoJoin(network, ev.Channel, false)
		}
	}

	if err != nil {
		logger.Log.Warn().Err(err).Str("network", network).Str("event", event.Type).Msg("Failed to record event")
	}
}

func (r *Recorder) saveJoined(network, channel string) error {
	key := ""
	if r.keys != nil {
		key = r.keys(network, channel)
	}
	if err := r.store.SaveChannel(network, channel, key); err != nil {
		return err
	}
	return r.store.SetChannelAutoJoin(network, channel, true)
}

func historyMessage(network string, ev irc.MessageEvent) Message {
	msg := Message{
		Network:     network,
		Target:      ev.Target,
		User:        ev.From.Nick,
		Message:     ev.Text,
		MessageType: MessageTypePrivmsg,
		Outgoing:    ev.Outgoing,
		Timestamp:   ev.Time,
	}
	// Incoming private messages are filed under the sender.
	if ev.Private && !ev.Outgoing {
		msg.Target = ev.From.Nick
	}
	switch {
	case ev.Action:
		msg.MessageType = MessageTypeAction
	case ev.Notice:
		msg.MessageType = MessageTypeNotice
	}
	return msg
}
