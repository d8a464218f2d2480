package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt0x6f/cascade-core/internal/events"
	"github.com/matt0x6f/cascade-core/internal/irc"
)

func TestRecorderPersistsBusEvents(t *testing.T) {
	s := newTestStorage(t)
	bus := events.NewEventBus()
	detach := NewRecorder(s, nil).Attach(bus)
	h := irc.Handle{Network: "libera"}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	bus.ChannelJoined(h, irc.JoinEvent{Channel: "#go", Nick: "me", Self: true})
	bus.ChannelJoined(h, irc.JoinEvent{Channel: "#go", Nick: "bob"})
	bus.TopicChanged(h, irc.TopicEvent{Channel: "#go", Topic: "Go talk"})
	bus.MessageReceived(h, irc.MessageEvent{From: irc.Prefix{Nick: "bob"}, Target: "#go", Text: "hi", Time: now})
	bus.MessageReceived(h, irc.MessageEvent{From: irc.Prefix{Nick: "bob"}, Target: "#go", Text: "waves", Action: true, Time: now.Add(time.Second)})
	bus.MessageReceived(h, irc.MessageEvent{From: irc.Prefix{Nick: "bob"}, Target: "me", Text: "psst", Private: true, Time: now})
	bus.MessageReceived(h, irc.MessageEvent{From: irc.Prefix{Nick: "me"}, Target: "bob", Text: "yes?", Private: true, Outgoing: true, Time: now.Add(time.Second)})
	s.Flush()

	ch, err := s.GetChannelByName("libera", "#go")
	require.NoError(t, err)
	assert.Equal(t, "Go talk", ch.Topic)

	channels, err := s.GetChannels("libera")
	require.NoError(t, err)
	assert.Len(t, channels, 1)

	msgs, err := s.GetMessages("libera", "#go", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, MessageTypePrivmsg, msgs[0].MessageType)
	assert.Equal(t, MessageTypeAction, msgs[1].MessageType)

	// both sides of a private conversation are filed under the other party
	msgs, err = s.GetMessages("libera", "bob", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "psst", msgs[0].Message)
	assert.False(t, msgs[0].Outgoing)
	assert.Equal(t, "yes?", msgs[1].Message)
	assert.True(t, msgs[1].Outgoing)

	detach()
	bus.MessageReceived(h, irc.MessageEvent{From: irc.Prefix{Nick: "bob"}, Target: "#go", Text: "ignored", Time: now})
	s.Flush()
	msgs, err = s.GetMessages("libera", "#go", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func autoJoinNames(t *testing.T, s *Storage, network string) []string {
	t.Helper()
	channels, err := s.GetAutoJoinChannels(network)
	require.NoError(t, err)
	names := []string{}
	for _, ch := range channels {
		names = append(names, ch.Name)
	}
	return names
}

func TestRecorderSavesConfirmedJoinWithKey(t *testing.T) {
	s := newTestStorage(t)
	bus := events.NewEventBus()
	keys := func(network, channel string) string {
		if network == "libera" && channel == "#secret" {
			return "hunter2"
		}
		return ""
	}
	NewRecorder(s, keys).Attach(bus)
	h := irc.Handle{Network: "libera"}

	bus.ChannelJoined(h, irc.JoinEvent{Channel: "#secret", Nick: "me", Self: true})
	bus.ChannelJoined(h, irc.JoinEvent{Channel: "#other", Nick: "bob"})

	assert.Equal(t, []string{"#secret"}, autoJoinNames(t, s, "libera"))
	ch, err := s.GetChannelByName("libera", "#secret")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", ch.ChannelKey)
}

func TestRecorderSelfPartClearsAutoJoin(t *testing.T) {
	s := newTestStorage(t)
	bus := events.NewEventBus()
	NewRecorder(s, nil).Attach(bus)
	h := irc.Handle{Network: "libera"}

	bus.ChannelJoined(h, irc.JoinEvent{Channel: "#go", Nick: "me", Self: true})
	bus.ChannelJoined(h, irc.JoinEvent{Channel: "#rust", Nick: "me", Self: true})
	bus.ChannelParted(h, irc.PartEvent{Channel: "#rust", Nick: "bob"})
	assert.Equal(t, []string{"#go", "#rust"}, autoJoinNames(t, s, "libera"))

	bus.ChannelParted(h, irc.PartEvent{Channel: "#rust", Nick: "me", Self: true})
	assert.Equal(t, []string{"#go"}, autoJoinNames(t, s, "libera"))

	// joining again puts it back
	bus.ChannelJoined(h, irc.JoinEvent{Channel: "#rust", Nick: "me", Self: true})
	assert.Equal(t, []string{"#go", "#rust"}, autoJoinNames(t, s, "libera"))
}

func TestRecorderKickKeepsAutoJoin(t *testing.T) {
	s := newTestStorage(t)
	bus := events.NewEventBus()
	NewRecorder(s, nil).Attach(bus)
	h := irc.Handle{Network: "libera"}

	bus.ChannelJoined(h, irc.JoinEvent{Channel: "#go", Nick: "me", Self: true})
	bus.ChannelParted(h, irc.PartEvent{Channel: "#go", Nick: "me", Self: true, KickedBy: "op", Reason: "behave"})

	assert.Equal(t, []string{"#go"}, autoJoinNames(t, s, "libera"))
}

func TestRecorderIgnoresUnconfirmedJoins(t *testing.T) {
	s := newTestStorage(t)
	bus := events.NewEventBus()
	NewRecorder(s, nil).Attach(bus)
	h := irc.Handle{Network: "libera"}

	// a failed join only produces a notice
	bus.SystemNotice(h, irc.NoticeEvent{Code: 474, Text: "#banned :Cannot join channel (+b)"})
	channels, err := s.GetChannels("libera")
	require.NoError(t, err)
	assert.Empty(t, channels)
}
