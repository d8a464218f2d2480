package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "test.db"), 4, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMessagesRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, text := range []string{"one", "two", "three"} {
		require.NoError(t, s.WriteMessage(Message{
			Network:     "libera",
			Target:      "#go",
			User:        "bob",
			Message:     text,
			MessageType: MessageTypePrivmsg,
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.WriteMessage(Message{Network: "libera", Target: "#other", User: "bob", Message: "elsewhere", MessageType: MessageTypePrivmsg}))
	s.Flush()

	msgs, err := s.GetMessages("libera", "#GO", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Message)
	assert.Equal(t, "three", msgs[1].Message)
	assert.True(t, msgs[1].Timestamp.Equal(base.Add(2*time.Minute)))

	msgs, err = s.GetMessages("oftc", "#go", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestWriteMessageFlushesWhenBufferFull(t *testing.T) {
	s := newTestStorage(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.WriteMessage(Message{Network: "libera", Target: "#go", User: "bob", Message: "spam", MessageType: MessageTypePrivmsg}))
	}

	// a full buffer was flushed inline; the remainder waits for Flush
	msgs, err := s.GetMessages("libera", "#go", 100)
	require.NoError(t, err)
	assert.NotEmpty(t, msgs)
	assert.Less(t, len(msgs), 10)

	s.Flush()
	msgs, err = s.GetMessages("libera", "#go", 100)
	require.NoError(t, err)
	assert.Len(t, msgs, 10)
}

func TestCloseFlushesAndRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStorage(path, 10, time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.WriteMessage(Message{Network: "libera", Target: "#go", User: "bob", Message: "last words", MessageType: MessageTypePrivmsg}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.WriteMessage(Message{Network: "libera", Target: "#go"}), ErrClosed)

	reopened, err := NewStorage(path, 10, time.Hour)
	require.NoError(t, err)
	defer reopened.Close()

	msgs, err := reopened.GetMessages("libera", "#go", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "last words", msgs[0].Message)
}

func TestChannels(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.SaveChannel("libera", "#go", "secret"))
	require.NoError(t, s.SaveChannel("libera", "#GO", ""))
	require.NoError(t, s.SaveChannel("libera", "#rust", ""))
	require.NoError(t, s.SaveChannel("oftc", "#go", ""))

	ch, err := s.GetChannelByName("libera", "#Go")
	require.NoError(t, err)
	assert.Equal(t, "#go", ch.Name)
	assert.Equal(t, "secret", ch.ChannelKey)
	assert.True(t, ch.AutoJoin)
	assert.NotNil(t, ch.UpdatedAt)

	require.NoError(t, s.UpdateChannelTopic("libera", "#go", "Go talk"))
	require.NoError(t, s.SetChannelAutoJoin("libera", "#rust", false))

	channels, err := s.GetChannels("libera")
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "Go talk", channels[0].Topic)

	auto, err := s.GetAutoJoinChannels("libera")
	require.NoError(t, err)
	require.Len(t, auto, 1)
	assert.Equal(t, "#go", auto[0].Name)

	require.NoError(t, s.DeleteChannel("libera", "#go"))
	_, err = s.GetChannelByName("libera", "#go")
	assert.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, Migrate(s.db))
}
