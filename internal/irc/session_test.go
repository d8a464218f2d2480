package irc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionClone(t *testing.T) {
	s := NewSession("libera", Identity{Nick: "me"})
	s.Nick = "me"
	ch := s.joinChannel("#go")
	s.addMember(ch, "bob", "v")
	s.CapsEnabled["sasl"] = true

	c := s.Clone()
	cc, ok := c.Channel("#GO")
	require.True(t, ok)
	c.addMember(cc, "carol", "")
	c.partChannel("#nope")
	delete(c.CapsEnabled, "sasl")

	assert.Len(t, ch.Members, 2)
	assert.Len(t, cc.Members, 3)
	assert.True(t, s.CapsEnabled["sasl"])
	assert.Equal(t, s.Handle, c.Handle)
}

func TestSessionIsSelf(t *testing.T) {
	s := NewSession("libera", Identity{Nick: "Me"})
	assert.True(t, s.IsSelf("me"))

	s.Registration.PendingNick = "Me_"
	assert.True(t, s.IsSelf("ME_"))
	assert.False(t, s.IsSelf("me"))

	s.Nick = "final"
	assert.True(t, s.IsSelf("FINAL"))
	assert.False(t, s.IsSelf(""))
}

func TestSessionRoster(t *testing.T) {
	s := NewSession("libera", Identity{Nick: "me"})
	s.Nick = "me"
	ch := s.joinChannel("#go")
	s.addMember(ch, "zed", "o")
	s.addMember(ch, "Amy", "")
	s.addMember(ch, "bob", "vo")

	roster := s.Roster("#go")
	require.Len(t, roster, 4)
	assert.Equal(t, []Member{
		{Nick: "bob", Modes: "ov"},
		{Nick: "zed", Modes: "o"},
		{Nick: "Amy"},
		{Nick: "me"},
	}, roster)

	assert.Equal(t, "@", s.MemberPrefix(roster[0]))
	assert.Equal(t, "", s.MemberPrefix(roster[2]))
	assert.Nil(t, s.Roster("#elsewhere"))
}

func TestSessionSplitPrefixes(t *testing.T) {
	s := NewSession("libera", Identity{Nick: "me"})

	nick, modes := s.splitPrefixes("@+bob")
	assert.Equal(t, "bob", nick)
	assert.Equal(t, "ov", modes)

	nick, modes = s.splitPrefixes("+carol!c@example.org")
	assert.Equal(t, "carol", nick)
	assert.Equal(t, "v", modes)
}

func TestSessionReset(t *testing.T) {
	s := NewSession("libera", Identity{Nick: "me"})
	s.Phase = PhaseRegistered
	s.Nick = "me"
	s.joinChannel("#go")
	s.Features.Network = "Libera"

	s.Reset()
	assert.Equal(t, PhaseDisconnected, s.Phase)
	assert.Empty(t, s.Nick)
	assert.Empty(t, s.Channels)
	assert.Equal(t, DefaultFeatures(), s.Features)
	assert.Equal(t, "me", s.Target.Nick)
}
