package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt0x6f/cascade-core/internal/irc"
)

func TestParseSends(t *testing.T) {
	cases := []struct {
		line   string
		target string
		want   irc.Intent
	}{
		{"hello there", "#go", irc.Privmsg{Target: "#go", Text: "hello there"}},
		{"//not a command", "#go", irc.Privmsg{Target: "#go", Text: "/not a command"}},
		{"/join #go", "", irc.Join{Channel: "#go"}},
		{"/j #go key", "", irc.Join{Channel: "#go", Key: "key"}},
		{"/part", "#go", irc.Part{Channel: "#go"}},
		{"/part see you all", "#go", irc.Part{Channel: "#go", Reason: "see you all"}},
		{"/leave #rust bye", "#go", irc.Part{Channel: "#rust", Reason: "bye"}},
		{"/msg bob hi  there", "", irc.Privmsg{Target: "bob", Text: "hi  there"}},
		{"/notice bob psst", "", irc.Notice{Target: "bob", Text: "psst"}},
		{"/me waves hello", "#go", irc.Action{Target: "#go", Text: "waves hello"}},
		{"/ctcp bob version", "", irc.CTCP{Target: "bob", Command: "VERSION"}},
		{"/ctcp bob ping 123", "", irc.CTCP{Target: "bob", Command: "PING", Args: "123"}},
		{"/query bob are you there", "", irc.Privmsg{Target: "bob", Text: "are you there"}},
		{"/nick newme", "", irc.Nick{Nick: "newme"}},
		{"/topic", "#go", irc.Topic{Channel: "#go"}},
		{"/topic #rust Ferris", "#go", irc.Topic{Channel: "#rust", Topic: "Ferris", Set: true}},
		{"/topic Go talk", "#go", irc.Topic{Channel: "#go", Topic: "Go talk", Set: true}},
		{"/mode #go +o bob", "", irc.Mode{Target: "#go", Modes: "+o", Args: []string{"bob"}}},
		{"/mode me", "", irc.Mode{Target: "me"}},
		{"/kick bob flooding", "#go", irc.Kick{Channel: "#go", Nick: "bob", Reason: "flooding"}},
		{"/invite bob", "#go", irc.Invite{Nick: "bob", Channel: "#go"}},
		{"/invite bob #rust", "#go", irc.Invite{Nick: "bob", Channel: "#rust"}},
		{"/op bob", "#go", irc.Mode{Target: "#go", Modes: "+o", Args: []string{"bob"}}},
		{"/devoice #rust bob", "#go", irc.Mode{Target: "#rust", Modes: "-v", Args: []string{"bob"}}},
		{"/ban *!*@spam", "#go", irc.Mode{Target: "#go", Modes: "+b", Args: []string{"*!*@spam"}}},
		{"/whois bob", "", irc.Whois{Nick: "bob"}},
		{"/names", "#go", irc.Names{Channel: "#go"}},
		{"/away gone fishing", "", irc.Away{Message: "gone fishing"}},
		{"/away", "", irc.Away{}},
		{"/quote PRIVMSG #go :raw", "", irc.Raw{Line: "PRIVMSG #go :raw"}},
		{"/motd", "", irc.Raw{Line: "motd"}},
	}
	for _, tc := range cases {
		cmd, err := Parse(tc.line, tc.target)
		require.NoError(t, err, tc.line)
		assert.Equal(t, ActionSend, cmd.Action, tc.line)
		assert.Equal(t, tc.want, cmd.Intent, tc.line)
	}
}

func TestParseLocalActions(t *testing.T) {
	cmd, err := Parse("/query bob", "#go")
	require.NoError(t, err)
	assert.Equal(t, Command{Action: ActionSwitch, Arg: "bob"}, cmd)

	cmd, err = Parse("/w #rust", "")
	require.NoError(t, err)
	assert.Equal(t, Command{Action: ActionSwitch, Arg: "#rust"}, cmd)

	cmd, err = Parse("/network oftc", "")
	require.NoError(t, err)
	assert.Equal(t, Command{Action: ActionNetwork, Arg: "oftc"}, cmd)

	cmd, err = Parse("/quit gone for the night", "")
	require.NoError(t, err)
	assert.Equal(t, Command{Action: ActionQuit, Arg: "gone for the night"}, cmd)

	cmd, err = Parse("/exit", "")
	require.NoError(t, err)
	assert.Equal(t, ActionExit, cmd.Action)

	cmd, err = Parse("/help", "")
	require.NoError(t, err)
	assert.Equal(t, ActionHelp, cmd.Action)

	cmd, err = Parse("/forget", "#go")
	require.NoError(t, err)
	assert.Equal(t, Command{Action: ActionForget, Arg: "#go"}, cmd)

	cmd, err = Parse("/forget #rust", "bob")
	require.NoError(t, err)
	assert.Equal(t, Command{Action: ActionForget, Arg: "#rust"}, cmd)

	cmd, err = Parse("   ", "#go")
	require.NoError(t, err)
	assert.Equal(t, ActionNone, cmd.Action)
}

func TestParseHistory(t *testing.T) {
	cmd, err := Parse("/history", "#go")
	require.NoError(t, err)
	assert.Equal(t, Command{Action: ActionHistory, Arg: "#go", N: 50}, cmd)

	cmd, err = Parse("/history bob 10", "#go")
	require.NoError(t, err)
	assert.Equal(t, Command{Action: ActionHistory, Arg: "bob", N: 10}, cmd)

	_, err = Parse("/history", "")
	assert.Error(t, err)

	_, err = Parse("/history #go 0", "")
	assert.Error(t, err)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("hello", "")
	assert.ErrorIs(t, err, ErrNoTarget)

	for _, line := range []string{"/join", "/msg bob", "/part", "/me", "/kick", "/topic", "/nick", "/op bob", "/forget", "/"} {
		_, err := Parse(line, "")
		assert.Error(t, err, line)
	}
}

func TestRestOf(t *testing.T) {
	assert.Equal(t, "b  c", restOf("/cmd a b  c", 2))
	assert.Equal(t, "a b  c", restOf("/cmd  a b  c", 1))
	assert.Equal(t, "", restOf("/cmd a", 2))
}
