package irc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	s := registeredSession()

	cases := []struct {
		intent Intent
		want   string
	}{
		{Join{Channel: "#go"}, "JOIN #go"},
		{Join{Channel: "#go", Key: "secret"}, "JOIN #go secret"},
		{Part{Channel: "#go"}, "PART #go"},
		{Part{Channel: "#go", Reason: "bye now"}, "PART #go :bye now"},
		{Privmsg{Target: "#go", Text: "hello"}, "PRIVMSG #go :hello"},
		{Privmsg{Target: "bob", Text: ":-)"}, "PRIVMSG bob ::-)"},
		{Notice{Target: "bob", Text: "psst"}, "NOTICE bob :psst"},
		{Action{Target: "#go", Text: "waves"}, "PRIVMSG #go :\x01ACTION waves\x01"},
		{CTCP{Target: "bob", Command: "version"}, "PRIVMSG bob :\x01VERSION\x01"},
		{Nick{Nick: "newme"}, "NICK newme"},
		{Quit{}, "QUIT"},
		{Quit{Reason: "see you"}, "QUIT :see you"},
		{Topic{Channel: "#go"}, "TOPIC #go"},
		{Topic{Channel: "#go", Set: true}, "TOPIC #go :"},
		{Topic{Channel: "#go", Topic: "Generics", Set: true}, "TOPIC #go :Generics"},
		{Mode{Target: "#go"}, "MODE #go"},
		{Mode{Target: "#go", Modes: "+ov", Args: []string{"bob", "carol"}}, "MODE #go +ov bob carol"},
		{Kick{Channel: "#go", Nick: "bob"}, "KICK #go bob"},
		{Kick{Channel: "#go", Nick: "bob", Reason: "spam"}, "KICK #go bob :spam"},
		{Invite{Nick: "bob", Channel: "#go"}, "INVITE bob #go"},
		{Whois{Nick: "bob"}, "WHOIS bob"},
		{Names{Channel: "#go"}, "NAMES #go"},
		{Away{}, "AWAY"},
		{Away{Message: "lunch"}, "AWAY :lunch"},
		{Raw{Line: "PRIVMSG #go :raw text"}, "PRIVMSG #go :raw text"},
		{Raw{Line: "motd"}, "MOTD"},
		{User{User: "u", RealName: "Real Name"}, "USER u 0 * :Real Name"},
		{User{User: "u"}, "USER u 0 * :u"},
		{Pass{Password: "hunter2"}, "PASS hunter2"},
		{Cap{Sub: "LS", Args: []string{"302"}}, "CAP LS 302"},
		{Cap{Sub: "END"}, "CAP END"},
		{Authenticate{Payload: "+"}, "AUTHENTICATE +"},
	}
	for _, tc := range cases {
		out, err := Encode(tc.intent, s)
		require.NoError(t, err, "%#v", tc.intent)
		assert.Equal(t, tc.want+"\r\n", string(out), "%#v", tc.intent)
	}
}

func TestEncodeRejections(t *testing.T) {
	s := registeredSession()

	cases := []struct {
		intent Intent
		err    error
	}{
		{Privmsg{Target: "#go", Text: "one\r\nQUIT"}, ErrBadCharacter},
		{Privmsg{Target: "#go", Text: "nul\x00"}, ErrBadCharacter},
		{Privmsg{Target: "#go"}, ErrEmptyText},
		{Privmsg{Text: "hi"}, ErrEmptyTarget},
		{Privmsg{Target: "two words", Text: "hi"}, ErrBadParameter},
		{Join{Channel: "go"}, ErrInvalidChan},
		{Join{Channel: "#a,#b"}, ErrInvalidChan},
		{Join{}, ErrEmptyTarget},
		{Join{Channel: "#go", Key: "a b"}, ErrBadParameter},
		{Nick{Nick: ":bad"}, ErrBadParameter},
		{Mode{Target: "#go", Modes: "+o", Args: []string{""}}, ErrEmptyTarget},
		{Raw{Line: ":me!u@h PRIVMSG #go :spoof"}, ErrBadParameter},
		{Raw{Line: "QUIT\r\nJOIN #x"}, ErrBadCharacter},
		{Action{Target: "#go"}, ErrEmptyText},
	}
	for _, tc := range cases {
		out, err := Encode(tc.intent, s)
		assert.Nil(t, out, "%#v", tc.intent)
		assert.ErrorIs(t, err, tc.err, "%#v", tc.intent)

		var ierr *InvalidIntentError
		assert.ErrorAs(t, err, &ierr, "%#v", tc.intent)
	}
}

func TestEncodeLineTooLong(t *testing.T) {
	s := registeredSession()

	_, err := Encode(Privmsg{Target: "#go", Text: strings.Repeat("x", 600)}, s)
	assert.ErrorIs(t, err, ErrLineTooLong)

	// PRIVMSG #go : is 13 bytes; 497 more fill the line to 510 plus CRLF
	out, err := Encode(Privmsg{Target: "#go", Text: strings.Repeat("x", 497)}, s)
	require.NoError(t, err)
	assert.Len(t, out, 512)

	_, err = Encode(Privmsg{Target: "#go", Text: strings.Repeat("x", 498)}, s)
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestEncodeRespectsPhase(t *testing.T) {
	s := NewSession("libera", Identity{Nick: "me"})

	_, err := Encode(Nick{Nick: "me"}, s)
	assert.ErrorIs(t, err, ErrNotConnected)

	s.Phase = PhaseRegistering
	for _, in := range []Intent{Join{Channel: "#go"}, Privmsg{Target: "bob", Text: "hi"}, Raw{Line: "MOTD"}} {
		_, err = Encode(in, s)
		assert.ErrorIs(t, err, ErrNotRegistered, "%#v", in)
	}
	for _, in := range []Intent{Nick{Nick: "me"}, Quit{}, Pong{Params: []string{"x"}}, Cap{Sub: "END"}, User{User: "me"}, Pass{Password: "p"}, Authenticate{Payload: "+"}} {
		_, err = Encode(in, s)
		assert.NoError(t, err, "%#v", in)
	}
}

func TestEncodeUsesSessionChanTypes(t *testing.T) {
	s := registeredSession()
	s.Features.ChanTypes = "!"

	_, err := Encode(Join{Channel: "#go"}, s)
	assert.ErrorIs(t, err, ErrInvalidChan)

	out, err := Encode(Join{Channel: "!go"}, s)
	require.NoError(t, err)
	assert.Equal(t, "JOIN !go\r\n", string(out))
}

func TestInvalidIntentErrorMessage(t *testing.T) {
	_, err := Encode(Join{Channel: "go"}, registeredSession())
	assert.EqualError(t, err, "invalid JOIN: not a channel name")
}
