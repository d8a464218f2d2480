package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateNickname(t *testing.T) {
	for _, nick := range []string{"alice", "Bob_", "[away]", "a-b", "{x}|^", "nick`"} {
		assert.NoError(t, ValidateNickname(nick), nick)
	}
	for _, nick := range []string{"", "two words", "a,b", "#chan", "9lives", "-dash", "who?", "a@b", "a:b", "x\r\n"} {
		assert.Error(t, ValidateNickname(nick), nick)
	}
}

func TestValidateChannelName(t *testing.T) {
	for _, ch := range []string{"#go", "&local", "+modeless", "!ABCDEchan"} {
		assert.NoError(t, ValidateChannelName(ch), ch)
	}
	for _, ch := range []string{"", "go", "#a b", "#a,b", "#bell\x07"} {
		assert.Error(t, ValidateChannelName(ch), ch)
	}
}

func TestValidateServerAddress(t *testing.T) {
	assert.NoError(t, ValidateServerAddress("irc.libera.chat", 6697))
	assert.NoError(t, ValidateServerAddress("::1", 6667))
	assert.Error(t, ValidateServerAddress("", 6667))
	assert.Error(t, ValidateServerAddress("irc.example.net/path", 6667))
	assert.Error(t, ValidateServerAddress("irc.example.net", 0))
	assert.Error(t, ValidateServerAddress("irc.example.net", 70000))
}

func TestValidateNetworkConfig(t *testing.T) {
	servers := []Server{{Address: "irc.libera.chat", Port: 6697}}

	assert.NoError(t, ValidateNetworkConfig("libera", "alice", "alice", "Alice", servers))
	assert.Error(t, ValidateNetworkConfig(" ", "alice", "alice", "Alice", servers))
	assert.Error(t, ValidateNetworkConfig("libera", "9alice", "alice", "Alice", servers))
	assert.Error(t, ValidateNetworkConfig("libera", "alice", "al ice", "Alice", servers))
	assert.Error(t, ValidateNetworkConfig("libera", "alice", "alice", "", servers))
	assert.Error(t, ValidateNetworkConfig("libera", "alice", "alice", "Alice", nil))

	err := ValidateNetworkConfig("libera", "alice", "alice", "Alice", []Server{{Address: "ok.net", Port: 1}, {Address: "bad", Port: -1}})
	assert.ErrorContains(t, err, "server 2")
}

func TestValidateSASLMechanism(t *testing.T) {
	for _, m := range []string{"", "plain", "EXTERNAL", "scram-sha-256", "SCRAM-SHA-512"} {
		assert.NoError(t, ValidateSASLMechanism(m), m)
	}
	assert.Error(t, ValidateSASLMechanism("GSSAPI"))
}
