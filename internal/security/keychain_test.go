package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestKeychain(t *testing.T) {
	keyring.MockInit()
	k := NewKeychain()

	pw, err := k.GetPassword(PasswordKey("libera"))
	require.NoError(t, err)
	assert.Empty(t, pw)

	require.NoError(t, k.StorePassword(PasswordKey("libera"), "hunter2"))
	require.NoError(t, k.StorePassword(SASLKey("libera", "alice"), "s3cret"))

	pw, err = k.GetPassword(PasswordKey("libera"))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pw)

	pw, err = k.GetPassword(SASLKey("libera", "alice"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)

	// storing an empty password removes the entry
	require.NoError(t, k.StorePassword(PasswordKey("libera"), ""))
	pw, err = k.GetPassword(PasswordKey("libera"))
	require.NoError(t, err)
	assert.Empty(t, pw)

	require.NoError(t, k.DeletePassword(SASLKey("libera", "alice")))
	require.NoError(t, k.DeletePassword(SASLKey("libera", "alice")))
}

func TestKeyNames(t *testing.T) {
	assert.Equal(t, "libera/password", PasswordKey("libera"))
	assert.Equal(t, "libera/sasl/alice", SASLKey("libera", "alice"))
}
