package irc

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const scramGS2Header = "n,," // no channel binding, no authorization identity

var (
	errSCRAMNonce     = errors.New("invalid server nonce")
	errSCRAMSignature = errors.New("server signature mismatch")
)

// scramMechanism implements SCRAM-SHA-256 and SCRAM-SHA-512 (RFC 5802, RFC 7677).
type scramMechanism struct {
	mechanism   string
	hash        func() hash.Hash
	username    string
	password    string
	clientNonce string
	step        int
	authMessage string
	serverKey   []byte
}

func newSCRAM(mechanism, username, password, nonce string) (*scramMechanism, error) {
	var h func() hash.Hash
	switch mechanism {
	case "SCRAM-SHA-256":
		h = sha256.New
	case "SCRAM-SHA-512":
		h = sha512.New
	default:
		return nil, fmt.Errorf("unsupported SCRAM mechanism %q", mechanism)
	}
	if nonce == "" {
		var err error
		if nonce, err = generateClientNonce(); err != nil {
			return nil, err
		}
	}
	return &scramMechanism{
		mechanism:   mechanism,
		hash:        h,
		username:    scramEscape(username),
		password:    password,
		clientNonce: nonce,
	}, nil
}

func (m *scramMechanism) Name() string { return m.mechanism }

func (m *scramMechanism) clientFirstBare() string {
	return fmt.Sprintf("n=%s,r=%s", m.username, m.clientNonce)
}

func (m *scramMechanism) Next(challenge []byte) ([]byte, error) {
	m.step++
	switch m.step {
	case 1:
		return []byte(scramGS2Header + m.clientFirstBare()), nil
	case 2:
		return m.clientFinal(string(challenge))
	case 3:
		return nil, m.verifyServerFinal(string(challenge))
	}
	return nil, fmt.Errorf("unexpected %s challenge", m.mechanism)
}

func (m *scramMechanism) clientFinal(serverFirst string) ([]byte, error) {
	params := parseSCRAMParams(serverFirst)

	serverNonce, ok := params["r"]
	if !ok || !strings.HasPrefix(serverNonce, m.clientNonce) {
		return nil, errSCRAMNonce
	}
	salt, err := base64.StdEncoding.DecodeString(params["s"])
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("invalid salt")
	}
	iterations, err := strconv.Atoi(params["i"])
	if err != nil || iterations <= 0 {
		return nil, fmt.Errorf("invalid iteration count")
	}

	saltedPassword := pbkdf2.Key([]byte(m.password), salt, iterations, m.hash().Size(), m.hash)
	clientKey := computeHMAC(saltedPassword, "Client Key", m.hash)
	storedKey := computeHash(clientKey, m.hash)
	m.serverKey = computeHMAC(saltedPassword, "Server Key", m.hash)

	withoutProof := fmt.Sprintf("c=%s,r=%s", base64.StdEncoding.EncodeToString([]byte(scramGS2Header)), serverNonce)
	m.authMessage = m.clientFirstBare() + "," + serverFirst + "," + withoutProof

	clientSignature := computeHMAC(storedKey, m.authMessage, m.hash)
	proof := xorBytes(clientKey, clientSignature)
	return []byte(withoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof)), nil
}

func (m *scramMechanism) verifyServerFinal(serverFinal string) error {
	params := parseSCRAMParams(serverFinal)
	if e, ok := params["e"]; ok {
		return fmt.Errorf("server rejected authentication: %s", e)
	}
	signature, err := base64.StdEncoding.DecodeString(params["v"])
	if err != nil {
		return errSCRAMSignature
	}
	expected := computeHMAC(m.serverKey, m.authMessage, m.hash)
	if !hmac.Equal(signature, expected) {
		return errSCRAMSignature
	}
	return nil
}

func generateClientNonce() (string, error) {
	raw := make([]byte, 18)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(raw), nil
}

func scramEscape(name string) string {
	name = strings.ReplaceAll(name, "=", "=3D")
	return strings.ReplaceAll(name, ",", "=2C")
}

func parseSCRAMParams(message string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(message, ",") {
		if len(part) >= 2 && part[1] == '=' {
			params[part[0:1]] = part[2:]
		}
	}
	return params
}

func computeHMAC(key []byte, data string, h func() hash.Hash) []byte {
	mac := hmac.New(h, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func computeHash(data []byte, h func() hash.Hash) []byte {
	hasher := h()
	hasher.Write(data)
	return hasher.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	result := make([]byte, len(a))
	for i := range a {
		result[i] = a[i] ^ b[i]
	}
	return result
}
