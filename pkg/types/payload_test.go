package types

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxen-io/session-push-notification-server/pkg/bencode"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptDevicePayload_RoundTrip(t *testing.T) {
	key := randomKey(t)
	env := &PushEnvelope{
		AccountID: []byte{0x03, 1, 2, 3},
		MsgHash:   []byte{0xAA, 0xBB},
		Namespace: 5,
		Timestamp: 1700000000,
		Expiry:    1701296000,
		Body:      []byte("hello from a service node"),
		HasBody:   true,
	}

	encoded, err := EncryptDevicePayload(env, key)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	plain, err := DecryptDevicePayload(encoded, key)
	require.NoError(t, err)

	decoded, err := bencode.Unmarshal(plain)
	require.NoError(t, err)
	items, ok := decoded.([]any)
	require.True(t, ok)
	require.Len(t, items, 2, "metadata block plus inlined body")
	assert.Contains(t, string(items[0].([]byte)), `"#":"aabb"`)
	assert.Equal(t, []byte("hello from a service node"), items[1])
}

func TestEncryptDevicePayload_OversizeBodyIsOmittedAndFlagged(t *testing.T) {
	key := randomKey(t)
	env := &PushEnvelope{
		AccountID: []byte{0x03, 1, 2, 3},
		MsgHash:   []byte{0xAA},
		Namespace: 0,
		Timestamp: 1700000000,
		Expiry:    1701296000,
		Body:      bytes.Repeat([]byte("x"), MaxMsgSize+1),
		HasBody:   true,
	}

	encoded, err := EncryptDevicePayload(env, key)
	require.NoError(t, err)

	plain, err := DecryptDevicePayload(encoded, key)
	require.NoError(t, err)

	decoded, err := bencode.Unmarshal(plain)
	require.NoError(t, err)
	items, ok := decoded.([]any)
	require.True(t, ok)
	require.Len(t, items, 1, "oversize body must not be inlined")
	assert.Contains(t, string(items[0].([]byte)), `"B":true`)
}

func TestEncryptDevicePayload_NoBodyWhenNotRequested(t *testing.T) {
	key := randomKey(t)
	env := &PushEnvelope{
		AccountID: []byte{0x03, 1, 2, 3},
		MsgHash:   []byte{0xAA},
		Namespace: 0,
		Timestamp: 1700000000,
		Expiry:    1701296000,
		HasBody:   false,
	}

	encoded, err := EncryptDevicePayload(env, key)
	require.NoError(t, err)

	plain, err := DecryptDevicePayload(encoded, key)
	require.NoError(t, err)

	decoded, err := bencode.Unmarshal(plain)
	require.NoError(t, err)
	items, ok := decoded.([]any)
	require.True(t, ok)
	assert.Len(t, items, 1)
}

func TestDecryptDevicePayload_WrongKeyFails(t *testing.T) {
	key := randomKey(t)
	other := randomKey(t)
	env := &PushEnvelope{
		AccountID: []byte{0x03, 1, 2, 3},
		MsgHash:   []byte{0xAA},
		Namespace: 0,
		Timestamp: 1700000000,
		Expiry:    1701296000,
	}

	encoded, err := EncryptDevicePayload(env, key)
	require.NoError(t, err)

	_, err = DecryptDevicePayload(encoded, other)
	assert.Error(t, err)
}

func TestEncryptDevicePayload_RejectsWrongKeySize(t *testing.T) {
	env := &PushEnvelope{AccountID: []byte{0x03}}
	_, err := EncryptDevicePayload(env, make([]byte, 10))
	assert.Error(t, err)
}

func TestPushEnvelope_Marshal(t *testing.T) {
	env := &PushEnvelope{
		Service:   "apns",
		SvcID:     []byte("device-token"),
		EncKey:    bytes.Repeat([]byte{0x01}, 32),
		MsgHash:   []byte{0xAA, 0xBB},
		AccountID: []byte{0x03, 1, 2, 3},
		Namespace: -32,
		Timestamp: 1700000000,
		Expiry:    1701296000,
		Body:      []byte("payload"),
		HasBody:   true,
	}

	encoded, err := env.Marshal()
	require.NoError(t, err)

	decoded, err := bencode.Unmarshal(encoded)
	require.NoError(t, err)
	m, ok := decoded.(map[string]any)
	require.True(t, ok)

	assert.Equal(t, []byte("apns"), m[""])
	assert.Equal(t, []byte("device-token"), m["&"])
	assert.Equal(t, []byte("payload"), m["~"])
	assert.Equal(t, int64(-32), m["n"])

	t.Run("omits svc_data and body when absent", func(t *testing.T) {
		env2 := &PushEnvelope{Service: "apns", EncKey: make([]byte, 32)}
		encoded2, err := env2.Marshal()
		require.NoError(t, err)
		decoded2, err := bencode.Unmarshal(encoded2)
		require.NoError(t, err)
		m2 := decoded2.(map[string]any)
		_, hasBody := m2["~"]
		_, hasSvcData := m2["!"]
		assert.False(t, hasBody)
		assert.False(t, hasSvcData)
	})
}
