package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, keySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)
	enc, err := NewEncryptor(key)
	require.NoError(t, err)
	dec, err := NewDecryptor(key)
	require.NoError(t, err)

	tests := [][]byte{
		[]byte("short"),
		bytes.Repeat([]byte{0x42}, 16),  // exactly one block
		bytes.Repeat([]byte{0x7f}, 100), // spans several blocks, needs padding
		{},
	}

	for _, plaintext := range tests {
		ciphertext := enc.Encrypt(plaintext)
		require.Equal(t, 0, len(ciphertext)%16)

		decrypted, err := dec.Decrypt(ciphertext)
		require.NoError(t, err)
		require.True(t, bytes.Equal(plaintext, decrypted))
	}
}

func TestEncryptorStoppedPassesThrough(t *testing.T) {
	enc, err := NewEncryptor(testKey(t))
	require.NoError(t, err)
	enc.Stop()

	payload := []byte("plaintext stays plaintext")
	require.Equal(t, payload, enc.Encrypt(payload))
}

func TestDecryptRejectsBadLength(t *testing.T) {
	dec, err := NewDecryptor(testKey(t))
	require.NoError(t, err)

	_, err = dec.Decrypt([]byte{0x01, 0x02, 0x03})
	require.Error(t, err)
}

func TestDecryptRejectsBadPadding(t *testing.T) {
	dec, err := NewDecryptor(testKey(t))
	require.NoError(t, err)

	garbage := make([]byte, 16)
	_, err = dec.Decrypt(garbage) // decrypted padding byte is essentially random, almost never a valid length
	if err == nil {
		t.Skip("randomly valid padding byte, vanishingly unlikely but not impossible")
	}
}

func TestNewEncryptorRejectsBadKeySize(t *testing.T) {
	_, err := NewEncryptor([]byte("too short"))
	require.Error(t, err)
}
