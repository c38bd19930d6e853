package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncryptor(t *testing.T) *AESEncryptor {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	e, err := NewAESEncryptor(key)
	require.NoError(t, err)
	return e
}

func TestKeyEncoding(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	require.Len(t, key, KeySize)

	decoded, err := DecodeKeyBase64(EncodeKeyBase64(key))
	require.NoError(t, err)
	assert.Equal(t, key, decoded)

	_, err = DecodeKeyBase64(EncodeKeyBase64(key[:16]))
	assert.ErrorContains(t, err, "must decode to 32 bytes")

	_, err = DecodeKeyBase64("not base64!")
	assert.Error(t, err)
}

func TestNewAESEncryptor_KeySize(t *testing.T) {
	for _, size := range []int{0, 16, 24, 33} {
		_, err := NewAESEncryptor(make([]byte, size))
		assert.Error(t, err, "size %d", size)
	}
}

func TestSealToken(t *testing.T) {
	e := newTestEncryptor(t)

	sealed, err := e.SealToken("cus_1", "access-sandbox-abc")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "v1."))
	assert.NotContains(t, sealed, "access-sandbox-abc")

	opened, err := e.OpenToken("cus_1", sealed)
	require.NoError(t, err)
	assert.Equal(t, "access-sandbox-abc", opened)
}

func TestSealToken_NonDeterministic(t *testing.T) {
	e := newTestEncryptor(t)

	a, err := e.SealToken("cus_1", "token")
	require.NoError(t, err)
	b, err := e.SealToken("cus_1", "token")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenToken_Rejects(t *testing.T) {
	e := newTestEncryptor(t)
	sealed, err := e.SealToken("cus_1", "access-sandbox-abc")
	require.NoError(t, err)

	other := newTestEncryptor(t)
	tampered := []byte(sealed)
	tampered[len(tampered)-3] ^= 0x01

	tests := []struct {
		name       string
		encryptor  *AESEncryptor
		customerID string
		sealed     string
	}{
		{"other customer", e, "cus_2", sealed},
		{"other key", other, "cus_1", sealed},
		{"missing version", e, "cus_1", strings.TrimPrefix(sealed, "v1.")},
		{"tampered", e, "cus_1", string(tampered)},
		{"not base64", e, "cus_1", "v1.!!!"},
		{"too short", e, "cus_1", "v1.AAAA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.encryptor.OpenToken(tt.customerID, tt.sealed)
			assert.Error(t, err)
		})
	}
}

func TestEncryptDecrypt_AdditionalData(t *testing.T) {
	e := newTestEncryptor(t)

	for _, plaintext := range []string{"", "short", strings.Repeat("x", 4096)} {
		ct, err := e.Encrypt([]byte(plaintext), []byte("ctx"))
		require.NoError(t, err)

		pt, err := e.Decrypt(ct, []byte("ctx"))
		require.NoError(t, err)
		assert.Equal(t, plaintext, string(pt))

		_, err = e.Decrypt(ct, nil)
		assert.Error(t, err)
	}
}
