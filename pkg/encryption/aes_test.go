package encryption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESEncryption_RoundTrip(t *testing.T) {
	enc, err := NewAESEncryption("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := enc.Encrypt([]byte(`{"allergies":["Peanuts"]}`))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "Peanuts")

	opened, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"allergies":["Peanuts"]}`, string(opened))
}

func TestAESEncryption_WrongKey(t *testing.T) {
	a, err := NewAESEncryption("key-a")
	require.NoError(t, err)
	b, err := NewAESEncryption("key-b")
	require.NoError(t, err)

	sealed, err := a.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = b.Decrypt(sealed)
	assert.Error(t, err)

	_, err = a.Decrypt([]byte("short"))
	assert.Error(t, err)
}

func TestNewAESEncryption_EmptyKey(t *testing.T) {
	_, err := NewAESEncryption("")
	assert.Error(t, err)
}

func TestHashData(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashData(nil))
}
