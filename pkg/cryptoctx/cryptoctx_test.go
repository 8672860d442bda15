package cryptoctx_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs/pkg/cryptoctx"
)

func TestMemoryContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := cryptoctx.NewMemoryContext()

	plaintext := []byte("hello zyn")
	ciphertext, err := c.Encrypt(ctx, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := c.Decrypt(ctx, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestMemoryContextFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := cryptoctx.NewMemoryContext()
	path := filepath.Join(t.TempDir(), "blob.bin")

	plaintext := []byte("block content")
	require.NoError(t, c.EncryptToFile(ctx, plaintext, path))

	decrypted, err := c.DecryptFromFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}
