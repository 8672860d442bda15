package cryptoctx

import (
	"context"
	"os"
)

// MemoryContext is a reversible, non-cryptographic Context used by tests.
// It XORs every byte with Key, so Decrypt(Encrypt(x)) == x without requiring
// a real gpg2 binary or keyring to be present in the test environment.
type MemoryContext struct {
	Key byte
}

// NewMemoryContext returns a MemoryContext with a fixed, non-zero XOR key.
func NewMemoryContext() *MemoryContext {
	return &MemoryContext{Key: 0x5a}
}

func (c *MemoryContext) transform(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ c.Key
	}
	return out
}

func (c *MemoryContext) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	return c.transform(plaintext), nil
}

func (c *MemoryContext) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	return c.transform(ciphertext), nil
}

func (c *MemoryContext) EncryptToFile(ctx context.Context, plaintext []byte, path string) error {
	ciphertext, err := c.Encrypt(ctx, plaintext)
	if err != nil {
		return err
	}
	return os.WriteFile(path, ciphertext, 0o600)
}

func (c *MemoryContext) DecryptFromFile(ctx context.Context, path string) ([]byte, error) {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return c.Decrypt(ctx, ciphertext)
}
