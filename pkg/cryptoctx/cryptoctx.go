// Package cryptoctx defines the boundary between zyn and the external
// encryption helper that owns every key material decision: which keys exist,
// who they belong to, and how they're protected. zyn never reads or writes
// key material itself, it only ever asks a Context to encrypt or decrypt
// bytes on its behalf.
package cryptoctx

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/marmos91/dittofs/internal/logger"
)

// Context encrypts and decrypts data for a single recipient, identified by
// whatever the underlying helper uses to select keys (a GPG fingerprint, for
// GPGContext). Implementations must be safe for concurrent use: the node
// orchestrator and every live FileEngine actor share one Context.
type Context interface {
	// Encrypt returns the ciphertext for plaintext.
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)

	// Decrypt returns the plaintext for ciphertext.
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)

	// EncryptToFile encrypts plaintext and writes it to path, replacing any
	// existing file at that path.
	EncryptToFile(ctx context.Context, plaintext []byte, path string) error

	// DecryptFromFile reads path and returns its decrypted content.
	DecryptFromFile(ctx context.Context, path string) ([]byte, error)
}

// GPGContext shells out to a local gpg2 binary, mirroring the original
// zyn daemon's crypto helper contract: encryption is always to a single
// recipient identified by Fingerprint, decryption relies on that recipient's
// secret key already being available to the local GPG agent.
type GPGContext struct {
	// Fingerprint identifies the recipient key used for every Encrypt call.
	Fingerprint string

	// Binary overrides the gpg binary name. Defaults to "gpg2".
	Binary string
}

// NewGPGContext creates a Context bound to the given recipient fingerprint.
func NewGPGContext(fingerprint string) *GPGContext {
	return &GPGContext{Fingerprint: fingerprint, Binary: "gpg2"}
}

func (c *GPGContext) binary() string {
	if c.Binary == "" {
		return "gpg2"
	}
	return c.Binary
}

func (c *GPGContext) baseArgs() []string {
	return []string{"--no-tty", "--batch"}
}

// Encrypt pipes plaintext to gpg2's stdin and reads ciphertext from stdout.
func (c *GPGContext) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	args := append(c.baseArgs(), "--encrypt", "-r", c.Fingerprint)
	cmd := exec.CommandContext(ctx, c.binary(), args...)
	cmd.Stdin = bytes.NewReader(plaintext)

	out, err := cmd.Output()
	if err != nil {
		logger.Error("GPG encrypt process failed", "error", err)
		return nil, fmt.Errorf("cryptoctx: gpg encrypt: %w", err)
	}
	return out, nil
}

// Decrypt pipes ciphertext to gpg2's stdin and reads plaintext from stdout.
func (c *GPGContext) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	args := append(c.baseArgs(), "--decrypt")
	cmd := exec.CommandContext(ctx, c.binary(), args...)
	cmd.Stdin = bytes.NewReader(ciphertext)

	out, err := cmd.Output()
	if err != nil {
		logger.Error("GPG decrypt process failed", "error", err)
		return nil, fmt.Errorf("cryptoctx: gpg decrypt: %w", err)
	}
	return out, nil
}

// EncryptToFile removes any pre-existing file at path, then runs
// `gpg2 --encrypt -r <fingerprint> --output <path>` with plaintext on stdin.
func (c *GPGContext) EncryptToFile(ctx context.Context, plaintext []byte, path string) error {
	_ = os.Remove(path)

	args := append(c.baseArgs(), "--encrypt", "-r", c.Fingerprint, "--output", path)
	cmd := exec.CommandContext(ctx, c.binary(), args...)
	cmd.Stdin = bytes.NewReader(plaintext)

	if err := cmd.Run(); err != nil {
		logger.Error("GPG encrypt-to-file process failed", "path", path, "error", err)
		return fmt.Errorf("cryptoctx: gpg encrypt to %s: %w", path, err)
	}

	logger.Debug("encrypted plaintext into file", "bytes", len(plaintext), "path", path)
	return nil
}

// DecryptFromFile runs `gpg2 --decrypt <path>` and returns stdout.
func (c *GPGContext) DecryptFromFile(ctx context.Context, path string) ([]byte, error) {
	args := append(c.baseArgs(), "--decrypt", path)
	cmd := exec.CommandContext(ctx, c.binary(), args...)

	out, err := cmd.Output()
	if err != nil {
		logger.Error("GPG decrypt-from-file process failed", "path", path, "error", err)
		return nil, fmt.Errorf("cryptoctx: gpg decrypt %s: %w", path, err)
	}

	logger.Debug("decrypted ciphertext from file", "bytes", len(out), "path", path)
	return out, nil
}
