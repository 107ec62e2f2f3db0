package keypair

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// maxKeyFileSize bounds how much of a user-chosen path we are willing to read.
// A solana-keygen file is ~230 bytes; a base58 key is 88 characters.
const maxKeyFileSize = 4096

var (
	// ErrKeyFileNotFound is returned when the key path does not resolve to a regular file.
	ErrKeyFileNotFound = errors.New("key file not found")

	// ErrKeyFileUnreadable is returned when the key file exists but cannot be read,
	// typically for lack of permission.
	ErrKeyFileUnreadable = errors.New("key file is not readable")

	// ErrKeyFormat is returned when the file is not a 64-byte JSON array or base58 key.
	ErrKeyFormat = errors.New("invalid key file format")

	// ErrReleased is returned when a released credential is asked to sign.
	ErrReleased = errors.New("credential already released")
)

// Credential is an in-memory signing key owned by a single burn operation.
// It never serializes its key material and is zeroed by Release.
type Credential struct {
	key solana.PrivateKey
	pub solana.PublicKey
}

// Load reads the key file at path and returns a Credential.
//
// Two encodings are accepted: the solana-keygen JSON array of 64 byte values, and a
// single base58 string that decodes to 64 bytes. Anything else is rejected with
// ErrKeyFormat; no best-effort parsing is attempted. The file buffer is zeroed before
// Load returns, on every path.
func Load(path string) (*Credential, error) {
	info, err := os.Stat(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: %s", ErrKeyFileNotFound, path)
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w: %s: permission denied", ErrKeyFileUnreadable, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrKeyFileNotFound, path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrKeyFileNotFound, path)
	}
	if info.Size() > maxKeyFileSize {
		return nil, fmt.Errorf("%w: file is larger than %d bytes", ErrKeyFormat, maxKeyFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: %s", ErrKeyFileNotFound, path)
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w: %s: permission denied", ErrKeyFileUnreadable, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrKeyFileUnreadable, path, err)
	}
	defer clear(content)

	raw, err := decode(content)
	if err != nil {
		return nil, err
	}

	cred, err := New(raw)
	if err != nil {
		clear(raw)
		return nil, err
	}
	return cred, nil
}

// New wraps a 64-byte ed25519 keypair. The Credential takes ownership of key;
// callers must not keep using the slice.
func New(key solana.PrivateKey) (*Credential, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: expected %d key bytes, got %d", ErrKeyFormat, ed25519.PrivateKeySize, len(key))
	}

	// The trailing half must be the public key of the leading seed.
	derived := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	defer clear(derived)
	if !bytes.Equal(derived[ed25519.SeedSize:], key[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("%w: public key does not match secret seed", ErrKeyFormat)
	}

	var pub solana.PublicKey
	copy(pub[:], key[ed25519.SeedSize:])

	return &Credential{key: key, pub: pub}, nil
}

// decode recognises the two accepted encodings.
func decode(content []byte) (solana.PrivateKey, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrKeyFormat)
	}

	if trimmed[0] == '[' {
		return decodeByteArray(trimmed)
	}
	return decodeBase58(trimmed)
}

func decodeByteArray(data []byte) (solana.PrivateKey, error) {
	var values []int
	// Parse errors are not wrapped: the json error text can quote file contents.
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: not a JSON array of byte values", ErrKeyFormat)
	}
	defer clear(values)

	if len(values) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: expected %d byte values, got %d", ErrKeyFormat, ed25519.PrivateKeySize, len(values))
	}

	key := make(solana.PrivateKey, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			clear(key)
			return nil, fmt.Errorf("%w: value at index %d is out of byte range", ErrKeyFormat, i)
		}
		key[i] = byte(v)
	}
	return key, nil
}

func decodeBase58(data []byte) (solana.PrivateKey, error) {
	for _, c := range data {
		if !isBase58Char(c) {
			return nil, fmt.Errorf("%w: not a JSON byte array or a base58 string", ErrKeyFormat)
		}
	}

	decoded, err := base58.Decode(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base58 encoding", ErrKeyFormat)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		clear(decoded)
		return nil, fmt.Errorf("%w: base58 key decodes to %d bytes, expected %d", ErrKeyFormat, len(decoded), ed25519.PrivateKeySize)
	}
	return solana.PrivateKey(decoded), nil
}

func isBase58Char(c byte) bool {
	switch {
	case c >= '1' && c <= '9':
		return true
	case c >= 'A' && c <= 'H', c >= 'J' && c <= 'N', c >= 'P' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'k', c >= 'm' && c <= 'z':
		return true
	}
	return false
}

// PublicKey returns the signer address. It stays available after Release.
func (c *Credential) PublicKey() solana.PublicKey {
	return c.pub
}

// SignTransaction signs tx in place. The credential must be the only required signer.
func (c *Credential) SignTransaction(tx *solana.Transaction) error {
	if c.key == nil {
		return ErrReleased
	}
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.pub) {
			return &c.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}

// Release zeroes the key bytes. It is safe to call more than once.
func (c *Credential) Release() {
	if c.key == nil {
		return
	}
	clear(c.key)
	c.key = nil
}

// Released reports whether Release has been called.
func (c *Credential) Released() bool {
	return c.key == nil
}

// String never includes key material.
func (c *Credential) String() string {
	return fmt.Sprintf("Credential(%s)", c.pub)
}

// GoString keeps %#v from dumping the key bytes.
func (c *Credential) GoString() string {
	return c.String()
}

// LogValue keeps slog from dumping the key bytes.
func (c *Credential) LogValue() slog.Value {
	return slog.StringValue(c.pub.String())
}
