// Package keycodec generates API key plaintexts and derives their stored
// digest and display fingerprint.
package keycodec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultPrefix tags keys issued by a production deployment.
	DefaultPrefix = "sk_live_"

	// DefaultSecretBytes is the number of random bytes behind each key.
	DefaultSecretBytes = 24

	// MinSecretBytes is the smallest entropy size New accepts.
	MinSecretBytes = 16

	// FingerprintLen is the number of trailing plaintext characters kept
	// in cleartext for display.
	FingerprintLen = 4

	maxPrefixLen = 32
)

// ErrEntropySource is returned when the secure random source fails. Issuance
// must abort; there is no weaker fallback.
var ErrEntropySource = errors.New("entropy source unavailable")

// Config controls the shape of generated keys.
type Config struct {
	Prefix      string // scheme tag, e.g. "sk_live_" or "sk_test_"
	SecretBytes int
}

// DefaultConfig returns the production key shape.
func DefaultConfig() Config {
	return Config{
		Prefix:      DefaultPrefix,
		SecretBytes: DefaultSecretBytes,
	}
}

// Validate reports whether the configuration yields usable keys.
func (c Config) Validate() error {
	if c.SecretBytes < MinSecretBytes {
		return fmt.Errorf("secret bytes must be at least %d, got %d", MinSecretBytes, c.SecretBytes)
	}
	if len(c.Prefix) > maxPrefixLen {
		return fmt.Errorf("prefix must be at most %d characters", maxPrefixLen)
	}
	for _, r := range c.Prefix {
		if !isURLSafe(r) {
			return fmt.Errorf("prefix %q contains %q; only [A-Za-z0-9_-] are allowed", c.Prefix, r)
		}
	}
	return nil
}

// Generated holds a freshly minted key. Plaintext must be handed to the
// caller once and then discarded.
type Generated struct {
	Plaintext string
	Last4     string
	Hash      string
}

// Codec generates keys with a fixed prefix and entropy size. It is safe for
// concurrent use.
type Codec struct {
	prefix      string
	secretBytes int
	random      io.Reader
}

// New creates a Codec backed by crypto/rand.
func New(cfg Config) (*Codec, error) {
	return NewWithReader(cfg, rand.Reader)
}

// NewWithReader creates a Codec drawing entropy from r. r must be a
// cryptographically secure source outside of tests.
func NewWithReader(cfg Config, r io.Reader) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Codec{
		prefix:      cfg.Prefix,
		secretBytes: cfg.SecretBytes,
		random:      r,
	}, nil
}

// Prefix returns the scheme tag prepended to every generated key.
func (c *Codec) Prefix() string {
	return c.prefix
}

// Generate draws fresh entropy and returns the plaintext key together with its
// fingerprint and digest.
func (c *Codec) Generate() (Generated, error) {
	buf := make([]byte, c.secretBytes)
	if _, err := io.ReadFull(c.random, buf); err != nil {
		return Generated{}, fmt.Errorf("%w: %v", ErrEntropySource, err)
	}

	plaintext := c.prefix + base64.RawURLEncoding.EncodeToString(buf)
	return Generated{
		Plaintext: plaintext,
		Last4:     Fingerprint(plaintext),
		Hash:      Hash(plaintext),
	}, nil
}

// Hash returns the hex-encoded SHA-256 digest of a plaintext key. It is
// deterministic and unsalted so that keys can be looked up by digest.
func Hash(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// Fingerprint returns the last FingerprintLen characters of the plaintext.
func Fingerprint(plaintext string) string {
	if len(plaintext) <= FingerprintLen {
		return plaintext
	}
	return plaintext[len(plaintext)-FingerprintLen:]
}

func isURLSafe(r rune) bool {
	return r >= 'a' && r <= 'z' ||
		r >= 'A' && r <= 'Z' ||
		r >= '0' && r <= '9' ||
		r == '_' || r == '-'
}
