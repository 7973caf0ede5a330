package transformfs

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KeyProvider supplies the raw 32-byte key for each cipher stream. Key must
// return a fresh copy on every call; the caller wipes it after use.
type KeyProvider interface {
	Key() ([]byte, error)
}

// HashFunc represents hash function types for PBKDF2
type HashFunc uint8

const (
	// SHA256 hash function
	SHA256 HashFunc = iota
	// SHA512 hash function
	SHA512
)

// PBKDF2Params contains parameters for PBKDF2 key derivation
type PBKDF2Params struct {
	Iterations int      // Number of iterations (minimum 100,000)
	HashFunc   HashFunc // Hash function to use
}

// Argon2idParams contains parameters for Argon2id key derivation
type Argon2idParams struct {
	Memory      uint32 // Memory in KiB (e.g., 64*1024 for 64MB)
	Iterations  uint32 // Number of iterations (time parameter)
	Parallelism uint8  // Degree of parallelism
}

// Validate checks the Argon2id cost parameters.
func (p Argon2idParams) Validate() error {
	switch {
	case p.Memory < 8*1024:
		return NewConfigurationError("argon2id.memory", p.Memory, "argon2id memory must be at least 8 MiB")
	case p.Memory > 4*1024*1024:
		return NewConfigurationError("argon2id.memory", p.Memory, "argon2id memory must not exceed 4 GiB")
	case p.Iterations < 1:
		return NewConfigurationError("argon2id.iterations", p.Iterations, "argon2id iterations must be at least 1")
	case p.Iterations > 100:
		return NewConfigurationError("argon2id.iterations", p.Iterations, "argon2id iterations must not exceed 100")
	case p.Parallelism < 1:
		return NewConfigurationError("argon2id.parallelism", p.Parallelism, "argon2id parallelism must be at least 1")
	}
	return nil
}

// Validate checks the PBKDF2 parameters.
func (p PBKDF2Params) Validate() error {
	switch {
	case p.Iterations < 100000:
		return NewConfigurationError("pbkdf2.iterations", p.Iterations, "pbkdf2 iterations must be at least 100,000")
	case p.Iterations > 10000000:
		return NewConfigurationError("pbkdf2.iterations", p.Iterations, "pbkdf2 iterations must not exceed 10,000,000")
	case p.HashFunc != SHA256 && p.HashFunc != SHA512:
		return NewConfigurationError("pbkdf2.hash", p.HashFunc, "pbkdf2 hash function must be SHA256 or SHA512")
	}
	return nil
}

// StaticKeyProvider holds a key decoded once from its base64 form.
type StaticKeyProvider struct {
	key []byte
}

// NewStaticKeyProvider decodes a base64 (standard alphabet) 32-byte key.
func NewStaticKeyProvider(encoded string) (*StaticKeyProvider, error) {
	key, err := ParseKey(encoded)
	if err != nil {
		return nil, err
	}
	return &StaticKeyProvider{key: key}, nil
}

// Key returns a copy of the key
func (s *StaticKeyProvider) Key() ([]byte, error) {
	out := make([]byte, len(s.key))
	copy(out, s.key)
	return out, nil
}

// EnvKeyProvider implements KeyProvider using an environment variable
type EnvKeyProvider struct {
	envVar string
}

// NewEnvKeyProvider creates a new environment variable key provider
func NewEnvKeyProvider(envVar string) *EnvKeyProvider {
	return &EnvKeyProvider{envVar: envVar}
}

// Key reads and decodes the base64 key from the environment on every call,
// so a rotated variable takes effect for the next stream.
func (e *EnvKeyProvider) Key() ([]byte, error) {
	encoded := os.Getenv(e.envVar)
	if encoded == "" {
		return nil, NewConfigurationError("key", e.envVar, fmt.Sprintf("environment variable %s not set", e.envVar))
	}
	return ParseKey(encoded)
}

// PasswordKeyProvider implements KeyProvider using password-based key derivation
type PasswordKeyProvider struct {
	password     []byte
	salt         []byte
	useArgon2id  bool
	pbkdf2Params PBKDF2Params
	argon2Params Argon2idParams
}

// NewPasswordKeyProvider creates a new password-based key provider using Argon2id (recommended).
// The salt must be stable for the lifetime of the stored data.
func NewPasswordKeyProvider(password, salt []byte, params Argon2idParams) *PasswordKeyProvider {
	// Set defaults
	if params.Memory == 0 {
		params.Memory = 64 * 1024 // 64 MB
	}
	if params.Iterations == 0 {
		params.Iterations = 3
	}
	if params.Parallelism == 0 {
		params.Parallelism = 4
	}

	return &PasswordKeyProvider{
		password:     password,
		salt:         salt,
		useArgon2id:  true,
		argon2Params: params,
	}
}

// NewPasswordKeyProviderPBKDF2 creates a new password-based key provider using PBKDF2
func NewPasswordKeyProviderPBKDF2(password, salt []byte, params PBKDF2Params) *PasswordKeyProvider {
	if params.Iterations == 0 {
		params.Iterations = 100000
	}

	return &PasswordKeyProvider{
		password:     password,
		salt:         salt,
		pbkdf2Params: params,
	}
}

// Key derives the key from the password and salt
func (p *PasswordKeyProvider) Key() ([]byte, error) {
	if len(p.password) == 0 {
		return nil, NewConfigurationError("password", nil, "password cannot be empty")
	}
	if len(p.salt) < 16 {
		return nil, NewConfigurationError("salt", len(p.salt), "salt must be at least 16 bytes")
	}

	if p.useArgon2id {
		if err := p.argon2Params.Validate(); err != nil {
			return nil, err
		}
		return argon2.IDKey(
			p.password,
			p.salt,
			p.argon2Params.Iterations,
			p.argon2Params.Memory,
			p.argon2Params.Parallelism,
			KeySize,
		), nil
	}

	if err := p.pbkdf2Params.Validate(); err != nil {
		return nil, err
	}
	var hashFunc func() hash.Hash
	switch p.pbkdf2Params.HashFunc {
	case SHA256:
		hashFunc = sha256.New
	case SHA512:
		hashFunc = sha512.New
	}
	return pbkdf2.Key(p.password, p.salt, p.pbkdf2Params.Iterations, KeySize, hashFunc), nil
}

// GenerateSalt generates a new random salt for a PasswordKeyProvider
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// GenerateKey returns a new random key in the base64 form accepted by
// NewStaticKeyProvider and ParseKey.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	defer wipe(key)
	return base64.StdEncoding.EncodeToString(key), nil
}

// ParseKey decodes a base64 key and checks its length.
func ParseKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &ConfigurationError{
			Field:   "key",
			Message: "key is not valid base64",
			Err:     errors.Join(ErrInvalidKey, err),
		}
	}
	if err := ValidateKey(key, KeySize); err != nil {
		wipe(key)
		return nil, err
	}
	return key, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
