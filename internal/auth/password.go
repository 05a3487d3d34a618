// Package auth provides the cryptographic primitives of the identity core:
// memory-hard password hashing, signed access tokens, external-provider
// verification, and the HTTP middleware that guards protected routes.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/letsyahu/identity/internal/apperror"
)

// Argon2id parameters. The OWASP password-storage baseline: 64 MiB memory,
// 3 iterations, 2 lanes. Memory hardness is the point — GPU crackers are
// bound by memory bandwidth, not compute.
const (
	defaultMemory      = 64 * 1024 // KiB
	defaultIterations  = 3
	defaultParallelism = 2
	defaultSaltLength  = 16
	defaultKeyLength   = 32
)

// minSecretLength is the minimum plaintext length accepted by Hash.
const minSecretLength = 8

// maxSecretLength bounds the hashing work a single request can demand.
const maxSecretLength = 512

// DummyHash is a syntactically valid argon2id PHC string (default
// parameters, zero salt, zero key) that matches no password. The Gate
// verifies candidate passwords against it when no real credential exists,
// so the response time of "unknown account" matches "wrong password".
const DummyHash = "$argon2id$v=19$m=65536,t=3,p=2$" +
	"AAAAAAAAAAAAAAAAAAAAAA$" +
	"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// PasswordHasher derives and verifies argon2id password hashes.
//
// It is a struct rather than free functions so the cost parameters can be
// lowered in tests — hashing at production cost takes tens of milliseconds
// per call, which adds up fast in a test suite.
type PasswordHasher struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

// NewPasswordHasher returns a hasher with the production cost parameters.
func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{
		memory:      defaultMemory,
		iterations:  defaultIterations,
		parallelism: defaultParallelism,
		saltLength:  defaultSaltLength,
		keyLength:   defaultKeyLength,
	}
}

// NewPasswordHasherForTest returns a hasher with minimal cost parameters.
// Verification still round-trips real argon2id hashes; only the work factor
// is reduced. Do not use outside tests.
func NewPasswordHasherForTest() *PasswordHasher {
	return &PasswordHasher{
		memory:      8 * 1024,
		iterations:  1,
		parallelism: 1,
		saltLength:  defaultSaltLength,
		keyLength:   defaultKeyLength,
	}
}

// Hash checks the minimum-entropy policy and derives an argon2id hash with
// a fresh random salt. The output is a self-contained PHC string:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<base64 salt>$<base64 key>
//
// Store it as-is; Verify decodes the parameters and salt back out of it.
// Returns ErrWeakSecret if the plaintext fails the policy.
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	if err := CheckSecretStrength(plaintext); err != nil {
		return "", err
	}

	salt := make([]byte, h.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, h.iterations, h.memory, h.parallelism, h.keyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory,
		h.iterations,
		h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, nil
}

// Verify recomputes the hash with the parameters and salt embedded in
// encodedHash and compares in constant time.
//
// A wrong password is (false, nil) — not an error. The only error cases are
// a corrupt or non-argon2id stored hash.
func (h *PasswordHasher) Verify(encodedHash, plaintext string) (bool, error) {
	params, salt, key, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(plaintext), salt,
		params.iterations, params.memory, params.parallelism, uint32(len(key)))

	return subtle.ConstantTimeCompare(key, candidate) == 1, nil
}

// NeedsRehash reports whether encodedHash was derived with parameters other
// than the hasher's current ones. Callers rehash opportunistically after a
// successful verification, so stored hashes upgrade as the cost baseline
// moves without a migration.
func (h *PasswordHasher) NeedsRehash(encodedHash string) bool {
	params, _, key, err := decodeHash(encodedHash)
	if err != nil {
		return true
	}
	return params.memory != h.memory ||
		params.iterations != h.iterations ||
		params.parallelism != h.parallelism ||
		uint32(len(key)) != h.keyLength
}

// CheckSecretStrength applies the minimum-entropy policy: a length floor,
// a length ceiling (to bound hashing work), and a rejection of single-rune
// runs like "aaaaaaaa" that satisfy the floor with no entropy at all.
func CheckSecretStrength(plaintext string) error {
	if len(plaintext) < minSecretLength {
		return apperror.WeakSecret(fmt.Sprintf("password must be at least %d characters", minSecretLength))
	}
	if len(plaintext) > maxSecretLength {
		return apperror.WeakSecret(fmt.Sprintf("password must be at most %d characters", maxSecretLength))
	}
	first := rune(plaintext[0])
	uniform := true
	for _, r := range plaintext {
		if r != first {
			uniform = false
			break
		}
	}
	if uniform {
		return apperror.WeakSecret("password must not be a single repeated character")
	}
	return nil
}

type argonParams struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
}

// decodeHash parses a PHC-formatted argon2id string into its parameters,
// salt, and derived key.
func decodeHash(encodedHash string) (argonParams, []byte, []byte, error) {
	var params argonParams

	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return params, nil, nil, fmt.Errorf("auth: malformed password hash")
	}
	if parts[1] != "argon2id" {
		return params, nil, nil, fmt.Errorf("auth: unsupported hash algorithm %q", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, fmt.Errorf("auth: malformed hash version: %w", err)
	}
	if version != argon2.Version {
		return params, nil, nil, fmt.Errorf("auth: incompatible argon2 version %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&params.memory, &params.iterations, &params.parallelism); err != nil {
		return params, nil, nil, fmt.Errorf("auth: malformed hash parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, fmt.Errorf("auth: decoding hash salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params, nil, nil, fmt.Errorf("auth: decoding hash key: %w", err)
	}

	return params, salt, key, nil
}
