package auth

import (
	"errors"
	"strings"
	"testing"

	"github.com/letsyahu/identity/internal/apperror"
)

func newTestHasher(t *testing.T) *PasswordHasher {
	t.Helper()
	return NewPasswordHasherForTest()
}

func TestHashAndVerify_RoundTrip(t *testing.T) {
	h := newTestHasher(t)

	encoded, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Errorf("Hash() = %q, want argon2id PHC string", encoded)
	}

	ok, err := h.Verify(encoded, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("Verify() = false for the correct password")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	h := newTestHasher(t)

	encoded, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	// A mismatch is (false, nil) — not an error.
	ok, err := h.Verify(encoded, "incorrect horse")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Error("Verify() = true for the wrong password")
	}
}

func TestHash_FreshSaltEachTime(t *testing.T) {
	h := newTestHasher(t)

	a, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	b, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if a == b {
		t.Error("two hashes of the same password are identical — salt is not fresh")
	}
}

func TestVerify_MalformedHash(t *testing.T) {
	h := newTestHasher(t)

	tests := []struct {
		name    string
		encoded string
	}{
		{"empty", ""},
		{"not a PHC string", "plaintext-oops"},
		{"wrong algorithm", "$bcrypt$v=19$m=8192,t=1,p=1$AAAA$AAAA"},
		{"bad salt encoding", "$argon2id$v=19$m=8192,t=1,p=1$!!!$AAAA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.Verify(tt.encoded, "whatever"); err == nil {
				t.Errorf("Verify(%q) expected error", tt.encoded)
			}
		})
	}
}

func TestCheckSecretStrength(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantWeak bool
	}{
		{"too short", "hunter2", true},
		{"single repeated character", "aaaaaaaaaa", true},
		{"exactly at the floor", "hunter22", false},
		{"normal passphrase", "correct horse battery staple", false},
		{"very long", strings.Repeat("x y", 400), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSecretStrength(tt.password)
			if tt.wantWeak && !errors.Is(err, apperror.ErrWeakSecret) {
				t.Errorf("CheckSecretStrength() = %v, want ErrWeakSecret", err)
			}
			if !tt.wantWeak && err != nil {
				t.Errorf("CheckSecretStrength() unexpected error: %v", err)
			}
		})
	}
}

func TestHash_WeakSecretRejected(t *testing.T) {
	h := newTestHasher(t)
	if _, err := h.Hash("short"); !errors.Is(err, apperror.ErrWeakSecret) {
		t.Errorf("Hash(weak) = %v, want ErrWeakSecret", err)
	}
}

func TestNeedsRehash(t *testing.T) {
	weak := NewPasswordHasherForTest()
	strong := NewPasswordHasher()

	encoded, err := weak.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	// A hash derived at test cost is stale for the production hasher,
	// current for the test hasher.
	if !strong.NeedsRehash(encoded) {
		t.Error("NeedsRehash() = false for a hash below current cost")
	}
	if weak.NeedsRehash(encoded) {
		t.Error("NeedsRehash() = true for a hash at current cost")
	}

	if !strong.NeedsRehash("garbage") {
		t.Error("NeedsRehash() = false for an undecodable hash")
	}
}

func TestDummyHash_VerifiesButNeverMatches(t *testing.T) {
	h := newTestHasher(t)

	// The dummy hash must decode cleanly (so the timing-equalization path
	// burns real argon2 work) and must not match anything.
	ok, err := h.Verify(DummyHash, "any password at all")
	if err != nil {
		t.Fatalf("Verify(DummyHash) error = %v", err)
	}
	if ok {
		t.Error("Verify(DummyHash) = true — dummy hash matched a password")
	}
}
