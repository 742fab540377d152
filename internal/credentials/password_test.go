package credentials

import (
	"strings"
	"testing"
)

func TestGeneratePasswordLengthAndAlphabet(t *testing.T) {
	password, err := GeneratePassword()
	if err != nil {
		t.Fatalf("GeneratePassword failed: %v", err)
	}

	if len(password) != passwordLength {
		t.Errorf("expected length %d, got %d", passwordLength, len(password))
	}
	for _, c := range password {
		if !strings.ContainsRune(passwordAlphabet, c) {
			t.Errorf("password contains character %q outside the alphabet", c)
		}
	}
}

func TestGeneratePasswordUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		password, err := GeneratePassword()
		if err != nil {
			t.Fatalf("GeneratePassword failed: %v", err)
		}
		if seen[password] {
			t.Fatalf("duplicate password generated: %q", password)
		}
		seen[password] = true
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping argon2 hashing in short mode")
	}

	hash, err := HashPassword("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if !strings.HasPrefix(hash, "$argon2id$v=19$") {
		t.Errorf("expected PHC argon2id format, got %q", hash)
	}

	ok, err := VerifyPassword("correct-horse-battery-staple", hash)
	if err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	if !ok {
		t.Error("expected correct password to verify")
	}

	ok, err = VerifyPassword("wrong-password", hash)
	if err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	if ok {
		t.Error("expected wrong password to fail verification")
	}
}

func TestHashPasswordUniqueSalts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping argon2 hashing in short mode")
	}

	h1, err := HashPassword("same-password")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	h2, err := HashPassword("same-password")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if h1 == h2 {
		t.Error("expected distinct hashes for the same password (random salt)")
	}
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=3,p=1$c2FsdA$aGFzaA"},
		{"too few parts", "$argon2id$v=19$m=65536,t=3,p=1"},
		{"bad salt encoding", "$argon2id$v=19$m=65536,t=3,p=1$!!!$aGFzaA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := VerifyPassword("anything", tt.hash); err == nil {
				t.Error("expected error for malformed hash")
			}
		})
	}
}
