package authkit

import (
	"errors"
	"testing"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hashed, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hashed == "correct horse" {
		t.Fatalf("expected password to be hashed")
	}
	if err := VerifyPassword(hashed, "correct horse"); err != nil {
		t.Fatalf("expected password to verify, got %v", err)
	}
	if err := VerifyPassword(hashed, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := VerifyPassword("", "anything"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected accounts without a password to be rejected, got %v", err)
	}
}
