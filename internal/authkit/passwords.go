package authkit

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials indicates an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("accounts.invalid_credentials")

var passwordHashCost = bcrypt.DefaultCost

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
	if err != nil {
		return "", fmt.Errorf("accounts.hash_password: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassword compares password against a stored bcrypt hash.
func VerifyPassword(passwordHash string, password string) error {
	if passwordHash == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("accounts.verify_password: %w", err)
	}
	return nil
}
