package authkit

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

var (
	errGoogleInvalidIssuer     = errors.New("google.invalid_issuer")
	errGoogleUnverifiedAccount = errors.New("google.unverified_identity")
	errGoogleNonceMismatch     = errors.New("google.nonce_mismatch")
)

// GoogleTokenValidator verifies Google ID tokens for an audience.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

// NewGoogleTokenValidator builds a validator backed by Google's public keys.
func NewGoogleTokenValidator(ctx context.Context) (GoogleTokenValidator, error) {
	validator, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("google.validator: %w", err)
	}
	return validator, nil
}

// googleIdentityFromPayload checks issuer, verification status, and nonce binding.
func googleIdentityFromPayload(payload *idtoken.Payload, expectedNonce string) (GoogleIdentity, error) {
	if payload == nil {
		return GoogleIdentity{}, errGoogleUnverifiedAccount
	}
	issuerValue, _ := payload.Claims["iss"].(string)
	if issuerValue != "https://accounts.google.com" && issuerValue != "accounts.google.com" {
		return GoogleIdentity{}, errGoogleInvalidIssuer
	}
	tokenNonce, _ := payload.Claims["nonce"].(string)
	if tokenNonce != expectedNonce {
		return GoogleIdentity{}, errGoogleNonceMismatch
	}
	subject, _ := payload.Claims["sub"].(string)
	email, _ := payload.Claims["email"].(string)
	emailVerified, _ := payload.Claims["email_verified"].(bool)
	displayName, _ := payload.Claims["name"].(string)
	if subject == "" || email == "" || !emailVerified {
		return GoogleIdentity{}, errGoogleUnverifiedAccount
	}
	return GoogleIdentity{Subject: subject, Email: NormalizeEmail(email), DisplayName: displayName}, nil
}
