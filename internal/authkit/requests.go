package authkit

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const (
	minimumPasswordLength = 6
	maximumPasswordLength = 72
)

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"full_name"`
	Username    string `json:"username"`
	Institution string `json:"institution"`
}

// Validate runs the sign-up field rules.
func (request signUpRequest) Validate() error {
	return validation.ValidateStruct(&request,
		validation.Field(&request.Email, validation.Required, is.Email),
		validation.Field(&request.Password, validation.Required, validation.Length(minimumPasswordLength, maximumPasswordLength)),
		validation.Field(&request.FullName, validation.Required, validation.Length(1, 200)),
		validation.Field(&request.Username, validation.Required, validation.Length(3, 40)),
		validation.Field(&request.Institution, validation.Length(0, 200)),
	)
}

type passwordSignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate runs the sign-in field rules.
func (request passwordSignInRequest) Validate() error {
	return validation.ValidateStruct(&request,
		validation.Field(&request.Email, validation.Required, is.Email),
		validation.Field(&request.Password, validation.Required),
	)
}

type googleSignInRequest struct {
	GoogleIDToken string `json:"google_id_token"`
	Nonce         string `json:"nonce"`
}

// Validate requires both the ID token and the nonce it was bound to.
func (request googleSignInRequest) Validate() error {
	return validation.ValidateStruct(&request,
		validation.Field(&request.GoogleIDToken, validation.Required),
		validation.Field(&request.Nonce, validation.Required),
	)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}
