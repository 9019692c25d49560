package authstate

import (
	"context"
	"errors"
	"time"
)

// AuthEvent names a push notification delivered by the auth service.
type AuthEvent string

// Auth events emitted by AuthService subscriptions.
const (
	EventInitialSession   AuthEvent = "INITIAL_SESSION"
	EventSignedIn         AuthEvent = "SIGNED_IN"
	EventSignedOut        AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed   AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated      AuthEvent = "USER_UPDATED"
	EventPasswordRecovery AuthEvent = "PASSWORD_RECOVERY"
)

// RoleAdmin is the profile role granted administrative access.
const RoleAdmin = "admin"

// Sentinel errors exposed by the store and its collaborators.
var (
	// ErrProfileNotFound signals that a profile lookup matched no row. It is not a failure.
	ErrProfileNotFound = errors.New("authstate.profile_not_found")
	// ErrNotAuthenticated is returned by operations that need a signed-in user.
	ErrNotAuthenticated = errors.New("authstate.not_authenticated")
	// ErrStoreClosed is returned once the store has been closed.
	ErrStoreClosed = errors.New("authstate.closed")
)

// Session represents the currently authenticated principal.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Roles        []string  `json:"roles,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the session expiry is at or before now.
func (session *Session) Expired(now time.Time) bool {
	if session == nil {
		return true
	}
	return !session.ExpiresAt.IsZero() && !now.Before(session.ExpiresAt)
}

// Profile is the application-level record keyed by user id.
type Profile struct {
	UserID            string    `json:"id"`
	Username          string    `json:"username"`
	FullName          string    `json:"full_name"`
	Institution       string    `json:"institution"`
	University        string    `json:"university"`
	Role              string    `json:"role"`
	AvatarURL         string    `json:"avatar_url"`
	Bio               string    `json:"bio"`
	ResearchInterests string    `json:"research_interests"`
	ORCID             string    `json:"orcid"`
	LattesURL         string    `json:"lattes_url"`
	LinkedInURL       string    `json:"linkedin_url"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ProfilePatch carries the user-editable profile fields; nil fields are left unchanged.
type ProfilePatch struct {
	Username          *string `json:"username,omitempty"`
	FullName          *string `json:"full_name,omitempty"`
	Institution       *string `json:"institution,omitempty"`
	University        *string `json:"university,omitempty"`
	AvatarURL         *string `json:"avatar_url,omitempty"`
	Bio               *string `json:"bio,omitempty"`
	ResearchInterests *string `json:"research_interests,omitempty"`
	ORCID             *string `json:"orcid,omitempty"`
	LattesURL         *string `json:"lattes_url,omitempty"`
	LinkedInURL       *string `json:"linkedin_url,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (patch ProfilePatch) Empty() bool {
	return patch.Username == nil && patch.FullName == nil && patch.Institution == nil &&
		patch.University == nil && patch.AvatarURL == nil && patch.Bio == nil &&
		patch.ResearchInterests == nil && patch.ORCID == nil && patch.LattesURL == nil &&
		patch.LinkedInURL == nil
}

// Credentials are the email/password pair used for sign-in and sign-up.
type Credentials struct {
	Email    string
	Password string
	Options  SignUpOptions
}

// SignUpOptions carries profile seed data submitted with a sign-up.
type SignUpOptions struct {
	FullName    string `json:"full_name,omitempty"`
	Username    string `json:"username,omitempty"`
	Institution string `json:"institution,omitempty"`
}

// AuthState is the published snapshot of who is signed in.
// While IsInitialized is false, User and Profile are unknown rather than absent.
type AuthState struct {
	User          *Session
	Profile       *Profile
	IsLoading     bool
	IsInitialized bool
}

// UserID returns the signed-in user id or an empty string.
func (state AuthState) UserID() string {
	if state.User == nil {
		return ""
	}
	return state.User.UserID
}

// Role returns the cached profile role or an empty string.
func (state AuthState) Role() string {
	if state.Profile == nil {
		return ""
	}
	return state.Profile.Role
}

// Unsubscribe detaches a subscription.
type Unsubscribe func()

// AuthListener receives auth events in delivery order.
type AuthListener func(event AuthEvent, session *Session)

// AuthService is the hosted authentication service consumed by the store.
type AuthService interface {
	GetCurrentSession(ctx context.Context) (*Session, error)
	Subscribe(listener AuthListener) Unsubscribe
	SignInWithPassword(ctx context.Context, email string, password string) (*Session, error)
	SignUp(ctx context.Context, email string, password string, options SignUpOptions) (*Session, error)
	SignOut(ctx context.Context) error
}

// ProfileRepository is the data store table holding profiles.
// FindProfile returns ErrProfileNotFound when no row exists.
type ProfileRepository interface {
	FindProfile(ctx context.Context, userID string) (Profile, error)
	UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (Profile, error)
}
