package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"google.golang.org/api/idtoken"
)

func init() {
	passwordHashCost = bcrypt.MinCost
}

type controllableClock struct {
	mutex   sync.Mutex
	current time.Time
}

func (clock *controllableClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *controllableClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

type validatorResult struct {
	payload          *idtoken.Payload
	err              error
	expectedAudience string
}

type fakeGoogleValidator struct {
	results map[string]validatorResult
}

func (validator *fakeGoogleValidator) Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error) {
	result, ok := validator.results[token]
	if !ok {
		return nil, errors.New("token_not_found")
	}
	if result.expectedAudience != "" && result.expectedAudience != audience {
		return nil, errors.New("audience_mismatch")
	}
	if result.err != nil {
		return nil, result.err
	}
	return result.payload, nil
}

type testAccount struct {
	account      Account
	passwordHash string
	googleSub    string
}

type testAccountStore struct {
	mutex    sync.Mutex
	byID     map[string]*testAccount
	sequence int
	failWith error
}

func newTestAccountStore() *testAccountStore {
	return &testAccountStore{byID: make(map[string]*testAccount)}
}

func (store *testAccountStore) CreateAccount(ctx context.Context, registration Registration) (Account, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.failWith != nil {
		return Account{}, store.failWith
	}
	for _, existing := range store.byID {
		if existing.account.Email == registration.Email {
			return Account{}, ErrAccountExists
		}
	}
	store.sequence++
	account := Account{UserID: fmt.Sprintf("user-%d", store.sequence), Email: registration.Email, Roles: []string{registration.Role}}
	store.byID[account.UserID] = &testAccount{account: account, passwordHash: registration.PasswordHash}
	return account, nil
}

func (store *testAccountStore) FindAccountByEmail(ctx context.Context, email string) (Account, string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.failWith != nil {
		return Account{}, "", store.failWith
	}
	for _, existing := range store.byID {
		if existing.account.Email == email {
			return existing.account, existing.passwordHash, nil
		}
	}
	return Account{}, "", ErrAccountNotFound
}

func (store *testAccountStore) FindAccount(ctx context.Context, userID string) (Account, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.failWith != nil {
		return Account{}, store.failWith
	}
	existing, ok := store.byID[userID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return existing.account, nil
}

func (store *testAccountStore) UpsertGoogleAccount(ctx context.Context, identity GoogleIdentity, role string) (Account, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.failWith != nil {
		return Account{}, store.failWith
	}
	for _, existing := range store.byID {
		if existing.googleSub == identity.Subject || existing.account.Email == identity.Email {
			existing.googleSub = identity.Subject
			return existing.account, nil
		}
	}
	store.sequence++
	account := Account{UserID: fmt.Sprintf("user-%d", store.sequence), Email: identity.Email, Roles: []string{role}}
	store.byID[account.UserID] = &testAccount{account: account, googleSub: identity.Subject}
	return account, nil
}

func (store *testAccountStore) setRoles(userID string, roles ...string) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.byID[userID].account.Roles = slices.Clone(roles)
}

type stubRefreshStore struct {
	issueErr    error
	validateErr error
	revokeErr   error
	userID      string
}

func (store *stubRefreshStore) Issue(ctx context.Context, applicationUserID string, expiresUnix int64, previousTokenID string) (string, string, error) {
	if store.issueErr != nil {
		return "", "", store.issueErr
	}
	return "token-id", "opaque", nil
}

func (store *stubRefreshStore) Validate(ctx context.Context, tokenOpaque string) (string, string, int64, error) {
	if store.validateErr != nil {
		return "", "", 0, store.validateErr
	}
	return store.userID, "token-id", time.Now().Add(time.Hour).Unix(), nil
}

func (store *stubRefreshStore) Revoke(ctx context.Context, tokenID string) error {
	return store.revokeErr
}

func newTestServerConfig() ServerConfig {
	return ServerConfig{
		GoogleWebClientID: "client-id",
		SigningKey:        []byte("secret-key-1234567890"),
		Issuer:            "test-issuer",
		SessionCookieName: "labcommons_session",
		RefreshCookieName: "labcommons_refresh",
		SessionTTL:        time.Minute,
		RefreshTTL:        15 * time.Minute,
		NonceTTL:          time.Minute,
		SameSiteMode:      http.SameSiteStrictMode,
		AllowInsecureHTTP: true,
		AdminEmails:       []string{"Admin@Example.com"},
	}
}
