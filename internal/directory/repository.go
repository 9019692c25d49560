package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tyemirov/labcommons/internal/authkit"
	"github.com/tyemirov/labcommons/pkg/authstate"
	"gorm.io/gorm"
)

var (
	// ErrProfileNotFound indicates that no profile matched the id.
	ErrProfileNotFound = errors.New("directory.profile_not_found")
	// ErrNotFound indicates that the requested listing, post, or project does not exist.
	ErrNotFound = errors.New("directory.not_found")
	// ErrAlreadyReviewed is returned when a decision targets a listing that left the pending state.
	ErrAlreadyReviewed = errors.New("directory.already_reviewed")
	// ErrAlreadySubscribed is returned for a duplicate newsletter address.
	ErrAlreadySubscribed = errors.New("directory.already_subscribed")
	// ErrUnknownKind is returned for a listing kind other than equipment or projects.
	ErrUnknownKind = errors.New("directory.unknown_kind")
	// ErrUnknownDecision is returned for a decision other than approved or rejected.
	ErrUnknownDecision = errors.New("directory.unknown_decision")

	errMissingDatabase = errors.New("directory.missing_database")
)

// Repository persists directory records through GORM.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository migrates the directory tables and returns a repository.
func NewRepository(ctx context.Context, db *gorm.DB) (*Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("directory.new_repository: %w", errMissingDatabase)
	}
	if err := db.WithContext(ctx).AutoMigrate(
		&Profile{},
		&credentialRecord{},
		&Equipment{},
		&Project{},
		&ProjectApplication{},
		&ForumPost{},
		&ForumComment{},
		&NewsletterSubscription{},
	); err != nil {
		return nil, fmt.Errorf("directory.migrate: %w", err)
	}
	return &Repository{db: db, now: time.Now}, nil
}

func newID() string {
	return uuid.NewString()
}

// FindProfile loads a profile by user id.
func (repository *Repository) FindProfile(ctx context.Context, userID string) (Profile, error) {
	var profile Profile
	err := repository.db.WithContext(ctx).Where("id = ?", userID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("directory.find_profile: %w", err)
	}
	return profile, nil
}

// CreateProfile inserts a profile. Missing ids are generated.
func (repository *Repository) CreateProfile(ctx context.Context, profile Profile) (Profile, error) {
	if profile.ID == "" {
		profile.ID = newID()
	}
	if profile.Role == "" {
		profile.Role = authkit.RoleMember
	}
	if err := repository.db.WithContext(ctx).Create(&profile).Error; err != nil {
		return Profile{}, fmt.Errorf("directory.create_profile: %w", err)
	}
	return profile, nil
}

// UpdateProfile applies the non-nil fields of patch. Role is never changed here.
func (repository *Repository) UpdateProfile(ctx context.Context, userID string, patch authstate.ProfilePatch) (Profile, error) {
	updates := patchColumns(patch)
	if len(updates) > 0 {
		updates["updated_at"] = repository.now().UTC()
		result := repository.db.WithContext(ctx).Model(&Profile{}).Where("id = ?", userID).Updates(updates)
		if result.Error != nil {
			return Profile{}, fmt.Errorf("directory.update_profile: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return Profile{}, ErrProfileNotFound
		}
	}
	return repository.FindProfile(ctx, userID)
}

func patchColumns(patch authstate.ProfilePatch) map[string]interface{} {
	updates := make(map[string]interface{})
	columns := []struct {
		name  string
		value *string
	}{
		{"username", patch.Username},
		{"full_name", patch.FullName},
		{"institution", patch.Institution},
		{"university", patch.University},
		{"avatar_url", patch.AvatarURL},
		{"bio", patch.Bio},
		{"research_interests", patch.ResearchInterests},
		{"orcid", patch.ORCID},
		{"lattes_url", patch.LattesURL},
		{"linkedin_url", patch.LinkedInURL},
	}
	for _, column := range columns {
		if column.value != nil {
			updates[column.name] = strings.TrimSpace(*column.value)
		}
	}
	return updates
}

// AsAuthState converts the stored profile into the client-side shape.
func (profile Profile) AsAuthState() authstate.Profile {
	return authstate.Profile{
		UserID:            profile.ID,
		Username:          profile.Username,
		FullName:          profile.FullName,
		Institution:       profile.Institution,
		University:        profile.University,
		Role:              profile.Role,
		AvatarURL:         profile.AvatarURL,
		Bio:               profile.Bio,
		ResearchInterests: profile.ResearchInterests,
		ORCID:             profile.ORCID,
		LattesURL:         profile.LattesURL,
		LinkedInURL:       profile.LinkedInURL,
		UpdatedAt:         profile.UpdatedAt,
	}
}

// CreateAccount stores the credential and its profile in one transaction.
func (repository *Repository) CreateAccount(ctx context.Context, registration authkit.Registration) (authkit.Account, error) {
	email := authkit.NormalizeEmail(registration.Email)
	userID := newID()
	err := repository.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var existing int64
		if err := transaction.Model(&credentialRecord{}).Where("email = ?", email).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return authkit.ErrAccountExists
		}
		if err := transaction.Create(&credentialRecord{UserID: userID, Email: email, PasswordHash: registration.PasswordHash}).Error; err != nil {
			return err
		}
		return transaction.Create(&Profile{
			ID:          userID,
			Username:    registration.Username,
			FullName:    registration.FullName,
			Institution: registration.Institution,
			Role:        roleOrMember(registration.Role),
		}).Error
	})
	if errors.Is(err, authkit.ErrAccountExists) {
		return authkit.Account{}, authkit.ErrAccountExists
	}
	if err != nil {
		return authkit.Account{}, fmt.Errorf("directory.create_account: %w", err)
	}
	return authkit.Account{UserID: userID, Email: email, Roles: []string{roleOrMember(registration.Role)}}, nil
}

// FindAccountByEmail resolves the credential for a sign-in.
func (repository *Repository) FindAccountByEmail(ctx context.Context, email string) (authkit.Account, string, error) {
	var credential credentialRecord
	err := repository.db.WithContext(ctx).Where("email = ?", authkit.NormalizeEmail(email)).Take(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return authkit.Account{}, "", authkit.ErrAccountNotFound
	}
	if err != nil {
		return authkit.Account{}, "", fmt.Errorf("directory.find_account_by_email: %w", err)
	}
	account, accountErr := repository.accountFor(ctx, credential)
	if accountErr != nil {
		return authkit.Account{}, "", accountErr
	}
	return account, credential.PasswordHash, nil
}

// FindAccount resolves an account by user id.
func (repository *Repository) FindAccount(ctx context.Context, userID string) (authkit.Account, error) {
	var credential credentialRecord
	err := repository.db.WithContext(ctx).Where("user_id = ?", userID).Take(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return authkit.Account{}, authkit.ErrAccountNotFound
	}
	if err != nil {
		return authkit.Account{}, fmt.Errorf("directory.find_account: %w", err)
	}
	return repository.accountFor(ctx, credential)
}

// UpsertGoogleAccount links a Google subject to an account, creating one on first sign-in.
// An existing password account with the same email is linked rather than duplicated.
func (repository *Repository) UpsertGoogleAccount(ctx context.Context, identity authkit.GoogleIdentity, role string) (authkit.Account, error) {
	email := authkit.NormalizeEmail(identity.Email)
	subject := identity.Subject
	var credential credentialRecord
	err := repository.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		findErr := transaction.
			Where("google_sub = ?", subject).Or("email = ?", email).
			Take(&credential).Error
		if findErr == nil {
			if credential.GoogleSub == nil {
				credential.GoogleSub = &subject
				return transaction.Model(&credentialRecord{}).Where("user_id = ?", credential.UserID).Update("google_sub", subject).Error
			}
			return nil
		}
		if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return findErr
		}
		credential = credentialRecord{UserID: newID(), Email: email, GoogleSub: &subject}
		if err := transaction.Create(&credential).Error; err != nil {
			return err
		}
		return transaction.Create(&Profile{
			ID:       credential.UserID,
			Username: strings.Split(email, "@")[0],
			FullName: identity.DisplayName,
			Role:     roleOrMember(role),
		}).Error
	})
	if err != nil {
		return authkit.Account{}, fmt.Errorf("directory.upsert_google_account: %w", err)
	}
	return repository.accountFor(ctx, credential)
}

func (repository *Repository) accountFor(ctx context.Context, credential credentialRecord) (authkit.Account, error) {
	account := authkit.Account{UserID: credential.UserID, Email: credential.Email, Roles: []string{authkit.RoleMember}}
	profile, err := repository.FindProfile(ctx, credential.UserID)
	if errors.Is(err, ErrProfileNotFound) {
		return account, nil
	}
	if err != nil {
		return authkit.Account{}, err
	}
	account.Roles = []string{roleOrMember(profile.Role)}
	return account, nil
}

func roleOrMember(role string) string {
	if strings.TrimSpace(role) == "" {
		return authkit.RoleMember
	}
	return role
}
