package directory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tyemirov/labcommons/internal/authkit"
	"github.com/tyemirov/labcommons/internal/database"
	"github.com/tyemirov/labcommons/pkg/authstate"
)

func openTestRepository(t *testing.T) *Repository {
	t.Helper()
	name := strings.NewReplacer("/", "-", " ", "-").Replace(t.Name())
	gormDB, _, err := database.Open(context.Background(), "sqlite:file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	repository, err := NewRepository(context.Background(), gormDB)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	return repository
}

func stringPointer(value string) *string {
	return &value
}

func TestNewRepositoryRequiresDatabase(t *testing.T) {
	if _, err := NewRepository(context.Background(), nil); !errors.Is(err, errMissingDatabase) {
		t.Fatalf("expected errMissingDatabase, got %v", err)
	}
}

func TestCreateAccountCreatesProfileAndRejectsDuplicates(t *testing.T) {
	repository := openTestRepository(t)
	ctx := context.Background()

	account, err := repository.CreateAccount(ctx, authkit.Registration{
		Email:        "Ada@Example.com",
		PasswordHash: "hash",
		FullName:     "Ada Lovelace",
		Username:     "ada",
		Institution:  "USP",
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if account.Email != "ada@example.com" || len(account.Roles) != 1 || account.Roles[0] != authkit.RoleMember {
		t.Fatalf("unexpected account %+v", account)
	}
	profile, err := repository.FindProfile(ctx, account.UserID)
	if err != nil {
		t.Fatalf("find profile: %v", err)
	}
	if profile.Username != "ada" || profile.Institution != "USP" || profile.Role != authkit.RoleMember {
		t.Fatalf("unexpected profile %+v", profile)
	}

	if _, err := repository.CreateAccount(ctx, authkit.Registration{Email: "ADA@example.com", PasswordHash: "other"}); !errors.Is(err, authkit.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	found, passwordHash, err := repository.FindAccountByEmail(ctx, " ada@EXAMPLE.com ")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if found.UserID != account.UserID || passwordHash != "hash" {
		t.Fatalf("unexpected lookup result %+v %q", found, passwordHash)
	}
	if _, _, err := repository.FindAccountByEmail(ctx, "nobody@example.com"); !errors.Is(err, authkit.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := repository.FindAccount(ctx, "missing"); !errors.Is(err, authkit.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAccountRolesFollowProfileRole(t *testing.T) {
	repository := openTestRepository(t)
	ctx := context.Background()

	account, err := repository.CreateAccount(ctx, authkit.Registration{Email: "admin@example.com", PasswordHash: "hash", Username: "root", Role: authkit.RoleAdmin})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	reloaded, err := repository.FindAccount(ctx, account.UserID)
	if err != nil {
		t.Fatalf("find account: %v", err)
	}
	if len(reloaded.Roles) != 1 || reloaded.Roles[0] != authkit.RoleAdmin {
		t.Fatalf("expected admin role, got %+v", reloaded.Roles)
	}
}

func TestUpsertGoogleAccountLinksExistingEmail(t *testing.T) {
	repository := openTestRepository(t)
	ctx := context.Background()

	passwordAccount, err := repository.CreateAccount(ctx, authkit.Registration{Email: "grace@example.com", PasswordHash: "hash", Username: "grace"})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	linked, err := repository.UpsertGoogleAccount(ctx, authkit.GoogleIdentity{Subject: "google-1", Email: "Grace@Example.com"}, authkit.RoleMember)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if linked.UserID != passwordAccount.UserID {
		t.Fatalf("expected google sign-in to reuse %s, got %s", passwordAccount.UserID, linked.UserID)
	}

	fresh, err := repository.UpsertGoogleAccount(ctx, authkit.GoogleIdentity{Subject: "google-2", Email: "new@example.com", DisplayName: "New Person"}, authkit.RoleAdmin)
	if err != nil {
		t.Fatalf("upsert new: %v", err)
	}
	again, err := repository.UpsertGoogleAccount(ctx, authkit.GoogleIdentity{Subject: "google-2", Email: "new@example.com"}, authkit.RoleMember)
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if fresh.UserID != again.UserID {
		t.Fatalf("expected stable user id, got %s and %s", fresh.UserID, again.UserID)
	}
	profile, err := repository.FindProfile(ctx, fresh.UserID)
	if err != nil {
		t.Fatalf("find profile: %v", err)
	}
	if profile.FullName != "New Person" || profile.Username != "new" || profile.Role != authkit.RoleAdmin {
		t.Fatalf("unexpected google profile %+v", profile)
	}
}

func TestUpdateProfileAppliesOnlyPresentFields(t *testing.T) {
	repository := openTestRepository(t)
	ctx := context.Background()

	profile, err := repository.CreateProfile(ctx, Profile{Username: "marie", FullName: "Marie Curie", Institution: "Sorbonne"})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	updated, err := repository.UpdateProfile(ctx, profile.ID, authstate.ProfilePatch{Bio: stringPointer("  radioactivity  ")})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.Bio != "radioactivity" || updated.FullName != "Marie Curie" || updated.Role != authkit.RoleMember {
		t.Fatalf("unexpected profile after patch %+v", updated)
	}
	unchanged, err := repository.UpdateProfile(ctx, profile.ID, authstate.ProfilePatch{})
	if err != nil || unchanged.Bio != "radioactivity" {
		t.Fatalf("empty patch should be a read, got %+v %v", unchanged, err)
	}
	if _, err := repository.UpdateProfile(ctx, "missing", authstate.ProfilePatch{Bio: stringPointer("x")}); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
	if converted := updated.AsAuthState(); converted.UserID != profile.ID || converted.Bio != "radioactivity" {
		t.Fatalf("unexpected conversion %+v", converted)
	}
}

func TestListingsRequireApproval(t *testing.T) {
	repository := openTestRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	microscope, err := repository.SubmitEquipment(ctx, Equipment{Name: "Microscope", Type: "optics", Institution: "USP", Specs: "confocal", CreatedAt: base})
	if err != nil {
		t.Fatalf("submit equipment: %v", err)
	}
	centrifuge, err := repository.SubmitEquipment(ctx, Equipment{Name: "Centrifuge", Type: "biology", Institution: "UFRJ", CreatedAt: base.Add(time.Minute)})
	if err != nil {
		t.Fatalf("submit equipment: %v", err)
	}
	if microscope.Review.Status != StatusPending {
		t.Fatalf("expected pending, got %q", microscope.Review.Status)
	}

	listed, err := repository.ListEquipment(ctx, ListingFilter{})
	if err != nil || len(listed) != 0 {
		t.Fatalf("expected no public equipment before review, got %d (%v)", len(listed), err)
	}
	pending, err := repository.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending.Equipment) != 2 || pending.Equipment[0].ID != microscope.ID {
		t.Fatalf("expected pending oldest first, got %+v", pending.Equipment)
	}

	for _, id := range []string{microscope.ID, centrifuge.ID} {
		if err := repository.Review(ctx, KindEquipment, id, Decision{Status: StatusApproved, Notes: "ok", ReviewerID: "admin-1"}); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
	listed, err = repository.ListEquipment(ctx, ListingFilter{})
	if err != nil {
		t.Fatalf("list equipment: %v", err)
	}
	if len(listed) != 2 || listed[0].Name != "Centrifuge" || listed[1].Name != "Microscope" {
		t.Fatalf("expected approved equipment sorted by name, got %+v", listed)
	}
	if listed[1].Review.ReviewedBy != "admin-1" || listed[1].Review.AdminNotes != "ok" || listed[1].Review.ReviewedAt == nil {
		t.Fatalf("expected review stamp, got %+v", listed[1].Review)
	}

	filtered, err := repository.ListEquipment(ctx, ListingFilter{Query: "CONFOCAL"})
	if err != nil || len(filtered) != 1 || filtered[0].ID != microscope.ID {
		t.Fatalf("expected search on specs, got %+v (%v)", filtered, err)
	}
	filtered, err = repository.ListEquipment(ctx, ListingFilter{Category: "biology", Institution: "UFRJ"})
	if err != nil || len(filtered) != 1 || filtered[0].ID != centrifuge.ID {
		t.Fatalf("expected category filter, got %+v (%v)", filtered, err)
	}
}

func TestReviewErrors(t *testing.T) {
	repository := openTestRepository(t)
	ctx := context.Background()

	project, err := repository.SubmitProject(ctx, Project{Name: "Graphene", Coordinator: "Dr. Silva", Institution: "UFMG", Description: "2D materials"})
	if err != nil {
		t.Fatalf("submit project: %v", err)
	}
	rejection := Decision{Status: StatusRejected, Notes: "duplicate", ReviewerID: "admin-1"}
	if err := repository.Review(ctx, KindProject, project.ID, rejection); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := repository.Review(ctx, KindProject, project.ID, rejection); !errors.Is(err, ErrAlreadyReviewed) {
		t.Fatalf("expected ErrAlreadyReviewed, got %v", err)
	}
	if err := repository.Review(ctx, KindProject, "missing", rejection); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repository.Review(ctx, "widgets", project.ID, rejection); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if err := repository.Review(ctx, KindProject, project.ID, Decision{Status: "maybe"}); !errors.Is(err, ErrUnknownDecision) {
		t.Fatalf("expected ErrUnknownDecision, got %v", err)
	}
	projects, err := repository.ListProjects(ctx, ListingFilter{})
	if err != nil || len(projects) != 0 {
		t.Fatalf("rejected projects must stay hidden, got %+v (%v)", projects, err)
	}
}

func TestApplyToProjectRequiresApprovedProject(t *testing.T) {
	repository := openTestRepository(t)
	ctx := context.Background()

	project, err := repository.SubmitProject(ctx, Project{Name: "Quantum", Coordinator: "Dr. Lima", Institution: "UNICAMP", Description: "qubits", Vacancies: []string{"PhD", "Postdoc"}})
	if err != nil {
		t.Fatalf("submit project: %v", err)
	}
	application := ProjectApplication{ProjectID: project.ID, UserID: "user-1", Name: "Student", Email: "Student@Example.com"}
	if _, err := repository.ApplyToProject(ctx, application); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for pending project, got %v", err)
	}
	if err := repository.Review(ctx, KindProject, project.ID, Decision{Status: StatusApproved, ReviewerID: "admin-1"}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	stored, err := repository.ApplyToProject(ctx, application)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if stored.ID == "" || stored.Email != "student@example.com" {
		t.Fatalf("unexpected application %+v", stored)
	}
	projects, err := repository.ListProjects(ctx, ListingFilter{Query: "lima"})
	if err != nil || len(projects) != 1 || len(projects[0].Vacancies) != 2 {
		t.Fatalf("expected project with vacancies, got %+v (%v)", projects, err)
	}
}

func TestSearchTreatsWildcardsLiterally(t *testing.T) {
	repository := openTestRepository(t)
	ctx := context.Background()

	submitted := map[string]string{}
	for _, equipment := range []Equipment{
		{Name: "Incubator", Type: "biology", Institution: "USP", Specs: "50% humidity"},
		{Name: "Freezer", Type: "biology", Institution: "USP", Specs: "500 litres"},
		{Name: "Laser", Type: "optics", Institution: "USP", Specs: "model_a"},
		{Name: "Laser mount", Type: "optics", Institution: "USP", Specs: "modelXa"},
	} {
		created, err := repository.SubmitEquipment(ctx, equipment)
		if err != nil {
			t.Fatalf("submit equipment: %v", err)
		}
		if err := repository.Review(ctx, KindEquipment, created.ID, Decision{Status: StatusApproved, ReviewerID: "admin-1"}); err != nil {
			t.Fatalf("approve: %v", err)
		}
		submitted[created.Name] = created.ID
	}

	testCases := []struct {
		query    string
		expected string
	}{
		{query: "50%", expected: "Incubator"},
		{query: "model_a", expected: "Laser"},
	}
	for _, testCase := range testCases {
		found, err := repository.ListEquipment(ctx, ListingFilter{Query: testCase.query})
		if err != nil {
			t.Fatalf("list equipment %q: %v", testCase.query, err)
		}
		if len(found) != 1 || found[0].ID != submitted[testCase.expected] {
			t.Fatalf("query %q: expected only %s, got %+v", testCase.query, testCase.expected, found)
		}
	}

	author, err := repository.CreateProfile(ctx, Profile{Username: "barbara"})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	for _, title := range []string{"100% yield", "1000 samples"} {
		if _, err := repository.CreatePost(ctx, ForumPost{UserID: author.ID, Title: title, Content: "notes"}); err != nil {
			t.Fatalf("create post: %v", err)
		}
	}
	posts, err := repository.ListPosts(ctx, "100%")
	if err != nil || len(posts) != 1 || posts[0].Title != "100% yield" {
		t.Fatalf("expected literal percent match, got %+v (%v)", posts, err)
	}
}

func TestForumThreadOrdering(t *testing.T) {
	repository := openTestRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	author, err := repository.CreateProfile(ctx, Profile{Username: "rosalind"})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	older, err := repository.CreatePost(ctx, ForumPost{UserID: author.ID, Title: "Calibration", Content: "spectrometer drift", CreatedAt: base})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	newer, err := repository.CreatePost(ctx, ForumPost{UserID: author.ID, Title: "Funding", Content: "calls", CreatedAt: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if older.AuthorUsername != "rosalind" {
		t.Fatalf("expected author username, got %q", older.AuthorUsername)
	}

	posts, err := repository.ListPosts(ctx, "")
	if err != nil || len(posts) != 2 || posts[0].ID != newer.ID {
		t.Fatalf("expected newest first, got %+v (%v)", posts, err)
	}
	posts, err = repository.ListPosts(ctx, "DRIFT")
	if err != nil || len(posts) != 1 || posts[0].ID != older.ID {
		t.Fatalf("expected search on content, got %+v (%v)", posts, err)
	}

	for offset, content := range []string{"first", "second"} {
		if _, err := repository.AddComment(ctx, ForumComment{PostID: older.ID, UserID: author.ID, Content: content, CreatedAt: base.Add(time.Duration(offset+1) * time.Minute)}); err != nil {
			t.Fatalf("add comment: %v", err)
		}
	}
	thread, err := repository.FindThread(ctx, older.ID)
	if err != nil {
		t.Fatalf("find thread: %v", err)
	}
	if len(thread.Comments) != 2 || thread.Comments[0].Content != "first" {
		t.Fatalf("expected comments oldest first, got %+v", thread.Comments)
	}
	if _, err := repository.AddComment(ctx, ForumComment{PostID: "missing", UserID: author.ID, Content: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repository.FindThread(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscribeAndStats(t *testing.T) {
	repository := openTestRepository(t)
	ctx := context.Background()

	subscription, err := repository.Subscribe(ctx, " Reader@Example.com ")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if subscription.Email != "reader@example.com" {
		t.Fatalf("expected lowercased email, got %q", subscription.Email)
	}
	if _, err := repository.Subscribe(ctx, "READER@example.com"); !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
	}

	if _, err := repository.CreateProfile(ctx, Profile{Username: "one"}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	approved, err := repository.SubmitEquipment(ctx, Equipment{Name: "Laser"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := repository.SubmitEquipment(ctx, Equipment{Name: "Oven"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := repository.SubmitProject(ctx, Project{Name: "Study"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := repository.Review(ctx, KindEquipment, approved.ID, Decision{Status: StatusApproved, ReviewerID: "admin"}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	stats, err := repository.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	expected := Stats{Profiles: 1, PendingEquipment: 1, ApprovedEquipment: 1, PendingProjects: 1, Subscribers: 1}
	if stats != expected {
		t.Fatalf("expected %+v, got %+v", expected, stats)
	}
}
