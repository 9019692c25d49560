package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/tyemirov/labcommons/pkg/authstate"
	"github.com/tyemirov/labcommons/pkg/labclient"
	"github.com/tyemirov/labcommons/pkg/routeguard"
	"go.uber.org/zap/zaptest"
)

type fakeStore struct {
	mutex       sync.Mutex
	signIns     []authstate.Credentials
	signInErr   error
	signOuts    int
	revalidated []string
}

// Watch returns a closed channel so state listeners finish immediately; tests deliver states directly.
func (store *fakeStore) Watch(ctx context.Context) <-chan authstate.AuthState {
	states := make(chan authstate.AuthState)
	close(states)
	return states
}

func (store *fakeStore) SignIn(ctx context.Context, credentials authstate.Credentials) (*authstate.Session, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.signIns = append(store.signIns, credentials)
	if store.signInErr != nil {
		return nil, store.signInErr
	}
	return &authstate.Session{UserID: "user-1", Email: credentials.Email}, nil
}

func (store *fakeStore) SignOut(ctx context.Context) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.signOuts++
	return nil
}

func (store *fakeStore) Revalidate(ctx context.Context, reason string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.revalidated = append(store.revalidated, reason)
	return nil
}

type fakeDirectory struct {
	mutex     sync.Mutex
	equipment []labclient.Equipment
	pending   labclient.PendingListings
	decisions [][3]string
}

func (directory *fakeDirectory) ListEquipment(ctx context.Context, query labclient.ListingQuery) ([]labclient.Equipment, error) {
	return directory.equipment, nil
}

func (directory *fakeDirectory) ListProjects(ctx context.Context, query labclient.ListingQuery) ([]labclient.Project, error) {
	return []labclient.Project{{ID: "project-1", Name: "Soil Microbiome", Area: "biology", Vacancies: []string{"PhD"}}}, nil
}

func (directory *fakeDirectory) ListPosts(ctx context.Context, search string) ([]labclient.ForumPost, error) {
	return []labclient.ForumPost{{ID: "post-1", Title: "Calibrating the confocal", AuthorUsername: "ada", CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}}, nil
}

func (directory *fakeDirectory) ListPending(ctx context.Context) (labclient.PendingListings, error) {
	return directory.pending, nil
}

func (directory *fakeDirectory) Decide(ctx context.Context, kind string, listingID string, decision string, notes string) error {
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	directory.decisions = append(directory.decisions, [3]string{kind, listingID, decision})
	return nil
}

func (directory *fakeDirectory) Stats(ctx context.Context) (labclient.Stats, error) {
	return labclient.Stats{Profiles: 3, PendingEquipment: 1}, nil
}

func newTestModel(t *testing.T, startPath string, changes <-chan struct{}) (Model, *fakeStore, *fakeDirectory) {
	t.Helper()
	store := &fakeStore{}
	directory := &fakeDirectory{
		equipment: []labclient.Equipment{{ID: "equipment-1", Name: "Confocal Microscope", Type: "microscopy", Institution: "UFMG"}},
		pending: labclient.PendingListings{
			Equipment: []labclient.Equipment{{ID: "equipment-2", Name: "Mass Spectrometer", Institution: "USP"}},
			Projects:  []labclient.Project{{ID: "project-2", Name: "Coral Genomics", Institution: "UFBA"}},
		},
	}
	model, err := NewModel(Config{
		Store:             store,
		Directory:         directory,
		Logger:            zaptest.NewLogger(t),
		StartPath:         startPath,
		CredentialChanges: changes,
	})
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	return model, store, directory
}

func update(t *testing.T, model Model, message tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, command := model.Update(message)
	next, ok := updated.(Model)
	if !ok {
		t.Fatalf("expected Model, got %T", updated)
	}
	return next, command
}

// collect runs command and any batched commands, returning the non-nil messages.
func collect(command tea.Cmd) []tea.Msg {
	if command == nil {
		return nil
	}
	message := command()
	if batch, ok := message.(tea.BatchMsg); ok {
		var messages []tea.Msg
		for _, nested := range batch {
			messages = append(messages, collect(nested)...)
		}
		return messages
	}
	if message == nil {
		return nil
	}
	return []tea.Msg{message}
}

func deliver(t *testing.T, model Model, command tea.Cmd) Model {
	t.Helper()
	for _, message := range collect(command) {
		model, _ = update(t, model, message)
	}
	return model
}

func signedOut() authStateMsg {
	return authStateMsg{state: authstate.AuthState{IsInitialized: true}}
}

func signedIn(role string) authStateMsg {
	return authStateMsg{state: authstate.AuthState{
		User:          &authstate.Session{UserID: "user-1", Email: "ada@example.com"},
		Profile:       &authstate.Profile{UserID: "user-1", Username: "ada", FullName: "Ada Lovelace", Role: role},
		IsInitialized: true,
	}}
}

func keyRune(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestNewModelRequiresCollaborators(t *testing.T) {
	if _, err := NewModel(Config{}); !errors.Is(err, errMissingCollaborators) {
		t.Fatalf("expected missing collaborators error, got %v", err)
	}
}

func TestUninitializedStateShowsSpinner(t *testing.T) {
	model, _, _ := newTestModel(t, PathAdmin, nil)

	if model.outcome.Decision != routeguard.Pending {
		t.Fatalf("expected pending before initialization, got %s", model.outcome.Decision)
	}
	if !strings.Contains(model.View(), "Checking session") {
		t.Fatalf("expected spinner text, got %q", model.View())
	}
	if model.path != PathAdmin {
		t.Fatalf("pending outcome must not redirect, got %q", model.path)
	}
}

func TestPublicViewLoadsListings(t *testing.T) {
	model, _, _ := newTestModel(t, PathEquipment, nil)

	model, command := update(t, model, signedOut())
	if !model.loading {
		t.Fatalf("expected equipment load to start")
	}
	model = deliver(t, model, command)

	view := model.View()
	if !strings.Contains(view, "Confocal Microscope") {
		t.Fatalf("expected equipment row in view, got %q", view)
	}
	if !strings.Contains(view, "signed out") {
		t.Fatalf("expected identity line, got %q", view)
	}
}

func TestSignedOutViewerIsSentToSignIn(t *testing.T) {
	model, _, _ := newTestModel(t, PathProfile, nil)

	model, _ = update(t, model, signedOut())

	if model.path != "/login?redirect=%2Fprofile" {
		t.Fatalf("expected sign-in redirect, got %q", model.path)
	}
	if !model.onSignInView() || !model.email.Focused() {
		t.Fatalf("expected focused sign-in form")
	}
	if view := model.View(); !strings.Contains(view, "continues to /profile") {
		t.Fatalf("expected return path in view, got %q", view)
	}
}

func TestSignInReturnsToRequestedView(t *testing.T) {
	model, store, _ := newTestModel(t, PathProfile, nil)
	model, _ = update(t, model, signedOut())

	model.email.SetValue("ada@example.com")
	model.password.SetValue("secret-pass")
	model, command := update(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	if !model.signingIn || command == nil {
		t.Fatalf("expected sign-in command")
	}
	model = deliver(t, model, command)
	if len(store.signIns) != 1 || store.signIns[0].Email != "ada@example.com" {
		t.Fatalf("unexpected sign-in calls %+v", store.signIns)
	}

	model, _ = update(t, model, signedIn("member"))
	if model.path != PathProfile {
		t.Fatalf("expected return to /profile, got %q", model.path)
	}
	if model.password.Value() != "" {
		t.Fatalf("expected password field cleared")
	}
	if view := model.View(); !strings.Contains(view, "Ada Lovelace") {
		t.Fatalf("expected profile view, got %q", view)
	}
}

func TestSignInFailureIsShown(t *testing.T) {
	model, store, _ := newTestModel(t, PathProfile, nil)
	store.signInErr = labclient.ErrInvalidCredentials
	model, _ = update(t, model, signedOut())

	model.email.SetValue("ada@example.com")
	model.password.SetValue("wrong")
	model, command := update(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	model = deliver(t, model, command)

	if model.signingIn {
		t.Fatalf("expected sign-in to settle after failure")
	}
	if !strings.Contains(model.View(), "invalid_credentials") {
		t.Fatalf("expected error in footer, got %q", model.View())
	}
	if !model.onSignInView() {
		t.Fatalf("expected to remain on sign-in view")
	}
}

func TestMemberIsRedirectedHomeFromAdmin(t *testing.T) {
	model, _, _ := newTestModel(t, PathAdmin, nil)

	model, _ = update(t, model, signedIn("member"))

	if model.path != PathHome {
		t.Fatalf("expected redirect home, got %q", model.path)
	}
	if !strings.Contains(model.View(), "Welcome") {
		t.Fatalf("expected home view")
	}
}

func TestAdminApprovesPendingListing(t *testing.T) {
	model, _, directory := newTestModel(t, PathAdmin, nil)

	model, command := update(t, model, signedIn(authstate.RoleAdmin))
	model = deliver(t, model, command)
	view := model.View()
	if !strings.Contains(view, "Mass Spectrometer") || !strings.Contains(view, "Coral Genomics") {
		t.Fatalf("expected pending listings, got %q", view)
	}
	if !strings.Contains(view, "profiles 3") {
		t.Fatalf("expected stats line, got %q", view)
	}

	model, _ = update(t, model, keyRune('j'))
	model, command = update(t, model, keyRune('x'))
	model, reload := update(t, model, collect(command)[0])

	if len(directory.decisions) != 1 || directory.decisions[0] != [3]string{"projects", "project-2", "rejected"} {
		t.Fatalf("unexpected decisions %+v", directory.decisions)
	}
	if reload == nil || !model.loading {
		t.Fatalf("expected pending list reload after decision")
	}
	if model.status != "Coral Genomics rejected" {
		t.Fatalf("unexpected status %q", model.status)
	}
}

func TestSignOutOnProtectedViewRedirects(t *testing.T) {
	model, store, _ := newTestModel(t, PathProfile, nil)
	model, _ = update(t, model, signedIn("member"))
	if model.path != PathProfile {
		t.Fatalf("expected profile view, got %q", model.path)
	}

	_, command := update(t, model, keyRune('o'))
	collect(command)
	if store.signOuts != 1 {
		t.Fatalf("expected sign out call")
	}

	model, _ = update(t, model, signedOut())
	if model.path != "/login?redirect=%2Fprofile" {
		t.Fatalf("expected sign-in redirect after sign out, got %q", model.path)
	}
}

func TestFocusAndCredentialChangesRevalidate(t *testing.T) {
	changes := make(chan struct{}, 1)
	model, store, _ := newTestModel(t, PathEquipment, changes)

	_, command := update(t, model, tea.FocusMsg{})
	collect(command)

	changes <- struct{}{}
	_, command = update(t, model, credentialsChangedMsg{})
	messages := collect(command)

	if len(store.revalidated) != 2 || store.revalidated[0] != "focus" || store.revalidated[1] != "storage" {
		t.Fatalf("unexpected revalidation reasons %+v", store.revalidated)
	}
	relistened := false
	for _, message := range messages {
		if _, ok := message.(credentialsChangedMsg); ok {
			relistened = true
		}
	}
	if !relistened {
		t.Fatalf("expected credential listener to be re-armed")
	}
}

func TestTabCyclesThroughGuardedViews(t *testing.T) {
	model, _, _ := newTestModel(t, PathEquipment, nil)
	model, _ = update(t, model, signedOut())

	model, _ = update(t, model, tea.KeyMsg{Type: tea.KeyTab})
	if model.path != PathProjects {
		t.Fatalf("expected projects, got %q", model.path)
	}

	model, _ = update(t, model, keyRune('1'))
	model, _ = update(t, model, tea.KeyMsg{Type: tea.KeyShiftTab})
	if model.path != "/login?redirect=%2Fadmin" {
		t.Fatalf("expected admin to require sign-in, got %q", model.path)
	}

	model, _ = update(t, model, tea.KeyMsg{Type: tea.KeyEsc})
	if model.path != PathHome {
		t.Fatalf("expected cancel to return home, got %q", model.path)
	}
}

func TestQuit(t *testing.T) {
	model, _, _ := newTestModel(t, PathEquipment, nil)

	_, command := update(t, model, keyRune('q'))
	if command == nil {
		t.Fatal("q key should return a command")
	}
	if _, isQuit := command().(tea.QuitMsg); !isQuit {
		t.Fatalf("expected QuitMsg")
	}
}
