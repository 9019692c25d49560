// Package tui renders the community directory in the terminal. Every view is routed
// through the route guard, so what is shown always follows the auth state store.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/tyemirov/labcommons/pkg/authstate"
	"github.com/tyemirov/labcommons/pkg/labclient"
	"github.com/tyemirov/labcommons/pkg/routeguard"
	"go.uber.org/zap"
)

// View paths rendered by the browser.
const (
	PathHome      = "/"
	PathEquipment = "/equipment"
	PathProjects  = "/projects"
	PathForum     = "/forum"
	PathProfile   = "/profile"
	PathAdmin     = "/admin"

	maxRedirectHops = 4
)

var viewOrder = []string{PathEquipment, PathProjects, PathForum, PathProfile, PathAdmin}

var viewTitles = map[string]string{
	PathEquipment: "Equipment",
	PathProjects:  "Projects",
	PathForum:     "Forum",
	PathProfile:   "Profile",
	PathAdmin:     "Admin",
}

var errMissingCollaborators = errors.New("tui.missing_collaborators")

// AuthStore is the slice of *authstate.Store the browser drives.
type AuthStore interface {
	routeguard.StateSource
	SignIn(ctx context.Context, credentials authstate.Credentials) (*authstate.Session, error)
	SignOut(ctx context.Context) error
	Revalidate(ctx context.Context, reason string) error
}

// Directory loads listings; *labclient.Client satisfies it.
type Directory interface {
	ListEquipment(ctx context.Context, query labclient.ListingQuery) ([]labclient.Equipment, error)
	ListProjects(ctx context.Context, query labclient.ListingQuery) ([]labclient.Project, error)
	ListPosts(ctx context.Context, search string) ([]labclient.ForumPost, error)
	ListPending(ctx context.Context) (labclient.PendingListings, error)
	Decide(ctx context.Context, kind string, listingID string, decision string, notes string) error
	Stats(ctx context.Context) (labclient.Stats, error)
}

// Config wires a Model.
type Config struct {
	Context           context.Context
	Store             AuthStore
	Directory         Directory
	Guard             *routeguard.Guard
	CredentialChanges <-chan struct{}
	Logger            *zap.Logger
	StartPath         string
}

type authStateMsg struct {
	state authstate.AuthState
}

type credentialsChangedMsg struct{}

type revalidatedMsg struct {
	reason string
	err    error
}

type viewLoadedMsg struct {
	path      string
	equipment []labclient.Equipment
	projects  []labclient.Project
	posts     []labclient.ForumPost
	pending   labclient.PendingListings
	stats     *labclient.Stats
	err       error
}

type signInResultMsg struct {
	err error
}

type signOutResultMsg struct {
	err error
}

type decisionResultMsg struct {
	name     string
	decision string
	err      error
}

// pendingItem flattens pending equipment and projects into one reviewable list.
type pendingItem struct {
	kind        string
	id          string
	name        string
	institution string
}

// Model is the bubbletea model for the browse command.
type Model struct {
	ctx               context.Context
	store             AuthStore
	directory         Directory
	guard             *routeguard.Guard
	logger            *zap.Logger
	keys              KeyMap
	states            <-chan authstate.AuthState
	credentialChanges <-chan struct{}

	state   authstate.AuthState
	path    string
	outcome routeguard.Outcome

	spinner   spinner.Model
	email     textinput.Model
	password  textinput.Model
	signingIn bool

	loading    bool
	loadedPath string
	loadedUser string
	equipment  []labclient.Equipment
	projects   []labclient.Project
	posts      []labclient.ForumPost
	pending    []pendingItem
	stats      *labclient.Stats
	cursor     int

	status string
	err    error
	width  int
}

// NewModel subscribes to the store and evaluates the start path against the initial state.
func NewModel(configuration Config) (Model, error) {
	if configuration.Store == nil || configuration.Directory == nil {
		return Model{}, fmt.Errorf("tui.new_model: %w", errMissingCollaborators)
	}
	ctx := configuration.Context
	if ctx == nil {
		ctx = context.Background()
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	guard := configuration.Guard
	if guard == nil {
		guard = routeguard.New(routeguard.Config{}, nil)
	}
	startPath := strings.TrimSpace(configuration.StartPath)
	if startPath == "" {
		startPath = PathEquipment
	}

	activity := spinner.New()
	activity.Spinner = spinner.Dot
	activity.Style = statusStyle

	email := textinput.New()
	email.Placeholder = "email@institution.edu"
	email.Prompt = "Email:    "
	email.CharLimit = 254
	password := textinput.New()
	password.Placeholder = "password"
	password.Prompt = "Password: "
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'

	model := Model{
		ctx:               ctx,
		store:             configuration.Store,
		directory:         configuration.Directory,
		guard:             guard,
		logger:            logger,
		keys:              DefaultKeyMap,
		states:            configuration.Store.Watch(ctx),
		credentialChanges: configuration.CredentialChanges,
		state:             authstate.AuthState{IsLoading: true},
		spinner:           activity,
		email:             email,
		password:          password,
	}
	model, _ = model.navigate(startPath)
	return model, nil
}

// Init starts the spinner and the state and credential listeners.
func (model Model) Init() tea.Cmd {
	return tea.Batch(
		model.spinner.Tick,
		listenForState(model.states),
		listenForCredentialChange(model.credentialChanges),
	)
}

func listenForState(states <-chan authstate.AuthState) tea.Cmd {
	if states == nil {
		return nil
	}
	return func() tea.Msg {
		state, ok := <-states
		if !ok {
			return nil
		}
		return authStateMsg{state: state}
	}
}

func listenForCredentialChange(changes <-chan struct{}) tea.Cmd {
	if changes == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return credentialsChangedMsg{}
	}
}

// Update routes messages. Auth state changes re-run the guard for the current path.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.WindowSizeMsg:
		model.width = message.Width
		return model, nil

	case spinner.TickMsg:
		var command tea.Cmd
		model.spinner, command = model.spinner.Update(message)
		return model, command

	case authStateMsg:
		model.state = message.state
		var command tea.Cmd
		if model.onSignInView() && model.state.IsInitialized && model.state.User != nil {
			model.signingIn = false
			model.password.SetValue("")
			model, command = model.navigate(model.guard.ReturnPath(model.path))
		} else {
			model, command = model.navigate(model.path)
		}
		return model, tea.Batch(command, listenForState(model.states))

	case tea.FocusMsg:
		return model, model.revalidate("focus")

	case credentialsChangedMsg:
		return model, tea.Batch(model.revalidate("storage"), listenForCredentialChange(model.credentialChanges))

	case revalidatedMsg:
		if message.err != nil {
			model.err = message.err
		}
		return model, nil

	case viewLoadedMsg:
		if message.path != routePath(model.path) {
			return model, nil
		}
		model.loading = false
		model.err = message.err
		if message.err != nil {
			model.loadedPath = ""
			return model, nil
		}
		model.equipment = message.equipment
		model.projects = message.projects
		model.posts = message.posts
		model.pending = flattenPending(message.pending)
		model.stats = message.stats
		model.cursor = clampCursor(model.cursor, model.itemCount())
		return model, nil

	case signInResultMsg:
		if message.err != nil {
			model.signingIn = false
			model.err = message.err
			model.logger.Info("sign in rejected", zap.String("code", "tui.sign_in.failed"), zap.Error(message.err))
		}
		return model, nil

	case signOutResultMsg:
		if message.err != nil {
			model.err = message.err
			return model, nil
		}
		model.status = "Signed out"
		return model, nil

	case decisionResultMsg:
		if message.err != nil {
			model.err = message.err
			return model, nil
		}
		model.status = fmt.Sprintf("%s %s", message.name, message.decision)
		model.loadedPath = ""
		return model.navigate(model.path)

	case tea.KeyMsg:
		if model.onSignInView() && model.outcome.Decision == routeguard.Allowed {
			return model.updateSignIn(message)
		}
		return model.updateBrowse(message)
	}
	return model, nil
}

func (model Model) updateBrowse(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		return model, tea.Quit
	case key.Matches(message, model.keys.Equipment):
		return model.navigate(PathEquipment)
	case key.Matches(message, model.keys.Projects):
		return model.navigate(PathProjects)
	case key.Matches(message, model.keys.Forum):
		return model.navigate(PathForum)
	case key.Matches(message, model.keys.Profile):
		return model.navigate(PathProfile)
	case key.Matches(message, model.keys.Admin):
		return model.navigate(PathAdmin)
	case key.Matches(message, model.keys.NextView):
		return model.navigate(adjacentView(routePath(model.path), 1))
	case key.Matches(message, model.keys.PrevView):
		return model.navigate(adjacentView(routePath(model.path), -1))
	case key.Matches(message, model.keys.Up):
		model.cursor = clampCursor(model.cursor-1, model.itemCount())
		return model, nil
	case key.Matches(message, model.keys.Down):
		model.cursor = clampCursor(model.cursor+1, model.itemCount())
		return model, nil
	case key.Matches(message, model.keys.Reload):
		model.loadedPath = ""
		return model.navigate(model.path)
	case key.Matches(message, model.keys.SignIn):
		if model.state.User != nil {
			return model, nil
		}
		return model.navigate(model.guard.SignInURL(routePath(model.path)))
	case key.Matches(message, model.keys.SignOut):
		if model.state.User == nil {
			return model, nil
		}
		store, ctx := model.store, model.ctx
		return model, func() tea.Msg {
			return signOutResultMsg{err: store.SignOut(ctx)}
		}
	case key.Matches(message, model.keys.Approve):
		return model.decide(statusApproved)
	case key.Matches(message, model.keys.Reject):
		return model.decide(statusRejected)
	}
	return model, nil
}

func (model Model) updateSignIn(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.ForceQuit):
		return model, tea.Quit
	case key.Matches(message, model.keys.Cancel):
		model.signingIn = false
		return model.navigate(PathHome)
	case key.Matches(message, model.keys.NextField):
		if model.email.Focused() {
			model.email.Blur()
			return model, model.password.Focus()
		}
		model.password.Blur()
		return model, model.email.Focus()
	case key.Matches(message, model.keys.Submit):
		email := strings.TrimSpace(model.email.Value())
		password := model.password.Value()
		if email == "" || password == "" || model.signingIn {
			return model, nil
		}
		model.signingIn = true
		model.err = nil
		store, ctx := model.store, model.ctx
		return model, func() tea.Msg {
			_, err := store.SignIn(ctx, authstate.Credentials{Email: email, Password: password})
			return signInResultMsg{err: err}
		}
	}
	var command tea.Cmd
	if model.email.Focused() {
		model.email, command = model.email.Update(message)
	} else {
		model.password, command = model.password.Update(message)
	}
	return model, command
}

// navigate evaluates path and follows guard redirects until a view is settled.
func (model Model) navigate(path string) (Model, tea.Cmd) {
	for hop := 0; hop < maxRedirectHops; hop++ {
		outcome := model.guard.Evaluate(model.state, path)
		model.path = path
		model.outcome = outcome
		if !outcome.Redirects() {
			break
		}
		model.logger.Debug("view redirected",
			zap.String("code", "tui.navigate.redirect"),
			zap.String("from", path),
			zap.String("to", outcome.RedirectTo),
			zap.String("decision", outcome.Decision.String()))
		path = outcome.RedirectTo
	}
	if model.outcome.Decision != routeguard.Allowed {
		return model, nil
	}
	if model.onSignInView() {
		model.password.Blur()
		return model, model.email.Focus()
	}
	if model.loadedPath == routePath(model.path) && model.loadedUser == model.state.UserID() {
		return model, nil
	}
	return model.load()
}

func (model Model) load() (Model, tea.Cmd) {
	path := routePath(model.path)
	model.loadedPath = path
	model.loadedUser = model.state.UserID()
	model.cursor = 0
	model.err = nil
	ctx, directory := model.ctx, model.directory
	switch path {
	case PathEquipment:
		model.loading = true
		return model, func() tea.Msg {
			equipment, err := directory.ListEquipment(ctx, labclient.ListingQuery{})
			return viewLoadedMsg{path: path, equipment: equipment, err: err}
		}
	case PathProjects:
		model.loading = true
		return model, func() tea.Msg {
			projects, err := directory.ListProjects(ctx, labclient.ListingQuery{})
			return viewLoadedMsg{path: path, projects: projects, err: err}
		}
	case PathForum:
		model.loading = true
		return model, func() tea.Msg {
			posts, err := directory.ListPosts(ctx, "")
			return viewLoadedMsg{path: path, posts: posts, err: err}
		}
	case PathAdmin:
		model.loading = true
		return model, func() tea.Msg {
			pending, err := directory.ListPending(ctx)
			if err != nil {
				return viewLoadedMsg{path: path, err: err}
			}
			stats, err := directory.Stats(ctx)
			if err != nil {
				return viewLoadedMsg{path: path, err: err}
			}
			return viewLoadedMsg{path: path, pending: pending, stats: &stats}
		}
	}
	model.loading = false
	return model, nil
}

const (
	statusApproved = "approved"
	statusRejected = "rejected"
)

func (model Model) decide(decision string) (tea.Model, tea.Cmd) {
	if routePath(model.path) != PathAdmin || model.outcome.Decision != routeguard.Allowed || len(model.pending) == 0 {
		return model, nil
	}
	item := model.pending[clampCursor(model.cursor, len(model.pending))]
	ctx, directory := model.ctx, model.directory
	return model, func() tea.Msg {
		err := directory.Decide(ctx, item.kind, item.id, decision, "")
		return decisionResultMsg{name: item.name, decision: decision, err: err}
	}
}

func (model Model) revalidate(reason string) tea.Cmd {
	store, ctx := model.store, model.ctx
	return func() tea.Msg {
		return revalidatedMsg{reason: reason, err: store.Revalidate(ctx, reason)}
	}
}

func (model Model) onSignInView() bool {
	route, found := model.guard.Table().Match(model.path)
	return found && route.Name == "login"
}

func (model Model) itemCount() int {
	switch routePath(model.path) {
	case PathEquipment:
		return len(model.equipment)
	case PathProjects:
		return len(model.projects)
	case PathForum:
		return len(model.posts)
	case PathAdmin:
		return len(model.pending)
	}
	return 0
}

func flattenPending(pending labclient.PendingListings) []pendingItem {
	items := make([]pendingItem, 0, len(pending.Equipment)+len(pending.Projects))
	for _, equipment := range pending.Equipment {
		items = append(items, pendingItem{kind: "equipment", id: equipment.ID, name: equipment.Name, institution: equipment.Institution})
	}
	for _, project := range pending.Projects {
		items = append(items, pendingItem{kind: "projects", id: project.ID, name: project.Name, institution: project.Institution})
	}
	return items
}

func adjacentView(current string, step int) string {
	for index, path := range viewOrder {
		if path == current {
			return viewOrder[(index+step+len(viewOrder))%len(viewOrder)]
		}
	}
	return viewOrder[0]
}

func clampCursor(cursor int, count int) int {
	if count == 0 || cursor < 0 {
		return 0
	}
	if cursor >= count {
		return count - 1
	}
	return cursor
}

func routePath(path string) string {
	trimmed, _, _ := strings.Cut(path, "?")
	if trimmed == "" {
		return PathHome
	}
	return trimmed
}
