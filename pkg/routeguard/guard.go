// Package routeguard decides whether a view may render for the current auth state.
package routeguard

import (
	"context"
	"net/url"
	"strings"

	"github.com/tyemirov/labcommons/pkg/authstate"
)

// Decision is the guard state for one navigation attempt.
type Decision int

// Guard decisions.
const (
	Pending Decision = iota
	DeniedUnauthenticated
	DeniedForbidden
	Allowed
)

// String returns the upper-case state name.
func (decision Decision) String() string {
	switch decision {
	case Pending:
		return "PENDING"
	case DeniedUnauthenticated:
		return "DENIED_UNAUTHENTICATED"
	case DeniedForbidden:
		return "DENIED_FORBIDDEN"
	case Allowed:
		return "ALLOWED"
	default:
		return "UNKNOWN"
	}
}

// Default paths and query parameter used for redirects.
const (
	DefaultSignInPath    = "/login"
	DefaultHomePath      = "/"
	DefaultRedirectParam = "redirect"
)

// Policy describes what a route demands of the viewer.
type Policy struct {
	RequiresAuth bool
	RequiredRole string
}

// Outcome is the result of evaluating a path against the current state.
// ReturnTo holds the originally requested path when the viewer is sent to sign in.
type Outcome struct {
	Decision   Decision
	Path       string
	RedirectTo string
	ReturnTo   string
}

// Redirects reports whether the outcome navigates away from Path.
func (outcome Outcome) Redirects() bool {
	return outcome.RedirectTo != ""
}

// Config configures redirect targets.
type Config struct {
	SignInPath    string
	HomePath      string
	RedirectParam string
}

// StateSource streams auth states; *authstate.Store satisfies it.
type StateSource interface {
	Watch(ctx context.Context) <-chan authstate.AuthState
}

// Guard evaluates navigation targets against a route table.
type Guard struct {
	config Config
	table  *Table
}

// New constructs a Guard. A nil table means DefaultTable.
func New(configuration Config, table *Table) *Guard {
	if strings.TrimSpace(configuration.SignInPath) == "" {
		configuration.SignInPath = DefaultSignInPath
	}
	if strings.TrimSpace(configuration.HomePath) == "" {
		configuration.HomePath = DefaultHomePath
	}
	if strings.TrimSpace(configuration.RedirectParam) == "" {
		configuration.RedirectParam = DefaultRedirectParam
	}
	if table == nil {
		table = DefaultTable()
	}
	return &Guard{config: configuration, table: table}
}

// Table exposes the route table the guard resolves paths against.
func (guard *Guard) Table() *Table {
	return guard.table
}

// Evaluate resolves path in the route table and applies its policy.
// Paths with no matching route are sent home.
func (guard *Guard) Evaluate(state authstate.AuthState, path string) Outcome {
	route, found := guard.table.Match(path)
	if !found {
		return Outcome{Decision: Allowed, Path: path, RedirectTo: guard.config.HomePath}
	}
	return guard.EvaluatePolicy(state, route.Policy, path)
}

// EvaluatePolicy applies policy to state for the requested path.
func (guard *Guard) EvaluatePolicy(state authstate.AuthState, policy Policy, path string) Outcome {
	if !state.IsInitialized {
		return Outcome{Decision: Pending, Path: path}
	}
	if policy.RequiresAuth && state.User == nil {
		return Outcome{
			Decision:   DeniedUnauthenticated,
			Path:       path,
			RedirectTo: guard.SignInURL(path),
			ReturnTo:   path,
		}
	}
	if policy.RequiredRole != "" {
		if state.User != nil && state.Profile == nil && state.IsLoading {
			return Outcome{Decision: Pending, Path: path}
		}
		if state.Role() != policy.RequiredRole {
			return Outcome{Decision: DeniedForbidden, Path: path, RedirectTo: guard.config.HomePath}
		}
	}
	return Outcome{Decision: Allowed, Path: path}
}

// Watch re-evaluates path on every state change and emits each distinct outcome.
// The channel closes when ctx ends or the source stops.
func (guard *Guard) Watch(ctx context.Context, source StateSource, path string) <-chan Outcome {
	outcomes := make(chan Outcome, 1)
	states := source.Watch(ctx)
	go func() {
		defer close(outcomes)
		var last Outcome
		emitted := false
		for state := range states {
			outcome := guard.Evaluate(state, path)
			if emitted && outcome == last {
				continue
			}
			last, emitted = outcome, true
			select {
			case outcomes <- outcome:
			case <-ctx.Done():
				return
			}
		}
	}()
	return outcomes
}

// SignInURL builds the sign-in location that returns to returnTo after authenticating.
func (guard *Guard) SignInURL(returnTo string) string {
	query := url.Values{}
	query.Set(guard.config.RedirectParam, returnTo)
	return guard.config.SignInPath + "?" + query.Encode()
}

// ReturnPath extracts the captured post-login path from a sign-in URL, defaulting to home.
func (guard *Guard) ReturnPath(signInURL string) string {
	parsed, err := url.Parse(signInURL)
	if err != nil {
		return guard.config.HomePath
	}
	returnTo := parsed.Query().Get(guard.config.RedirectParam)
	if returnTo == "" || !strings.HasPrefix(returnTo, "/") || strings.HasPrefix(returnTo, "//") {
		return guard.config.HomePath
	}
	return returnTo
}
