package routeguard

import (
	"strings"

	"github.com/tyemirov/labcommons/pkg/authstate"
)

// Route binds a path pattern to its access policy. Segments starting with ':' match any value.
type Route struct {
	Name    string
	Pattern string
	Policy  Policy
}

// Table resolves request paths to routes in registration order.
type Table struct {
	routes []Route
}

// NewTable builds a table from routes.
func NewTable(routes ...Route) *Table {
	table := &Table{}
	for _, route := range routes {
		table.Add(route)
	}
	return table
}

// Add appends a route.
func (table *Table) Add(route Route) {
	table.routes = append(table.routes, route)
}

// Routes returns a copy of the registered routes.
func (table *Table) Routes() []Route {
	routes := make([]Route, len(table.routes))
	copy(routes, table.routes)
	return routes
}

// Match returns the first route whose pattern matches path. Query strings are ignored.
func (table *Table) Match(path string) (Route, bool) {
	if queryIndex := strings.IndexAny(path, "?#"); queryIndex >= 0 {
		path = path[:queryIndex]
	}
	requested := splitPath(path)
	for _, route := range table.routes {
		if patternMatches(splitPath(route.Pattern), requested) {
			return route, true
		}
	}
	return Route{}, false
}

// Params extracts ':name' segment values from path for pattern.
func Params(pattern string, path string) map[string]string {
	patternSegments := splitPath(pattern)
	pathSegments := splitPath(path)
	if !patternMatches(patternSegments, pathSegments) {
		return nil
	}
	params := make(map[string]string)
	for index, segment := range patternSegments {
		if strings.HasPrefix(segment, ":") {
			params[segment[1:]] = pathSegments[index]
		}
	}
	return params
}

func patternMatches(pattern []string, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}
	for index, segment := range pattern {
		if strings.HasPrefix(segment, ":") {
			if path[index] == "" {
				return false
			}
			continue
		}
		if segment != path[index] {
			return false
		}
	}
	return true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// DefaultTable lists the application's views.
func DefaultTable() *Table {
	public := Policy{}
	signedIn := Policy{RequiresAuth: true}
	adminOnly := Policy{RequiresAuth: true, RequiredRole: authstate.RoleAdmin}
	return NewTable(
		Route{Name: "home", Pattern: "/", Policy: public},
		Route{Name: "equipment", Pattern: "/equipment", Policy: public},
		Route{Name: "projects", Pattern: "/projects", Policy: public},
		Route{Name: "newsletter", Pattern: "/newsletter", Policy: public},
		Route{Name: "forum", Pattern: "/forum", Policy: public},
		Route{Name: "forum-new-post", Pattern: "/forum/new-post", Policy: signedIn},
		Route{Name: "forum-post", Pattern: "/forum/post/:id", Policy: public},
		Route{Name: "login", Pattern: "/login", Policy: public},
		Route{Name: "signup", Pattern: "/signup", Policy: public},
		Route{Name: "thanks", Pattern: "/thanks", Policy: public},
		Route{Name: "profile", Pattern: "/profile", Policy: signedIn},
		Route{Name: "admin", Pattern: "/admin", Policy: adminOnly},
	)
}
