package workplace

import (
	"context"
	"strings"
)

const (
	LoginPath = "/login"
	HomePath  = "/"
)

// Decision tells a view whether to render or where to redirect.
type Decision struct {
	Render     bool
	RedirectTo string
}

// Protected renders for signed-in users and sends everyone else to the login
// view. It waits for the session to settle so nothing flashes.
func Protected(ctx context.Context, session *SessionStore) (Decision, error) {
	if err := session.WaitSettled(ctx); err != nil {
		return Decision{}, err
	}
	if !session.Snapshot().Authenticated() {
		return Decision{RedirectTo: LoginPath}, nil
	}
	return Decision{Render: true}, nil
}

// PublicOnly renders login and registration for signed-out users and sends
// signed-in users home.
func PublicOnly(ctx context.Context, session *SessionStore) (Decision, error) {
	if err := session.WaitSettled(ctx); err != nil {
		return Decision{}, err
	}
	if session.Snapshot().Authenticated() {
		return Decision{RedirectTo: HomePath}, nil
	}
	return Decision{Render: true}, nil
}

// Guard decides access to a route.
type Guard func(ctx context.Context, session *SessionStore) (Decision, error)

// Router maps route paths to guards. Paths without an explicit guard are
// protected.
type Router struct {
	session *SessionStore
	routes  map[string]Guard
}

func NewRouter(session *SessionStore) *Router {
	return &Router{
		session: session,
		routes: map[string]Guard{
			LoginPath:   PublicOnly,
			"/register": PublicOnly,
		},
	}
}

// Handle sets the guard for path.
func (r *Router) Handle(path string, guard Guard) {
	r.routes[normalizePath(path)] = guard
}

// Resolve returns the decision for path.
func (r *Router) Resolve(ctx context.Context, path string) (Decision, error) {
	guard, ok := r.routes[normalizePath(path)]
	if !ok {
		guard = Protected
	}
	return guard(ctx, r.session)
}

func normalizePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		return HomePath
	}
	return path
}
