// Package access decides, per navigation, whether a view may render. The
// decisions are pure functions of the session and the route: no network, no
// caching, re-evaluated on every navigation attempt. Role staleness is
// accepted here; the API client's 401 handling corrects it on the first real
// request.
package access

import "library-dashboard/session"

// Decision is the outcome of evaluating a navigation attempt.
type Decision int

const (
	// Allow renders the requested view.
	Allow Decision = iota
	// RedirectLogin sends the visitor to the login route (no session).
	RedirectLogin
	// RedirectHome sends an authenticated-but-unauthorized visitor to the
	// neutral fallback, never back to login.
	RedirectHome
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect-to-login"
	case RedirectHome:
		return "redirect-to-home"
	}
	return "unknown"
}

// Route is an entry in the navigation surface.
type Route struct {
	Name      string
	Protected bool
	// Roles this route requires when protected. Empty means any
	// authenticated user.
	Roles []session.Role
}

// The navigation surface, mirroring the dashboard's routes.
var (
	RouteLogin    = Route{Name: "login"}
	RouteRegister = Route{Name: "register"}
	RouteHome     = Route{Name: "home"}
	RouteUser     = Route{Name: "user", Protected: true, Roles: []session.Role{session.RoleUser, session.RoleAdmin}}
	RouteAdmin    = Route{Name: "admin", Protected: true, Roles: []session.Role{session.RoleAdmin}}
)

// RequireAuth is the authentication gate: anything short of a complete
// session fails closed to the login route.
func RequireAuth(sess *session.Session) Decision {
	if !sess.Complete() {
		return RedirectLogin
	}
	return Allow
}

// RequireRole is the role gate. It re-checks session presence rather than
// assuming the authentication gate ran first.
func RequireRole(sess *session.Session, roles []session.Role) Decision {
	if !sess.Complete() {
		return RedirectLogin
	}
	for _, r := range roles {
		if sess.User.Role == r {
			return Allow
		}
	}
	if len(roles) == 0 {
		return Allow
	}
	return RedirectHome
}

// Decide composes the two gates for a route. This is the single authorization
// decision used both at navigation time and for enabling role-gated actions,
// so the two can never drift.
func Decide(sess *session.Session, route Route) Decision {
	if !route.Protected {
		return Allow
	}
	if d := RequireAuth(sess); d != Allow {
		return d
	}
	return RequireRole(sess, route.Roles)
}

// Allowed is a convenience for action-time checks ("may this user see admin
// controls at all").
func Allowed(sess *session.Session, route Route) bool {
	return Decide(sess, route) == Allow
}

// LandingRoute is where a fresh login navigates to: administrators land on
// the admin panel, everyone else on the user panel.
func LandingRoute(role session.Role) Route {
	if role == session.RoleAdmin {
		return RouteAdmin
	}
	return RouteUser
}
