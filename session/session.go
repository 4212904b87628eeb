package session

// Role is the access level attached to an authenticated user. The set is
// closed; the backend never issues anything else.
type Role string

const (
	RoleUser  Role = "User"
	RoleAdmin Role = "Admin"
)

// Known reports whether r is one of the roles the backend can issue.
func (r Role) Known() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is the profile embedded in a session.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Session is the persisted proof of authentication: a bearer token plus the
// profile it was issued for. A session is either fully present or absent;
// anything partial is treated as absent.
type Session struct {
	Token string
	User  User
}

// Complete reports whether the session carries both a token and a usable
// profile, meaning one with a role the backend can actually issue. Gates and
// the API client must never act on an incomplete session.
func (s *Session) Complete() bool {
	return s != nil && s.Token != "" && s.User.Role.Known()
}

// Store owns the persisted session. Save and Clear are idempotent; Load
// returns (nil, nil) when no session exists. Implementations must make Load
// cheap and synchronous because gate decisions happen before anything renders.
type Store interface {
	Save(*Session) error
	Load() (*Session, error)
	Clear() error
}
