package api

import (
	"time"

	"library-dashboard/session"
)

// Book is a catalog entry as the backend serves it. Availability is derived,
// never stored: older deployments send `borrowed`, newer ones precompute
// `availableCopies`, so both are accepted off the wire.
type Book struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Genre       string `json:"genre"`
	TotalCopies int    `json:"totalCopies"`
	Borrowed    int    `json:"borrowed"`

	WireAvailable *int `json:"availableCopies,omitempty"`
}

// AvailableCopies returns totalCopies - borrowed (or the precomputed wire
// value when present), clamped so a display count is never negative.
func (b Book) AvailableCopies() int {
	avail := b.TotalCopies - b.Borrowed
	if b.WireAvailable != nil {
		avail = *b.WireAvailable
	}
	if avail < 0 {
		return 0
	}
	return avail
}

// Loan is one of the current user's outstanding borrows.
type Loan struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	BorrowDate time.Time `json:"borrowDate"`
}

// LoginRequest carries login credentials. Validation mirrors the login form:
// a well-formed email and a password of at least five characters.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=5"`
}

// RegisterRequest carries a new account registration.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=5"`
}

// AuthResponse is what the backend returns for login and register.
type AuthResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Token   string       `json:"token"`
	User    session.User `json:"user"`
}

// BookInput is the payload for the administrator's add/edit operations.
type BookInput struct {
	Title       string `json:"title" validate:"required"`
	Author      string `json:"author" validate:"required"`
	Genre       string `json:"genre" validate:"required"`
	TotalCopies int    `json:"totalCopies" validate:"required,min=1"`
}

type borrowRequest struct {
	BookID int64 `json:"bookId"`
}

// MessageResponse is the backend's acknowledgement for borrow and return.
type MessageResponse struct {
	Message string `json:"message"`
}
