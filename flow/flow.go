// Package flow orchestrates catalog mutations and keeps the two dependent
// views (the catalog and the current user's loans) consistent with the
// backend after each one. No view state is ever mutated optimistically: a
// flow either returns a freshly refetched view or the caller's view
// untouched.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"library-dashboard/api"
)

// Notifier surfaces user-visible notices. The CLI prints them; tests record
// them.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Sentinel failures raised before any request is issued.
var (
	// ErrNoCopies refuses a borrow when the derived available count is
	// already zero. The backend would reject it anyway; this saves the
	// round trip.
	ErrNoCopies = errors.New("no copies available")
	// ErrMutationInFlight refuses a duplicate submission while the previous
	// one is still suspended on the network. A double-submit can
	// desynchronize the availability count.
	ErrMutationInFlight = errors.New("another action is still in progress")
	// ErrBookNotFound means the given id is not in the current catalog view.
	ErrBookNotFound = errors.New("book not found")
)

// View is the replicated state the dashboard renders from.
type View struct {
	Books []api.Book
	Loans []api.Loan
}

// FindBook locates a catalog entry by id.
func (v View) FindBook(id int64) (api.Book, bool) {
	for _, b := range v.Books {
		if b.ID == id {
			return b, true
		}
	}
	return api.Book{}, false
}

// Service runs the mutation flows against the backend through the authorized
// client.
type Service struct {
	client   *api.Client
	notifier Notifier

	busy atomic.Bool
}

// NewService constructs a Service.
func NewService(client *api.Client, notifier Notifier) *Service {
	return &Service{client: client, notifier: notifier}
}

// Refresh refetches both dependent views. Both fetches must complete before
// the call returns; they run concurrently.
func (s *Service) Refresh(ctx context.Context) (View, error) {
	var view View
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		books, err := s.client.ListBooks(ctx)
		if err != nil {
			return err
		}
		view.Books = books
		return nil
	})
	g.Go(func() error {
		loans, err := s.client.MyBorrows(ctx)
		if err != nil {
			return err
		}
		view.Loans = loans
		return nil
	})
	if err := g.Wait(); err != nil {
		return View{}, err
	}
	return view, nil
}

// RefreshCatalog refetches the catalog only, keeping the loans from the
// caller's view. Administrator mutations use it because loans are irrelevant
// to them.
func (s *Service) RefreshCatalog(ctx context.Context, current View) (View, error) {
	books, err := s.client.ListBooks(ctx)
	if err != nil {
		return current, err
	}
	return View{Books: books, Loans: current.Loans}, nil
}

// Borrow borrows one copy of the book. It refuses locally when the id is not
// in the catalog view or the displayed available count is zero, and on
// success refetches catalog and loans before reporting completion.
func (s *Service) Borrow(ctx context.Context, current View, bookID int64) (View, error) {
	book, ok := current.FindBook(bookID)
	if !ok {
		s.notifier.Error(fmt.Sprintf("No book with ID %d in the catalog", bookID))
		return current, ErrBookNotFound
	}
	if book.AvailableCopies() <= 0 {
		s.notifier.Error(fmt.Sprintf("No copies of %q available", book.Title))
		return current, ErrNoCopies
	}
	return s.mutate(ctx, current, "Error borrowing book", func(ctx context.Context) (string, error) {
		resp, err := s.client.BorrowBook(ctx, bookID)
		if err != nil {
			return "", err
		}
		return resp.Message, nil
	}, s.Refresh)
}

// Return returns the caller's active loan of the book and refetches both
// views, same discipline as Borrow.
func (s *Service) Return(ctx context.Context, current View, bookID int64) (View, error) {
	return s.mutate(ctx, current, "Error returning book", func(ctx context.Context) (string, error) {
		resp, err := s.client.ReturnBook(ctx, bookID)
		if err != nil {
			return "", err
		}
		return resp.Message, nil
	}, s.Refresh)
}

// AddBook creates a catalog entry and refetches the catalog.
func (s *Service) AddBook(ctx context.Context, current View, input api.BookInput) (View, error) {
	return s.mutate(ctx, current, "Error adding book", func(ctx context.Context) (string, error) {
		if err := s.client.AddBook(ctx, input); err != nil {
			return "", err
		}
		return "Book added successfully", nil
	}, s.catalogOnly(current))
}

// UpdateBook edits a catalog entry and refetches the catalog.
func (s *Service) UpdateBook(ctx context.Context, current View, id int64, input api.BookInput) (View, error) {
	return s.mutate(ctx, current, "Error updating book", func(ctx context.Context) (string, error) {
		if err := s.client.UpdateBook(ctx, id, input); err != nil {
			return "", err
		}
		return "Book updated successfully", nil
	}, s.catalogOnly(current))
}

// DeleteBook removes a catalog entry. It never fires from a single unguarded
// step: confirm runs first, and declining leaves everything untouched.
func (s *Service) DeleteBook(ctx context.Context, current View, id int64, confirm func() bool) (View, error) {
	if confirm == nil || !confirm() {
		return current, nil
	}
	return s.mutate(ctx, current, "Error deleting book", func(ctx context.Context) (string, error) {
		if err := s.client.DeleteBook(ctx, id); err != nil {
			return "", err
		}
		return "Book deleted successfully", nil
	}, s.catalogOnly(current))
}

func (s *Service) catalogOnly(current View) func(context.Context) (View, error) {
	return func(ctx context.Context) (View, error) {
		return s.RefreshCatalog(ctx, current)
	}
}

// mutate is the shared mutation skeleton: guard against duplicate in-flight
// submissions, run the mutation, then run the reconciliation refetch. Any
// failure hands the caller's view back unchanged.
func (s *Service) mutate(ctx context.Context, current View, fallback string, op func(context.Context) (string, error), refetch func(context.Context) (View, error)) (View, error) {
	if !s.busy.CompareAndSwap(false, true) {
		s.notifier.Error("Please wait for the previous action to finish")
		return current, ErrMutationInFlight
	}
	defer s.busy.Store(false)

	msg, err := op(ctx)
	if err != nil {
		s.notifyFailure(err, fallback)
		return current, err
	}
	s.notifier.Success(msg)

	refreshed, err := refetch(ctx)
	if err != nil {
		s.notifyFailure(err, "Failed to refresh after the change")
		return current, err
	}
	return refreshed, nil
}

// notifyFailure surfaces the most specific message available. Session
// invalidation is deliberately skipped: the API client already raised that
// notice, once, when it cleared the session.
func (s *Service) notifyFailure(err error, fallback string) {
	if errors.Is(err, api.ErrSessionInvalidated) {
		return
	}
	var reqErr *api.RequestError
	if errors.As(err, &reqErr) && reqErr.Message != "" {
		s.notifier.Error(reqErr.Message)
		return
	}
	var transportErr *api.TransportError
	if errors.As(err, &transportErr) {
		s.notifier.Error("Cannot reach the library service, please try again")
		return
	}
	s.notifier.Error(fallback)
}
