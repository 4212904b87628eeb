package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-dashboard/api"
	"library-dashboard/session"
)

// fakeLibrary is a minimal stateful stand-in for the backend. Loans share
// their book's id: the real backend resolves "the active loan for this user
// and book" and holds at most one per user and title.
type fakeLibrary struct {
	mu    sync.Mutex
	books []api.Book
	loans []api.Loan

	catalogFetches int
	loanFetches    int
	borrowCalls    int
	returnCalls    int
	deleteCalls    int

	rejectBorrowWith string
	borrowStarted    chan struct{}
	borrowRelease    chan struct{}
}

func (f *fakeLibrary) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /book", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.catalogFetches++
		json.NewEncoder(w).Encode(f.books)
	})

	mux.HandleFunc("GET /borrow/my-borrows", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.loanFetches++
		json.NewEncoder(w).Encode(f.loans)
	})

	mux.HandleFunc("POST /borrow", func(w http.ResponseWriter, r *http.Request) {
		if f.borrowStarted != nil {
			f.borrowStarted <- struct{}{}
			<-f.borrowRelease
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.borrowCalls++
		if f.rejectBorrowWith != "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"message": f.rejectBorrowWith})
			return
		}
		var body struct {
			BookID int64 `json:"bookId"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		for i := range f.books {
			if f.books[i].ID == body.BookID {
				f.books[i].Borrowed++
				f.loans = append(f.loans, api.Loan{ID: body.BookID, Title: f.books[i].Title, BorrowDate: time.Now()})
				json.NewEncoder(w).Encode(api.MessageResponse{Message: "Book borrowed successfully"})
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"message": "Book not found"})
	})

	mux.HandleFunc("POST /borrow/return", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.returnCalls++
		var body struct {
			BookID int64 `json:"bookId"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		for i, loan := range f.loans {
			if loan.ID == body.BookID {
				f.loans = append(f.loans[:i], f.loans[i+1:]...)
				for j := range f.books {
					if f.books[j].ID == body.BookID {
						f.books[j].Borrowed--
					}
				}
				json.NewEncoder(w).Encode(api.MessageResponse{Message: "Book returned successfully"})
				return
			}
		}
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"message": "No active borrow for this book"})
	})

	mux.HandleFunc("POST /book", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var input api.BookInput
		json.NewDecoder(r.Body).Decode(&input)
		f.books = append(f.books, api.Book{
			ID:          int64(len(f.books) + 1),
			Title:       input.Title,
			Author:      input.Author,
			Genre:       input.Genre,
			TotalCopies: input.TotalCopies,
		})
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("PUT /book/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		var input api.BookInput
		json.NewDecoder(r.Body).Decode(&input)
		for i := range f.books {
			if f.books[i].ID == id {
				f.books[i].Title = input.Title
				f.books[i].Author = input.Author
				f.books[i].Genre = input.Genre
				f.books[i].TotalCopies = input.TotalCopies
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})

	mux.HandleFunc("DELETE /book/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.deleteCalls++
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		for i := range f.books {
			if f.books[i].ID == id {
				f.books = append(f.books[:i], f.books[i+1:]...)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})

	return mux
}

type recordingNotifier struct {
	mu        sync.Mutex
	successes []string
	failures  []string
}

func (n *recordingNotifier) Success(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successes = append(n.successes, msg)
}

func (n *recordingNotifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, msg)
}

func newTestService(t *testing.T, lib *fakeLibrary) (*Service, *recordingNotifier) {
	t.Helper()
	srv := httptest.NewServer(lib.handler())
	t.Cleanup(srv.Close)

	store := session.NewMemoryStore()
	require.NoError(t, store.Save(&session.Session{
		Token: "tok",
		User:  session.User{ID: 1, Name: "Alice", Role: session.RoleUser},
	}))

	notifier := &recordingNotifier{}
	return NewService(api.NewClient(srv.URL, store), notifier), notifier
}

func catalog() []api.Book {
	return []api.Book{
		{ID: 7, Title: "1984", Author: "George Orwell", Genre: "Dystopian", TotalCopies: 2, Borrowed: 0},
		{ID: 8, Title: "Dune", Author: "Frank Herbert", Genre: "Sci-Fi", TotalCopies: 1, Borrowed: 0},
	}
}

func TestBorrowRefetchesBothViews(t *testing.T) {
	lib := &fakeLibrary{books: catalog()}
	svc, notifier := newTestService(t, lib)

	view, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	booksBefore, loansBefore := lib.catalogFetches, lib.loanFetches

	updated, err := svc.Borrow(context.Background(), view, 7)
	require.NoError(t, err)

	// Both views were refetched before the flow reported completion.
	assert.Equal(t, booksBefore+1, lib.catalogFetches)
	assert.Equal(t, loansBefore+1, lib.loanFetches)

	book, ok := updated.FindBook(7)
	require.True(t, ok)
	assert.Equal(t, 1, book.Borrowed)
	assert.Equal(t, 1, book.AvailableCopies())
	require.Len(t, updated.Loans, 1)
	assert.Equal(t, "1984", updated.Loans[0].Title)

	assert.Equal(t, []string{"Book borrowed successfully"}, notifier.successes)
}

// Book 7 with totalCopies 2 and borrowed 2 must be refused locally, before
// any request goes out.
func TestBorrowRefusedAtZeroAvailable(t *testing.T) {
	lib := &fakeLibrary{books: []api.Book{
		{ID: 7, Title: "1984", Author: "George Orwell", TotalCopies: 2, Borrowed: 2},
	}}
	svc, notifier := newTestService(t, lib)

	view, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	borrowsBefore := lib.borrowCalls

	updated, err := svc.Borrow(context.Background(), view, 7)
	assert.ErrorIs(t, err, ErrNoCopies)
	assert.Equal(t, borrowsBefore, lib.borrowCalls, "no request may be issued")
	assert.Equal(t, view, updated, "view must be unchanged")
	require.Len(t, notifier.failures, 1)
	assert.Contains(t, notifier.failures[0], "1984")
}

func TestBorrowUnknownIDRefusedLocally(t *testing.T) {
	lib := &fakeLibrary{books: catalog()}
	svc, notifier := newTestService(t, lib)

	view, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	borrowsBefore := lib.borrowCalls

	updated, err := svc.Borrow(context.Background(), view, 999)
	assert.ErrorIs(t, err, ErrBookNotFound)
	assert.Equal(t, borrowsBefore, lib.borrowCalls, "no request may be issued")
	assert.Equal(t, view, updated, "view must be unchanged")
	require.Len(t, notifier.failures, 1)
	assert.Contains(t, notifier.failures[0], "999")
}

func TestBorrowRejectionLeavesViewUnchanged(t *testing.T) {
	lib := &fakeLibrary{books: catalog(), rejectBorrowWith: "No copies available"}
	svc, notifier := newTestService(t, lib)

	view, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	updated, err := svc.Borrow(context.Background(), view, 7)
	require.Error(t, err)
	assert.Equal(t, view, updated)
	assert.Equal(t, []string{"No copies available"}, notifier.failures, "backend message surfaced verbatim")
	assert.Empty(t, notifier.successes)
}

func TestReturnRemovesLoanAndDecrementsBorrowed(t *testing.T) {
	lib := &fakeLibrary{books: catalog()}
	svc, _ := newTestService(t, lib)

	view, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	view, err = svc.Borrow(context.Background(), view, 7)
	require.NoError(t, err)
	require.Len(t, view.Loans, 1)

	updated, err := svc.Return(context.Background(), view, 7)
	require.NoError(t, err)

	assert.Empty(t, updated.Loans, "loan list must no longer contain book 7")
	book, ok := updated.FindBook(7)
	require.True(t, ok)
	assert.Equal(t, 0, book.Borrowed, "borrowed count decreases on refetch")
}

func TestAdminMutationsRefetchCatalogOnly(t *testing.T) {
	lib := &fakeLibrary{books: catalog()}
	svc, notifier := newTestService(t, lib)

	view, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	loansBefore := lib.loanFetches

	view, err = svc.AddBook(context.Background(), view, api.BookInput{
		Title: "Emma", Author: "Jane Austen", Genre: "Classic", TotalCopies: 2,
	})
	require.NoError(t, err)
	assert.Len(t, view.Books, 3)

	view, err = svc.UpdateBook(context.Background(), view, 8, api.BookInput{
		Title: "Dune Messiah", Author: "Frank Herbert", Genre: "Sci-Fi", TotalCopies: 1,
	})
	require.NoError(t, err)
	book, _ := view.FindBook(8)
	assert.Equal(t, "Dune Messiah", book.Title)

	view, err = svc.DeleteBook(context.Background(), view, 8, func() bool { return true })
	require.NoError(t, err)
	_, found := view.FindBook(8)
	assert.False(t, found)

	assert.Equal(t, loansBefore, lib.loanFetches, "loans are irrelevant to admin mutations")
	assert.Equal(t, []string{"Book added successfully", "Book updated successfully", "Book deleted successfully"}, notifier.successes)
}

func TestDeleteDeclinedIssuesNoRequest(t *testing.T) {
	lib := &fakeLibrary{books: catalog()}
	svc, _ := newTestService(t, lib)

	view, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	updated, err := svc.DeleteBook(context.Background(), view, 7, func() bool { return false })
	require.NoError(t, err)
	assert.Zero(t, lib.deleteCalls, "declining the confirmation must not issue the request")
	assert.Equal(t, view, updated)
}

func TestDuplicateSubmissionRefused(t *testing.T) {
	lib := &fakeLibrary{
		books:         catalog(),
		borrowStarted: make(chan struct{}),
		borrowRelease: make(chan struct{}),
	}
	svc, notifier := newTestService(t, lib)

	view, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Borrow(context.Background(), view, 7)
		done <- err
	}()

	<-lib.borrowStarted // first borrow is suspended on the network

	_, err = svc.Borrow(context.Background(), view, 8)
	assert.ErrorIs(t, err, ErrMutationInFlight)

	close(lib.borrowRelease)
	require.NoError(t, <-done)

	require.NotEmpty(t, notifier.failures)
	assert.Contains(t, notifier.failures[0], "previous action")
}

func TestInvalidatedSessionNotDoubleNotified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := session.NewMemoryStore()
	require.NoError(t, store.Save(&session.Session{
		Token: "tok-stale",
		User:  session.User{ID: 1, Name: "Alice", Role: session.RoleUser},
	}))

	client := api.NewClient(srv.URL, store)
	clientNotices := 0
	client.OnSessionInvalidated(func() { clientNotices++ })

	notifier := &recordingNotifier{}
	svc := NewService(client, notifier)

	view := View{Books: catalog()}
	updated, err := svc.Borrow(context.Background(), view, 7)
	assert.ErrorIs(t, err, api.ErrSessionInvalidated)
	assert.Equal(t, view, updated)
	assert.Equal(t, 1, clientNotices, "the client raises the expiry notice")
	assert.Empty(t, notifier.failures, "the flow must not raise a second notice")
}

func TestFallbackMessageWhenBackendSilent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	store := session.NewMemoryStore()
	require.NoError(t, store.Save(&session.Session{
		Token: "tok",
		User:  session.User{ID: 1, Name: "Alice", Role: session.RoleUser},
	}))

	notifier := &recordingNotifier{}
	svc := NewService(api.NewClient(srv.URL, store), notifier)

	view := View{Books: catalog()}
	_, err := svc.Return(context.Background(), view, 7)
	require.Error(t, err)
	require.Len(t, notifier.failures, 1)
	assert.Equal(t, "Error returning book", notifier.failures[0])
}

func TestTransportFailureMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	store := session.NewMemoryStore()
	require.NoError(t, store.Save(&session.Session{
		Token: "tok",
		User:  session.User{ID: 1, Name: "Alice", Role: session.RoleUser},
	}))

	notifier := &recordingNotifier{}
	svc := NewService(api.NewClient(srv.URL, store), notifier)

	view := View{Books: catalog()}
	updated, err := svc.Borrow(context.Background(), view, 7)
	require.Error(t, err)
	assert.Equal(t, view, updated)
	require.Len(t, notifier.failures, 1)
	assert.True(t, strings.Contains(notifier.failures[0], "Cannot reach"), "connectivity notice expected, got %q", notifier.failures[0])
}

func TestFindBook(t *testing.T) {
	view := View{Books: catalog()}
	book, ok := view.FindBook(7)
	assert.True(t, ok)
	assert.Equal(t, "1984", book.Title)
	_, ok = view.FindBook(99)
	assert.False(t, ok)
}
