package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-dashboard/access"
	"library-dashboard/api"
	"library-dashboard/config"
	"library-dashboard/flow"
	"library-dashboard/session"
)

// errSessionEnded unwinds a panel loop after a logout or a forced session
// invalidation, so navigation lands back on the login route.
var errSessionEnded = errors.New("session ended")

// app bundles the wired core for the command handlers.
type app struct {
	cfg    *config.Config
	store  *session.SQLiteStore
	client *api.Client
	flows  *flow.Service
}

// cliNotifier prints success and failure notices to the terminal.
type cliNotifier struct{}

func (cliNotifier) Success(msg string) { fmt.Println(msg) }
func (cliNotifier) Error(msg string)   { fmt.Printf("Error: %s\n", msg) }

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	config.SetupLogging(cfg.LogLevel)

	store, err := session.NewSQLiteStore(cfg.SessionDBPath)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	client := api.NewClient(cfg.APIBaseURL, store)
	client.SetTimeout(cfg.RequestTimeout)
	client.OnSessionInvalidated(func() {
		fmt.Println("Session expired, please login again")
	})

	return &app{
		cfg:    cfg,
		store:  store,
		client: client,
		flows:  flow.NewService(client, cliNotifier{}),
	}, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

func main() {
	root := &cobra.Command{
		Use:           "lms",
		Short:         "Terminal dashboard for the library circulation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		routeCommand("login", "Sign in to your account", access.RouteLogin),
		routeCommand("register", "Create a new account", access.RouteRegister),
		routeCommand("user", "Open the user panel (browse, borrow, return)", access.RouteUser),
		routeCommand("admin", "Open the admin panel (manage the catalog)", access.RouteAdmin),
		routeCommand("home", "Open the home page", access.RouteHome),
		whoamiCommand(),
		logoutCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// routeCommand maps one navigation route onto a CLI command. Every
// invocation is a navigation attempt and goes through the access gate.
func routeCommand(use, short string, route access.Route) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			sc := bufio.NewScanner(os.Stdin)
			return navigate(sc, a, route)
		},
	}
}

func whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the active session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			sess, err := a.store.Load()
			if err != nil {
				return err
			}
			if !sess.Complete() {
				fmt.Println("Not logged in.")
				return nil
			}
			fmt.Printf("%s (role: %s)\n", sess.User.Name, sess.User.Role)
			return nil
		},
	}
}

func logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.client.Logout(); err != nil {
				return err
			}
			fmt.Println("Logged out.")
			return nil
		},
	}
}

// navigate evaluates the gate for the route and follows its decision. The
// gate runs fresh on every attempt, including the forced re-navigation after
// an invalidated session.
func navigate(sc *bufio.Scanner, a *app, route access.Route) error {
	sess, err := a.store.Load()
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}

	switch access.Decide(sess, route) {
	case access.RedirectLogin:
		fmt.Println("Please login to continue.")
		return navigate(sc, a, access.RouteLogin)
	case access.RedirectHome:
		fmt.Printf("Your role does not have access to the %s panel.\n", route.Name)
		return navigate(sc, a, access.RouteHome)
	}

	switch route.Name {
	case access.RouteLogin.Name:
		return runLogin(sc, a)
	case access.RouteRegister.Name:
		return runRegister(sc, a)
	case access.RouteUser.Name:
		return runUserPanel(sc, a)
	case access.RouteAdmin.Name:
		return runAdminPanel(sc, a)
	case access.RouteHome.Name:
		return runHome(a)
	}
	return fmt.Errorf("unknown route %q", route.Name)
}

// afterPanel turns the session-ended sentinel into a fresh navigation to the
// login route; any other error propagates.
func afterPanel(sc *bufio.Scanner, a *app, err error) error {
	if errors.Is(err, errSessionEnded) {
		return navigate(sc, a, access.RouteLogin)
	}
	return err
}

// readPassword securely reads a password with masking.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println()
	return strings.TrimSpace(string(bytePassword)), nil
}

func prompt(sc *bufio.Scanner, label string) (string, bool) {
	fmt.Print(label)
	if !sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(sc.Text()), true
}

func promptInt(sc *bufio.Scanner, label string) (int64, bool) {
	raw, ok := prompt(sc, label)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		fmt.Printf("Invalid number: %s\n", raw)
		return 0, false
	}
	return n, true
}

func runLogin(sc *bufio.Scanner, a *app) error {
	// Already signed in: land straight on the panel for the role.
	if sess, err := a.store.Load(); err == nil && sess.Complete() {
		return navigate(sc, a, access.LandingRoute(sess.User.Role))
	}

	email, ok := prompt(sc, "Email: ")
	if !ok {
		return nil
	}
	password, err := readPassword("Password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	resp, err := a.client.Login(context.Background(), api.LoginRequest{Email: email, Password: password})
	if err != nil {
		fmt.Printf("Login failed: %s\n", loginFailureMessage(err))
		return nil
	}
	if resp.Message != "" {
		fmt.Println(resp.Message)
	}
	return navigate(sc, a, access.LandingRoute(resp.User.Role))
}

func runRegister(sc *bufio.Scanner, a *app) error {
	name, ok := prompt(sc, "Name: ")
	if !ok {
		return nil
	}
	email, ok := prompt(sc, "Email: ")
	if !ok {
		return nil
	}
	password, err := readPassword("Password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	resp, err := a.client.Register(context.Background(), api.RegisterRequest{Name: name, Email: email, Password: password})
	if err != nil {
		fmt.Printf("Registration failed: %s\n", loginFailureMessage(err))
		return nil
	}
	if resp.Message != "" {
		fmt.Println(resp.Message)
	}
	return navigate(sc, a, access.LandingRoute(resp.User.Role))
}

func loginFailureMessage(err error) string {
	var reqErr *api.RequestError
	if errors.As(err, &reqErr) && reqErr.Message != "" {
		return reqErr.Message
	}
	var transportErr *api.TransportError
	if errors.As(err, &transportErr) {
		return "cannot reach the library service"
	}
	return err.Error()
}

func runHome(a *app) error {
	fmt.Println("Welcome to the Library Dashboard")
	if sess, err := a.store.Load(); err == nil && sess.Complete() {
		fmt.Printf("Signed in as %s (role: %s)\n", sess.User.Name, sess.User.Role)
	}
	fmt.Println("Commands: lms login | lms register | lms user | lms admin | lms logout")
	return nil
}

// ---------------------------------------------------------------------------
// User panel
// ---------------------------------------------------------------------------

func runUserPanel(sc *bufio.Scanner, a *app) error {
	sess, _ := a.store.Load()
	fmt.Println("User Panel")
	if sess.Complete() {
		fmt.Printf("Signed in as %s (role: %s)\n", sess.User.Name, sess.User.Role)
	}

	view, err := refreshView(a)
	if err != nil {
		return afterPanel(sc, a, err)
	}
	printCatalog(view.Books)
	printLoans(view.Loans)

	fmt.Println("\nCommands: borrow, return, refresh, logout, exit")
	for {
		fmt.Print("\n> ")
		if !sc.Scan() {
			return nil
		}
		cmd := strings.TrimSpace(sc.Text())

		var actionErr error
		switch cmd {
		case "borrow":
			view, actionErr = handleBorrow(sc, a, view)
		case "return":
			view, actionErr = handleReturn(sc, a, view)
		case "refresh":
			view, actionErr = refreshView(a)
			if actionErr == nil {
				printCatalog(view.Books)
				printLoans(view.Loans)
			}
		case "logout":
			return afterLogout(a)
		case "exit":
			return nil
		case "":
			printCatalog(view.Books)
			printLoans(view.Loans)
		default:
			fmt.Println("Unknown command. Use: borrow, return, refresh, logout, exit")
		}

		if errors.Is(actionErr, api.ErrSessionInvalidated) || errors.Is(actionErr, errSessionEnded) {
			return afterPanel(sc, a, errSessionEnded)
		}
	}
}

func handleBorrow(sc *bufio.Scanner, a *app, view flow.View) (flow.View, error) {
	bookID, ok := promptInt(sc, "Book ID: ")
	if !ok {
		return view, nil
	}
	updated, err := a.flows.Borrow(context.Background(), view, bookID)
	if err == nil {
		printCatalog(updated.Books)
		printLoans(updated.Loans)
	}
	return updated, err
}

func handleReturn(sc *bufio.Scanner, a *app, view flow.View) (flow.View, error) {
	bookID, ok := promptInt(sc, "Book ID: ")
	if !ok {
		return view, nil
	}
	updated, err := a.flows.Return(context.Background(), view, bookID)
	if err == nil {
		printCatalog(updated.Books)
		printLoans(updated.Loans)
	}
	return updated, err
}

// ---------------------------------------------------------------------------
// Admin panel
// ---------------------------------------------------------------------------

func runAdminPanel(sc *bufio.Scanner, a *app) error {
	sess, _ := a.store.Load()
	fmt.Println("Admin Panel")
	if sess.Complete() {
		fmt.Printf("Signed in as %s (role: %s)\n", sess.User.Name, sess.User.Role)
	}

	view, err := refreshCatalogView(a, flow.View{})
	if err != nil {
		return afterPanel(sc, a, err)
	}
	printAdminCatalog(view.Books)

	fmt.Println("\nCommands: add, edit, delete, refresh, logout, exit")
	for {
		fmt.Print("\n> ")
		if !sc.Scan() {
			return nil
		}
		cmd := strings.TrimSpace(sc.Text())

		var actionErr error
		switch cmd {
		case "add":
			view, actionErr = handleAddBook(sc, a, view)
		case "edit":
			view, actionErr = handleEditBook(sc, a, view)
		case "delete":
			view, actionErr = handleDeleteBook(sc, a, view)
		case "refresh":
			view, actionErr = refreshCatalogView(a, view)
			if actionErr == nil {
				printAdminCatalog(view.Books)
			}
		case "logout":
			return afterLogout(a)
		case "exit":
			return nil
		case "":
			printAdminCatalog(view.Books)
		default:
			fmt.Println("Unknown command. Use: add, edit, delete, refresh, logout, exit")
		}

		if errors.Is(actionErr, api.ErrSessionInvalidated) || errors.Is(actionErr, errSessionEnded) {
			return afterPanel(sc, a, errSessionEnded)
		}
	}
}

func promptBookInput(sc *bufio.Scanner) (api.BookInput, bool) {
	title, ok := prompt(sc, "Title: ")
	if !ok {
		return api.BookInput{}, false
	}
	author, ok := prompt(sc, "Author: ")
	if !ok {
		return api.BookInput{}, false
	}
	genre, ok := prompt(sc, "Genre: ")
	if !ok {
		return api.BookInput{}, false
	}
	copies, ok := promptInt(sc, "Total copies: ")
	if !ok {
		return api.BookInput{}, false
	}
	return api.BookInput{Title: title, Author: author, Genre: genre, TotalCopies: int(copies)}, true
}

func handleAddBook(sc *bufio.Scanner, a *app, view flow.View) (flow.View, error) {
	input, ok := promptBookInput(sc)
	if !ok {
		return view, nil
	}
	updated, err := a.flows.AddBook(context.Background(), view, input)
	if err == nil {
		printAdminCatalog(updated.Books)
	}
	return updated, err
}

func handleEditBook(sc *bufio.Scanner, a *app, view flow.View) (flow.View, error) {
	bookID, ok := promptInt(sc, "Book ID: ")
	if !ok {
		return view, nil
	}
	if _, found := view.FindBook(bookID); !found {
		fmt.Printf("No book with ID %d in the catalog.\n", bookID)
		return view, nil
	}
	input, ok := promptBookInput(sc)
	if !ok {
		return view, nil
	}
	updated, err := a.flows.UpdateBook(context.Background(), view, bookID, input)
	if err == nil {
		printAdminCatalog(updated.Books)
	}
	return updated, err
}

func handleDeleteBook(sc *bufio.Scanner, a *app, view flow.View) (flow.View, error) {
	bookID, ok := promptInt(sc, "Book ID: ")
	if !ok {
		return view, nil
	}
	book, found := view.FindBook(bookID)
	if !found {
		fmt.Printf("No book with ID %d in the catalog.\n", bookID)
		return view, nil
	}
	updated, err := a.flows.DeleteBook(context.Background(), view, bookID, func() bool {
		answer, ok := prompt(sc, fmt.Sprintf("Are you sure you want to delete '%s'? (y/N): ", book.Title))
		return ok && strings.EqualFold(answer, "y")
	})
	if err == nil {
		printAdminCatalog(updated.Books)
	}
	return updated, err
}

// ---------------------------------------------------------------------------
// Shared rendering
// ---------------------------------------------------------------------------

func refreshView(a *app) (flow.View, error) {
	view, err := a.flows.Refresh(context.Background())
	if err != nil {
		if errors.Is(err, api.ErrSessionInvalidated) {
			return flow.View{}, errSessionEnded
		}
		fmt.Printf("Error: %s\n", fetchFailureMessage(err))
		return flow.View{}, err
	}
	return view, nil
}

func refreshCatalogView(a *app, current flow.View) (flow.View, error) {
	view, err := a.flows.RefreshCatalog(context.Background(), current)
	if err != nil {
		if errors.Is(err, api.ErrSessionInvalidated) {
			return current, errSessionEnded
		}
		fmt.Printf("Error: %s\n", fetchFailureMessage(err))
		return current, err
	}
	return view, nil
}

func fetchFailureMessage(err error) string {
	var reqErr *api.RequestError
	if errors.As(err, &reqErr) && reqErr.Message != "" {
		return reqErr.Message
	}
	var transportErr *api.TransportError
	if errors.As(err, &transportErr) {
		return "cannot reach the library service"
	}
	return "failed to fetch books"
}

func afterLogout(a *app) error {
	if err := a.client.Logout(); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

func printCatalog(books []api.Book) {
	fmt.Println("\nBook Catalog")
	if len(books) == 0 {
		fmt.Println("No books available")
		return
	}
	fmt.Printf("%-5s %-30s %-25s %-15s %-10s\n", "ID", "Title", "Author", "Genre", "Available")
	fmt.Println(strings.Repeat("-", 90))
	for _, b := range books {
		fmt.Printf("%-5d %-30s %-25s %-15s %-10d\n",
			b.ID,
			truncateString(b.Title, 30),
			truncateString(b.Author, 25),
			truncateString(b.Genre, 15),
			b.AvailableCopies())
	}
}

func printAdminCatalog(books []api.Book) {
	fmt.Println("\nAll Books")
	if len(books) == 0 {
		fmt.Println("No books available")
		return
	}
	fmt.Printf("%-5s %-30s %-25s %-15s %-8s %-10s %-10s\n", "ID", "Title", "Author", "Genre", "Total", "Borrowed", "Available")
	fmt.Println(strings.Repeat("-", 110))
	for _, b := range books {
		fmt.Printf("%-5d %-30s %-25s %-15s %-8d %-10d %-10d\n",
			b.ID,
			truncateString(b.Title, 30),
			truncateString(b.Author, 25),
			truncateString(b.Genre, 15),
			b.TotalCopies,
			b.Borrowed,
			b.AvailableCopies())
	}
}

func printLoans(loans []api.Loan) {
	fmt.Println("\nMy Borrowed Books")
	if len(loans) == 0 {
		fmt.Println("You haven't borrowed any books yet")
		return
	}
	fmt.Printf("%-5s %-30s %-12s\n", "ID", "Title", "Borrowed On")
	fmt.Println(strings.Repeat("-", 50))
	for _, l := range loans {
		fmt.Printf("%-5d %-30s %-12s\n", l.ID, truncateString(l.Title, 30), l.BorrowDate.Format("2006-01-02"))
	}
}

func truncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return s[:maxLength]
	}
	return s[:maxLength-3] + "..."
}
