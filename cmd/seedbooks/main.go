// Command seedbooks populates a freshly deployed backend with a starter
// catalog. It signs in with administrator credentials taken from the
// environment and adds each book through the regular admin flow, so it also
// doubles as an end-to-end exercise of the authorized client.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"library-dashboard/api"
	"library-dashboard/config"
	"library-dashboard/session"
)

var starterCatalog = []api.BookInput{
	{Title: "1984", Author: "George Orwell", Genre: "Dystopian", TotalCopies: 3},
	{Title: "Animal Farm", Author: "George Orwell", Genre: "Satire", TotalCopies: 2},
	{Title: "The Diary of a Young Girl", Author: "Anne Frank", Genre: "Memoir", TotalCopies: 2},
	{Title: "The Art of War", Author: "Sun Tzu", Genre: "Philosophy", TotalCopies: 1},
	{Title: "The Fellowship of the Ring", Author: "J.R.R. Tolkien", Genre: "Fantasy", TotalCopies: 4},
	{Title: "The Two Towers", Author: "J.R.R. Tolkien", Genre: "Fantasy", TotalCopies: 4},
	{Title: "The Return of the King", Author: "J.R.R. Tolkien", Genre: "Fantasy", TotalCopies: 4},
	{Title: "Romeo and Juliet", Author: "William Shakespeare", Genre: "Tragedy", TotalCopies: 2},
	{Title: "The Three Musketeers", Author: "Alexandre Dumas", Genre: "Adventure", TotalCopies: 3},
	{Title: "Harry Potter and the Philosopher's Stone", Author: "J.K. Rowling", Genre: "Fantasy", TotalCopies: 5},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	config.SetupLogging(cfg.LogLevel)

	email := os.Getenv("LMS_ADMIN_EMAIL")
	password := os.Getenv("LMS_ADMIN_PASSWORD")
	if email == "" || password == "" {
		fmt.Fprintln(os.Stderr, "LMS_ADMIN_EMAIL and LMS_ADMIN_PASSWORD must be set")
		os.Exit(1)
	}

	// A throwaway in-memory session keeps the seeder from clobbering the
	// operator's saved login.
	client := api.NewClient(cfg.APIBaseURL, session.NewMemoryStore())
	client.SetTimeout(cfg.RequestTimeout)

	ctx := context.Background()

	resp, err := client.Login(ctx, api.LoginRequest{Email: email, Password: password})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Admin login failed: %v\n", err)
		os.Exit(1)
	}
	if resp.User.Role != session.RoleAdmin {
		fmt.Fprintf(os.Stderr, "Account %s does not have the Admin role\n", email)
		os.Exit(1)
	}

	fmt.Printf("Seeding %d books into %s...\n", len(starterCatalog), cfg.APIBaseURL)

	successCount := 0
	errorCount := 0
	for _, book := range starterCatalog {
		fmt.Printf("Adding: %s by %s... ", book.Title, book.Author)
		if err := client.AddBook(ctx, book); err != nil {
			fmt.Printf("ERROR - %v\n", err)
			errorCount++
			continue
		}
		fmt.Println("SUCCESS")
		successCount++
	}

	fmt.Printf("\nSeed complete!\n")
	fmt.Printf("Successfully added: %d books\n", successCount)
	fmt.Printf("Errors: %d\n", errorCount)

	if successCount > 0 {
		books, err := client.ListBooks(ctx)
		if err != nil {
			fmt.Printf("Error retrieving catalog: %v\n", err)
			return
		}
		fmt.Println("\nCatalog:")
		fmt.Printf("%-5s %-50s %-30s %-10s\n", "ID", "Title", "Author", "Available")
		fmt.Println(strings.Repeat("-", 100))
		for _, b := range books {
			fmt.Printf("%-5d %-50s %-30s %-10d\n", b.ID, truncateString(b.Title, 50), truncateString(b.Author, 30), b.AvailableCopies())
		}
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
