//go:build ignore
// +build ignore

// Package main provides a manual concurrency stress test for the borrow API.
//
// Usage:
//
//	go run ./scripts/concurrency_test.go <book_id> <member1_id> [member2_id ...]
//
// Or use the convenience environment variables:
//
//	BOOK_ID=<uuid>  MEMBER_IDS=<uuid1>,<uuid2>,...  go run ./scripts/concurrency_test.go
//
// What it does:
//  1. Fires N goroutines (one per member) all attempting to borrow the same
//     book simultaneously.
//  2. Prints how many obtained a loan vs. were refused with no-available-unit.
//  3. If loans recorded <= available copies before the run, unit exclusivity
//     held: no copy was double-assigned.
//
// Prerequisites:
//   - Server must be running: DATABASE_URL must be set.
//   - At least 1 book with some copies and N members must exist in the DB.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultServerAddr = "http://localhost:8080"

type borrowResult struct {
	MemberID   string
	StatusCode int
	Refused    bool
	Err        error
}

func main() {
	serverAddr := os.Getenv("SERVER_ADDR")
	if serverAddr == "" {
		serverAddr = defaultServerAddr
	}

	bookID := os.Getenv("BOOK_ID")
	memberIDsEnv := os.Getenv("MEMBER_IDS")

	var memberIDs []string
	if memberIDsEnv != "" {
		memberIDs = strings.Split(memberIDsEnv, ",")
	}

	// Support positional args: script <book_id> [member_ids...]
	args := os.Args[1:]
	if len(args) >= 1 {
		bookID = args[0]
	}
	if len(args) >= 2 {
		memberIDs = args[1:]
	}

	if bookID == "" {
		log.Fatal("Usage: BOOK_ID=<uuid> MEMBER_IDS=<m1,m2,...> go run ./scripts/concurrency_test.go\n" +
			"  or: go run ./scripts/concurrency_test.go <book_id> <member1_id> [member2_id ...]")
	}
	if len(memberIDs) == 0 {
		log.Fatal("At least one member ID must be provided via MEMBER_IDS env or positional args")
	}

	fmt.Printf("=== Borrow Concurrency Test ===\n")
	fmt.Printf("Server  : %s\n", serverAddr)
	fmt.Printf("Book    : %s\n", bookID)
	fmt.Printf("Members : %d\n\n", len(memberIDs))

	results := make([]borrowResult, len(memberIDs))
	var wg sync.WaitGroup

	// Fire all goroutines simultaneously using a barrier.
	start := make(chan struct{})

	for i, mid := range memberIDs {
		wg.Add(1)
		go func(idx int, memberID string) {
			defer wg.Done()
			<-start
			results[idx] = attemptBorrow(serverAddr, bookID, strings.TrimSpace(memberID))
		}(i, mid)
	}

	fmt.Println("Firing all requests simultaneously...")
	close(start)

	wg.Wait()
	fmt.Println("All requests completed.")
	fmt.Println()

	var loans, refusals, failures int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failures++
			fmt.Printf("  [ERR ] member=%-38s err=%v\n", r.MemberID, r.Err)
		case r.StatusCode == http.StatusCreated:
			loans++
			fmt.Printf("  [LOAN] member=%-38s status=%d\n", r.MemberID, r.StatusCode)
		case r.Refused:
			refusals++
			fmt.Printf("  [FULL] member=%-38s status=%d refused\n", r.MemberID, r.StatusCode)
		default:
			failures++
			fmt.Printf("  [FAIL] member=%-38s status=%d unexpected response\n", r.MemberID, r.StatusCode)
		}
	}

	fmt.Printf("\n--- Summary ---\n")
	fmt.Printf("Loans     : %d\n", loans)
	fmt.Printf("Refusals  : %d\n", refusals)
	fmt.Printf("Failures  : %d\n", failures)
	fmt.Printf("Total     : %d\n\n", len(memberIDs))

	fmt.Println("--- Invariant Check ---")
	fmt.Println("Copy selection runs under SELECT ... FOR UPDATE inside the borrow transaction,")
	fmt.Println("so at most one loan can be created per available copy.")
	fmt.Printf("Loans recorded: %d — if this is <= the number of available copies, unit exclusivity held.\n", loans)

	if failures > 0 {
		fmt.Printf("\n[WARNING] %d request(s) failed — check server logs for details.\n", failures)
		os.Exit(1)
	}
}

// attemptBorrow sends POST /loans for the given member and book.
func attemptBorrow(serverAddr, bookID, memberID string) borrowResult {
	url := fmt.Sprintf("%s/loans", serverAddr)
	body := fmt.Sprintf(`{"member_id":"%s","book_id":"%s"}`, memberID, bookID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		return borrowResult{MemberID: memberID, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return borrowResult{MemberID: memberID, StatusCode: resp.StatusCode, Err: fmt.Errorf("bad JSON: %s", raw)}
	}

	refused := resp.StatusCode == http.StatusUnprocessableEntity
	return borrowResult{
		MemberID:   memberID,
		StatusCode: resp.StatusCode,
		Refused:    refused,
	}
}
