package config

import (
	"log"
	"os"
	"strconv"
)

// Defaults for circulation policy knobs. Each can be overridden through the
// environment variable of the same name.
const (
	DefaultLoanPeriodDays       = 14
	DefaultFinePerDay           = 10
	DefaultHoldGraceDays        = 7
	DefaultHoldCleanupThreshold = 3
	DefaultReminderWindowDays   = 3
	DefaultMaxBorrowedBooks     = 5
	DefaultEscalationCronSpec   = "0 3 * * *"
)

// Config collects the circulation policy settings consumed by the engines and
// the escalation scheduler. It is loaded once at startup and injected
// explicitly rather than read from globals, so tests can supply their own.
type Config struct {
	// LoanPeriodDays is the standard loan duration, also used by renewals.
	LoanPeriodDays int

	// FinePerDay is the fine amount (in currency units) per day overdue.
	FinePerDay int

	// HoldGraceDays is how many days a loan may stay overdue before the
	// auto-hold escalation job places an account hold.
	HoldGraceDays int

	// HoldCleanupThreshold is the minimum number of active holds a member
	// must have before the all-fines-resolved auto-cleanup fires.
	HoldCleanupThreshold int

	// ReminderWindowDays is how far ahead of the due date reminders go out.
	ReminderWindowDays int

	// MaxBorrowedBooks is the default borrowing cap for new members.
	MaxBorrowedBooks int

	// EscalationCronSpec is the cron expression driving the escalation jobs.
	EscalationCronSpec string
}

// Load reads the configuration from the environment, falling back to the
// package defaults for anything unset or unparseable.
func Load() Config {
	return Config{
		LoanPeriodDays:       envInt("LOAN_PERIOD_DAYS", DefaultLoanPeriodDays),
		FinePerDay:           envInt("FINE_PER_DAY", DefaultFinePerDay),
		HoldGraceDays:        envInt("HOLD_GRACE_DAYS", DefaultHoldGraceDays),
		HoldCleanupThreshold: envInt("HOLD_CLEANUP_THRESHOLD", DefaultHoldCleanupThreshold),
		ReminderWindowDays:   envInt("REMINDER_WINDOW_DAYS", DefaultReminderWindowDays),
		MaxBorrowedBooks:     envInt("MAX_BORROWED_BOOKS", DefaultMaxBorrowedBooks),
		EscalationCronSpec:   envStr("ESCALATION_CRON_SPEC", DefaultEscalationCronSpec),
	}
}

// Default returns the built-in configuration, used by tests.
func Default() Config {
	return Config{
		LoanPeriodDays:       DefaultLoanPeriodDays,
		FinePerDay:           DefaultFinePerDay,
		HoldGraceDays:        DefaultHoldGraceDays,
		HoldCleanupThreshold: DefaultHoldCleanupThreshold,
		ReminderWindowDays:   DefaultReminderWindowDays,
		MaxBorrowedBooks:     DefaultMaxBorrowedBooks,
		EscalationCronSpec:   DefaultEscalationCronSpec,
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[WARN] config: %s=%q is not an integer, using default %d", key, v, fallback)
		return fallback
	}
	return n
}
