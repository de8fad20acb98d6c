package currency

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/parkrow/estates/internal/models"
)

// Ledger-level errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

// Ledger is the currency port. Balances live in an external system with its
// own atomicity guarantee; this service never edits a balance directly, only
// through these three calls. All calls are synchronous and bounded: a failing
// or unreachable ledger fails the operation rather than hanging it.
type Ledger interface {
	// Has reports whether the account holds at least the given amount.
	Has(ctx context.Context, account models.AccountID, amount int64) (bool, error)

	// Withdraw removes the amount from the account. Returns
	// ErrInsufficientFunds when the balance does not cover it.
	Withdraw(ctx context.Context, account models.AccountID, amount int64) error

	// Deposit adds the amount to the account.
	Deposit(ctx context.Context, account models.AccountID, amount int64) error
}

// MemoryLedger is an in-process Ledger used in tests and when running
// without an external currency backend. The zero balance is assumed for
// unknown accounts.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[models.AccountID]int64
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[models.AccountID]int64),
	}
}

// SetBalance overwrites an account's balance. Intended for test setup and
// administrative seeding.
func (l *MemoryLedger) SetBalance(account models.AccountID, balance int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = balance
}

// Balance returns an account's current balance.
func (l *MemoryLedger) Balance(account models.AccountID) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

// TotalSupply returns the sum of all balances. Useful for conservation
// checks in tests.
func (l *MemoryLedger) TotalSupply() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for _, b := range l.balances {
		total += b
	}
	return total
}

// Has implements Ledger.
func (l *MemoryLedger) Has(_ context.Context, account models.AccountID, amount int64) (bool, error) {
	if amount < 0 {
		return false, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account] >= amount, nil
}

// Withdraw implements Ledger. The check and the debit happen under one lock
// so concurrent withdrawals cannot overdraw the account.
func (l *MemoryLedger) Withdraw(_ context.Context, account models.AccountID, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance := l.balances[account]
	if balance < amount {
		return fmt.Errorf("account %s holds %d, needs %d: %w", account, balance, amount, ErrInsufficientFunds)
	}
	l.balances[account] = balance - amount
	return nil
}

// Deposit implements Ledger.
func (l *MemoryLedger) Deposit(_ context.Context, account models.AccountID, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
	return nil
}
