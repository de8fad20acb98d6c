package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parkrow/estates/internal/currency"
	"github.com/parkrow/estates/internal/logger"
	"github.com/parkrow/estates/internal/models"
	"github.com/parkrow/estates/internal/registry"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// day returns the test base time advanced by n days.
func day(n int) time.Time {
	return testBase.Add(time.Duration(n) * 24 * time.Hour)
}

// faultyLedger wraps the in-memory ledger and refuses deposits for marked
// accounts, simulating an unavailable currency backend.
type faultyLedger struct {
	*currency.MemoryLedger

	mu           sync.Mutex
	failDeposits map[models.AccountID]bool
	onWithdraw   func()
}

func newFaultyLedger() *faultyLedger {
	return &faultyLedger{
		MemoryLedger: currency.NewMemoryLedger(),
		failDeposits: make(map[models.AccountID]bool),
	}
}

func (l *faultyLedger) setDepositFailure(account models.AccountID, fail bool) {
	l.mu.Lock()
	l.failDeposits[account] = fail
	l.mu.Unlock()
}

func (l *faultyLedger) Deposit(ctx context.Context, account models.AccountID, amount int64) error {
	l.mu.Lock()
	fail := l.failDeposits[account]
	l.mu.Unlock()
	if fail {
		return fmt.Errorf("ledger backend unavailable")
	}
	return l.MemoryLedger.Deposit(ctx, account, amount)
}

func (l *faultyLedger) Withdraw(ctx context.Context, account models.AccountID, amount int64) error {
	l.mu.Lock()
	hook := l.onWithdraw
	l.mu.Unlock()
	if hook != nil {
		hook()
	}
	return l.MemoryLedger.Withdraw(ctx, account, amount)
}

// recordNotifier captures notifications for assertions.
type recordNotifier struct {
	mu       sync.Mutex
	messages map[models.AccountID][]string
}

func newRecordNotifier() *recordNotifier {
	return &recordNotifier{messages: make(map[models.AccountID][]string)}
}

func (n *recordNotifier) Notify(account models.AccountID, message string) {
	n.mu.Lock()
	n.messages[account] = append(n.messages[account], message)
	n.mu.Unlock()
}

func (n *recordNotifier) count(account models.AccountID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages[account])
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New(logger.New("test"))
}

// addOwnedProperty seeds a property owned by the account with its tax clock
// starting at the test base time.
func addOwnedProperty(t *testing.T, reg *registry.Registry, id models.PropertyID, owner models.AccountID, price, baseTax int64) {
	t.Helper()
	o := owner
	require.NoError(t, reg.Create(models.Property{
		ID:               id,
		OwnerID:          &o,
		Price:            price,
		BaseTax:          baseTax,
		TaxPeriodDays:    3,
		Level:            1,
		LastTaxPaymentAt: testBase,
	}))
}
