package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// SeedBalance credits amount to number as an opening entry, keeping the
// reconciliation invariant intact. Intended for tests and local fixtures.
func SeedBalance(ctx context.Context, s Store, number string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.New("seed amount must be positive")
	}
	return s.Atomically(ctx, []string{number}, func(ctx context.Context, tx Tx) error {
		acct, err := tx.LockAccount(ctx, number)
		if err != nil {
			return err
		}
		acct.Balance = acct.Balance.Add(amount)
		acct.UpdatedAt = time.Now().UTC()
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		_, err = tx.AppendEntry(ctx, Entry{
			AccountNumber: number,
			Kind:          Credit,
			Amount:        amount,
			BalanceAfter:  acct.Balance,
			Description:   "Opening balance",
		})
		return err
	})
}

// FailNextCommit makes the next commit of the in-memory store fail with err,
// simulating a substrate outage.
func (s *InMemory) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}
