package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/onlinebank/onlinebank/internal/account"
)

var (
	errBalanceOutsidePosting = errors.New("account balance changes only through ledger postings")
	errOutOfScope            = errors.New("account is outside the unit's lock scope")
)

// Kind is the direction of a posting.
type Kind string

const (
	Credit Kind = "credit"
	Debit  Kind = "debit"
)

// Valid reports whether k is credit or debit.
func (k Kind) Valid() bool { return k == Credit || k == Debit }

const (
	// DefaultPageSize is used when a page request carries no limit.
	DefaultPageSize = 10
	// MaxPageSize caps a single history page.
	MaxPageSize = 100
	// MaxDescriptionLength bounds the free-text description of an entry.
	MaxDescriptionLength = 255
)

// Entry is one immutable posting against an account.
type Entry struct {
	ID            int64
	AccountNumber string
	Kind          Kind
	Amount        decimal.Decimal
	BalanceAfter  decimal.Decimal
	Description   string
	// Reference is an optional client idempotency key, unique per account.
	Reference string
	// TransferID links the two legs of a transfer.
	TransferID string
	CreatedAt  time.Time
}

// Signed returns the amount with the sign applied to the balance.
func (e Entry) Signed() decimal.Decimal {
	if e.Kind == Debit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// Page requests a slice of history, newest first. Cursor is the ID of the
// last entry already seen; zero starts from the newest entry.
type Page struct {
	Cursor int64
	Limit  int
}

func (p Page) limit() int {
	switch {
	case p.Limit <= 0:
		return DefaultPageSize
	case p.Limit > MaxPageSize:
		return MaxPageSize
	}
	return p.Limit
}

// EntryPage is one page of history. NextCursor is zero when no older entries
// remain.
type EntryPage struct {
	Entries    []Entry
	NextCursor int64
}

// Totals are the summed postings of one account.
type Totals struct {
	Credits decimal.Decimal
	Debits  decimal.Decimal
}

// Net returns credits minus debits.
func (t Totals) Net() decimal.Decimal { return t.Credits.Sub(t.Debits) }

func (t *Totals) add(e Entry) {
	if e.Kind == Credit {
		t.Credits = t.Credits.Add(e.Amount)
	} else {
		t.Debits = t.Debits.Add(e.Amount)
	}
}

// Tx is the view of the store inside one atomic unit. Every account touched
// must be named in the unit's key set.
type Tx interface {
	// LockAccount re-reads the account under the unit's exclusive scope.
	LockAccount(ctx context.Context, number string) (account.Account, error)
	SaveAccount(ctx context.Context, acct account.Account) error
	// AppendEntry records e and returns it with ID and CreatedAt assigned.
	AppendEntry(ctx context.Context, e Entry) (Entry, error)
	FindByReference(ctx context.Context, number, reference string) (Entry, bool, error)
	// Totals sums the postings of number as seen by the unit, staged entries
	// included.
	Totals(ctx context.Context, number string) (Totals, error)
}

// Store persists accounts and their entries on one transactional substrate.
type Store interface {
	account.Repository

	// Atomically runs fn with exclusive access to keys. Writes made through
	// the Tx become visible together when fn returns nil and are discarded
	// otherwise.
	Atomically(ctx context.Context, keys []string, fn func(ctx context.Context, tx Tx) error) error
	// Entries lists history for number, newest first.
	Entries(ctx context.Context, number string, page Page) (EntryPage, error)
	// Totals sums all postings of number.
	Totals(ctx context.Context, number string) (Totals, error)
}

// updateAccount implements account.Repository.UpdateAccount on top of
// Atomically for every backend.
func updateAccount(ctx context.Context, s Store, number string, fn func(*account.Account) error) (account.Account, error) {
	var out account.Account
	err := s.Atomically(ctx, []string{number}, func(ctx context.Context, tx Tx) error {
		acct, err := tx.LockAccount(ctx, number)
		if err != nil {
			return err
		}
		before := acct.Balance
		if err := fn(&acct); err != nil {
			return err
		}
		if !acct.Balance.Equal(before) || acct.Number != number {
			return errBalanceOutsidePosting
		}
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		out = acct
		return nil
	})
	return out, err
}
