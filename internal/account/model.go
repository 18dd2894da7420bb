package account

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive Status = "active"
	StatusFrozen Status = "frozen"
	StatusClosed Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusFrozen, StatusClosed:
		return true
	}
	return false
}

// Kind distinguishes savings from checking accounts.
type Kind string

const (
	KindSavings  Kind = "savings"
	KindChecking Kind = "checking"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindSavings || k == KindChecking
}

// Account is the durable per-owner balance holder. Balance only changes
// through ledger postings.
type Account struct {
	Number    string
	OwnerID   string
	Kind      Kind
	Status    Status
	Balance   decimal.Decimal
	PINHash   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether the account may take part in postings.
func (a Account) IsActive() bool { return a.Status == StatusActive }

// HasPIN reports whether a transaction PIN has been set.
func (a Account) HasPIN() bool { return len(a.PINHash) > 0 }
