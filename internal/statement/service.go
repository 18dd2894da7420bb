// Package statement reads account history and reconciles balances against
// the ledger.
package statement

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/onlinebank/onlinebank/internal/account"
	"github.com/onlinebank/onlinebank/internal/bankerr"
	"github.com/onlinebank/onlinebank/internal/ledger"
	"github.com/onlinebank/onlinebank/internal/money"
	"github.com/onlinebank/onlinebank/internal/telemetry"
)

// Service serves read-only ledger views.
type Service struct {
	store ledger.Store
	tel   telemetry.Handle
}

// NewService creates a statement service.
func NewService(store ledger.Store, tel telemetry.Handle) *Service {
	return &Service{store: store, tel: tel}
}

// History returns one page of the account's entries, newest first.
func (s *Service) History(ctx context.Context, number string, page ledger.Page) (ledger.EntryPage, error) {
	if !account.ValidNumber(number) {
		return ledger.EntryPage{}, bankerr.ErrAccountNotFound
	}
	if page.Cursor < 0 {
		return ledger.EntryPage{}, bankerr.Invalid("cursor", "cursor must not be negative")
	}
	return s.store.Entries(ctx, number, page)
}

// Reconciliation compares the stored balance with the sum of entries.
type Reconciliation struct {
	AccountNumber string
	Balance       decimal.Decimal
	Totals        ledger.Totals
}

// Balanced reports whether balance equals credits minus debits.
func (r Reconciliation) Balanced() bool {
	return r.Balance.Equal(r.Totals.Net())
}

// Reconcile reads the balance and entry totals under the account lock so no
// posting lands between the two reads.
func (s *Service) Reconcile(ctx context.Context, number string) (Reconciliation, error) {
	if !account.ValidNumber(number) {
		return Reconciliation{}, bankerr.ErrAccountNotFound
	}

	var out Reconciliation
	err := s.store.Atomically(ctx, []string{number}, func(ctx context.Context, tx ledger.Tx) error {
		acct, err := tx.LockAccount(ctx, number)
		if err != nil {
			return err
		}
		totals, err := tx.Totals(ctx, number)
		if err != nil {
			return err
		}
		out = Reconciliation{AccountNumber: number, Balance: acct.Balance, Totals: totals}
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}

	if !out.Balanced() {
		s.tel.Logger.Error("ledger out of balance",
			slog.String("account", number),
			slog.String("balance", money.Format(out.Balance)),
			slog.String("net", money.Format(out.Totals.Net())),
		)
	}
	return out, nil
}

// ToReconciliationResponse renders r for API consumers.
func ToReconciliationResponse(r Reconciliation) ReconciliationResponse {
	return ReconciliationResponse{
		AccountNumber: r.AccountNumber,
		Balance:       money.Format(r.Balance),
		Credits:       money.Format(r.Totals.Credits),
		Debits:        money.Format(r.Totals.Debits),
		Balanced:      r.Balanced(),
	}
}
