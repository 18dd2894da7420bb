// Package processor applies single-account postings. It is the only code
// path that changes an account balance.
package processor

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/onlinebank/onlinebank/internal/account"
	"github.com/onlinebank/onlinebank/internal/bankerr"
	"github.com/onlinebank/onlinebank/internal/ledger"
	"github.com/onlinebank/onlinebank/internal/money"
	"github.com/onlinebank/onlinebank/internal/telemetry"
)

// Mutation describes one posting against one account.
type Mutation struct {
	AccountNumber string
	Amount        decimal.Decimal
	Kind          ledger.Kind
	Description   string
	// Reference, when set, makes the posting idempotent per account.
	Reference  string
	TransferID string
}

// Result is the account state after the posting and the entry recorded.
type Result struct {
	Account account.Account
	Entry   ledger.Entry
}

// Processor validates and applies postings.
type Processor struct {
	store    ledger.Store
	tel      telemetry.Handle
	postings metric.Int64Counter
	now      func() time.Time
}

// New builds a Processor on store.
func New(store ledger.Store, tel telemetry.Handle) *Processor {
	return &Processor{
		store:    store,
		tel:      tel,
		postings: tel.Counter("ledger.postings", "Ledger postings by kind and outcome"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Validate checks the parts of m that do not depend on account state.
func Validate(m Mutation) error {
	if !money.IsPositiveAmount(m.Amount) {
		return bankerr.ErrInvalidAmount
	}
	if !m.Kind.Valid() {
		return bankerr.ErrInvalidKind
	}
	if utf8.RuneCountInString(m.Description) > ledger.MaxDescriptionLength {
		return bankerr.Invalid("description", "description must be at most 255 characters")
	}
	return nil
}

// Apply performs m inside tx. The caller's unit must hold m.AccountNumber in
// its lock scope; the account is re-read here so every check sees the locked
// state. A reference that was already applied returns the original entry
// together with bankerr.ErrDuplicate.
func (p *Processor) Apply(ctx context.Context, tx ledger.Tx, m Mutation) (Result, error) {
	if err := Validate(m); err != nil {
		return Result{}, err
	}

	acct, err := tx.LockAccount(ctx, m.AccountNumber)
	if err != nil {
		return Result{}, err
	}

	if m.Reference != "" {
		prior, found, err := tx.FindByReference(ctx, m.AccountNumber, m.Reference)
		if err != nil {
			return Result{}, err
		}
		if found {
			return Result{Account: acct, Entry: prior}, bankerr.ErrDuplicate
		}
	}

	if !acct.IsActive() {
		return Result{}, bankerr.ErrAccountNotActive
	}

	switch m.Kind {
	case ledger.Debit:
		if acct.Balance.LessThan(m.Amount) {
			return Result{}, bankerr.ErrInsufficientFunds
		}
		acct.Balance = acct.Balance.Sub(m.Amount)
	case ledger.Credit:
		acct.Balance = acct.Balance.Add(m.Amount)
	}
	acct.UpdatedAt = p.now()

	if err := tx.SaveAccount(ctx, acct); err != nil {
		return Result{}, err
	}
	entry, err := tx.AppendEntry(ctx, ledger.Entry{
		AccountNumber: acct.Number,
		Kind:          m.Kind,
		Amount:        m.Amount,
		BalanceAfter:  acct.Balance,
		Description:   m.Description,
		Reference:     m.Reference,
		TransferID:    m.TransferID,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Account: acct, Entry: entry}, nil
}

// Process applies m as its own atomic unit.
func (p *Processor) Process(ctx context.Context, m Mutation) (Result, error) {
	ctx, span := p.tel.Tracer.Start(ctx, "processor.Process", trace.WithAttributes(
		attribute.String("account", m.AccountNumber),
		attribute.String("kind", string(m.Kind)),
	))
	defer span.End()

	if err := Validate(m); err != nil {
		p.record(ctx, m.Kind, err)
		return Result{}, err
	}

	var res Result
	err := p.store.Atomically(ctx, []string{m.AccountNumber}, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		res, err = p.Apply(ctx, tx, m)
		return err
	})
	p.record(ctx, m.Kind, err)

	switch {
	case err == nil:
		p.tel.Logger.Info("posting applied",
			slog.String("account", m.AccountNumber),
			slog.String("kind", string(m.Kind)),
			slog.String("amount", money.Format(m.Amount)),
			slog.Int64("entry_id", res.Entry.ID),
		)
		return res, nil
	case errors.Is(err, bankerr.ErrDuplicate):
		return res, err
	default:
		telemetry.Fail(span, err)
		p.tel.Logger.Warn("posting rejected",
			slog.String("account", m.AccountNumber),
			slog.String("kind", string(m.Kind)),
			slog.String("code", string(bankerr.CodeOf(err))),
			slog.Any("error", err),
		)
		return Result{}, err
	}
}

func (p *Processor) record(ctx context.Context, kind ledger.Kind, err error) {
	outcome := "applied"
	if err != nil {
		outcome = string(bankerr.CodeOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	p.postings.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome),
	))
}
