// Package transfer moves funds between two accounts as one atomic unit.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/onlinebank/onlinebank/internal/account"
	"github.com/onlinebank/onlinebank/internal/bankerr"
	"github.com/onlinebank/onlinebank/internal/credential"
	"github.com/onlinebank/onlinebank/internal/ledger"
	"github.com/onlinebank/onlinebank/internal/money"
	"github.com/onlinebank/onlinebank/internal/notification"
	"github.com/onlinebank/onlinebank/internal/processor"
	"github.com/onlinebank/onlinebank/internal/telemetry"
)

// Request captures the data needed to move funds between accounts.
type Request struct {
	SenderAccount   string
	ReceiverAccount string
	Amount          decimal.Decimal
	Description     string
	// Authorization must be verified for SenderAccount.
	Authorization credential.Authorization
	// Reference makes retries of the same transfer idempotent. It is recorded
	// on the debit leg.
	Reference string
	// RequestorID, when set, must own the sender account.
	RequestorID string
}

// Result describes a committed transfer. After a duplicate Reference only
// TransferID, Sender and Debit are populated.
type Result struct {
	TransferID  string
	Sender      account.Account
	Receiver    account.Account
	Debit       ledger.Entry
	Credit      ledger.Entry
	CompletedAt time.Time
}

// Service orchestrates transfers.
type Service struct {
	store      ledger.Store
	processor  *processor.Processor
	dispatcher *notification.Dispatcher
	ids        *snowflake.Node
	tel        telemetry.Handle
	transfers  metric.Int64Counter
}

// NewService constructs a transfer service. A nil node generates IDs as
// node 0; a nil dispatcher disables notifications.
func NewService(store ledger.Store, proc *processor.Processor, dispatcher *notification.Dispatcher, node *snowflake.Node, tel telemetry.Handle) *Service {
	if node == nil {
		node, _ = snowflake.NewNode(0)
	}
	return &Service{
		store:      store,
		processor:  proc,
		dispatcher: dispatcher,
		ids:        node,
		tel:        tel,
		transfers:  tel.Counter("ledger.transfers", "Transfers by outcome"),
	}
}

// Transfer debits the sender and credits the receiver atomically. Every
// business check runs once before locking and again on the locked rows.
func (s *Service) Transfer(ctx context.Context, req Request) (Result, error) {
	ctx, span := s.tel.Tracer.Start(ctx, "transfer.Transfer", trace.WithAttributes(
		attribute.String("sender", req.SenderAccount),
		attribute.String("receiver", req.ReceiverAccount),
	))
	defer span.End()

	res, err := s.transfer(ctx, req)
	s.record(ctx, err)
	switch {
	case err == nil:
		s.tel.Logger.Info("transfer committed",
			slog.String("transfer_id", res.TransferID),
			slog.String("sender", req.SenderAccount),
			slog.String("receiver", req.ReceiverAccount),
			slog.String("amount", money.Format(req.Amount)),
		)
		s.notify(ctx, res, req)
		return res, nil
	case errors.Is(err, bankerr.ErrDuplicate):
		s.tel.Logger.Info("transfer replayed",
			slog.String("transfer_id", res.TransferID),
			slog.String("reference", req.Reference),
		)
		return res, err
	default:
		telemetry.Fail(span, err)
		s.tel.Logger.Warn("transfer rejected",
			slog.String("sender", req.SenderAccount),
			slog.String("receiver", req.ReceiverAccount),
			slog.String("code", string(bankerr.CodeOf(err))),
			slog.Any("error", err),
		)
		return Result{}, err
	}
}

func (s *Service) transfer(ctx context.Context, req Request) (Result, error) {
	if !req.Authorization.Permits(req.SenderAccount) {
		return Result{}, bankerr.ErrBadCredential
	}
	if err := processor.Validate(processor.Mutation{Amount: req.Amount, Kind: ledger.Debit, Description: req.Description}); err != nil {
		return Result{}, err
	}

	sender, err := s.lookupSender(ctx, req.SenderAccount)
	if err != nil {
		return Result{}, err
	}
	if req.RequestorID != "" && sender.OwnerID != req.RequestorID {
		return Result{}, bankerr.ErrNotOwner
	}

	if err := check(ctx, sender, req, s.store.Get); err != nil {
		if req.Reference != "" {
			if prior, ok := s.replay(ctx, req); ok {
				return prior, bankerr.ErrDuplicate
			}
		}
		return Result{}, err
	}

	transferID := s.ids.Generate().String()
	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Transfer to %s", req.ReceiverAccount)
	}

	var res Result
	err = s.store.Atomically(ctx, []string{req.SenderAccount, req.ReceiverAccount}, func(ctx context.Context, tx ledger.Tx) error {
		if req.Reference != "" {
			prior, found, err := tx.FindByReference(ctx, req.SenderAccount, req.Reference)
			if err != nil {
				return err
			}
			if found {
				res = duplicateResult(prior)
				return bankerr.ErrDuplicate
			}
		}

		locked, err := tx.LockAccount(ctx, req.SenderAccount)
		if err != nil {
			return err
		}
		if err := check(ctx, locked, req, tx.LockAccount); err != nil {
			return err
		}

		debit, err := s.processor.Apply(ctx, tx, processor.Mutation{
			AccountNumber: req.SenderAccount,
			Amount:        req.Amount,
			Kind:          ledger.Debit,
			Description:   description,
			Reference:     req.Reference,
			TransferID:    transferID,
		})
		if err != nil {
			return err
		}
		credit, err := s.processor.Apply(ctx, tx, processor.Mutation{
			AccountNumber: req.ReceiverAccount,
			Amount:        req.Amount,
			Kind:          ledger.Credit,
			Description:   fmt.Sprintf("Transfer from %s", req.SenderAccount),
			TransferID:    transferID,
		})
		if err != nil {
			return err
		}

		res = Result{
			TransferID:  transferID,
			Sender:      debit.Account,
			Receiver:    credit.Account,
			Debit:       debit.Entry,
			Credit:      credit.Entry,
			CompletedAt: credit.Entry.CreatedAt,
		}
		return nil
	})
	if errors.Is(err, bankerr.ErrDuplicate) {
		return res, err
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (s *Service) lookupSender(ctx context.Context, number string) (account.Account, error) {
	if !account.ValidNumber(number) {
		return account.Account{}, bankerr.ErrAccountNotFound
	}
	return s.store.Get(ctx, number)
}

type lookupFunc func(ctx context.Context, number string) (account.Account, error)

// check runs the status, self-transfer, receiver and funds rules in order
// against sender and the receiver returned by lookup.
func check(ctx context.Context, sender account.Account, req Request, lookup lookupFunc) error {
	if !sender.IsActive() {
		return bankerr.ErrAccountNotActive
	}
	if req.SenderAccount == req.ReceiverAccount {
		return bankerr.ErrSelfTransfer
	}
	if !account.ValidNumber(req.ReceiverAccount) {
		return bankerr.ErrReceiverNotFound
	}
	receiver, err := lookup(ctx, req.ReceiverAccount)
	if errors.Is(err, bankerr.ErrAccountNotFound) {
		return bankerr.ErrReceiverNotFound
	}
	if err != nil {
		return err
	}
	if !receiver.IsActive() {
		return bankerr.ErrReceiverNotActive
	}
	if sender.Balance.LessThan(req.Amount) {
		return bankerr.ErrInsufficientFunds
	}
	return nil
}

// replay looks up an already committed transfer with req.Reference.
func (s *Service) replay(ctx context.Context, req Request) (Result, bool) {
	var (
		res   Result
		found bool
	)
	err := s.store.Atomically(ctx, []string{req.SenderAccount}, func(ctx context.Context, tx ledger.Tx) error {
		prior, ok, err := tx.FindByReference(ctx, req.SenderAccount, req.Reference)
		if err != nil || !ok {
			return err
		}
		sender, err := tx.LockAccount(ctx, req.SenderAccount)
		if err != nil {
			return err
		}
		res = duplicateResult(prior)
		res.Sender = sender
		found = true
		return nil
	})
	if err != nil {
		s.tel.Logger.Warn("transfer replay lookup failed", slog.String("reference", req.Reference), slog.Any("error", err))
		return Result{}, false
	}
	return res, found
}

func duplicateResult(debit ledger.Entry) Result {
	return Result{
		TransferID:  debit.TransferID,
		Debit:       debit,
		CompletedAt: debit.CreatedAt,
	}
}

func (s *Service) notify(ctx context.Context, res Result, req Request) {
	amount := money.Format(req.Amount)
	s.dispatcher.Notify(ctx, notification.Message{
		Kind:        notification.KindTransferSent,
		Destination: res.Sender.OwnerID,
		Body:        fmt.Sprintf("You sent %s to account %s. Balance: %s", amount, res.Receiver.Number, money.Format(res.Sender.Balance)),
		Reference:   res.TransferID,
	})
	s.dispatcher.Notify(ctx, notification.Message{
		Kind:        notification.KindTransferReceived,
		Destination: res.Receiver.OwnerID,
		Body:        fmt.Sprintf("You received %s from account %s. Balance: %s", amount, res.Sender.Number, money.Format(res.Receiver.Balance)),
		Reference:   res.TransferID,
	})
}

func (s *Service) record(ctx context.Context, err error) {
	outcome := "committed"
	if err != nil {
		outcome = string(bankerr.CodeOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	s.transfers.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
