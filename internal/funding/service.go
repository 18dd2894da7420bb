package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/onlinebank/onlinebank/internal/account"
	"github.com/onlinebank/onlinebank/internal/bankerr"
	"github.com/onlinebank/onlinebank/internal/credential"
	"github.com/onlinebank/onlinebank/internal/ledger"
	"github.com/onlinebank/onlinebank/internal/money"
	"github.com/onlinebank/onlinebank/internal/notification"
	"github.com/onlinebank/onlinebank/internal/processor"
	"github.com/onlinebank/onlinebank/internal/telemetry"
)

// ErrCardDeclined is returned when the acquirer refuses a top-up.
var ErrCardDeclined = bankerr.New(bankerr.BadCredential, "card authorization declined")

// Service coordinates deposits, card top-ups and withdrawals through the
// transaction processor.
type Service struct {
	accounts   account.Repository
	processor  *processor.Processor
	acquirer   Acquirer
	dispatcher *notification.Dispatcher
	tel        telemetry.Handle
}

// NewService prepares a funding service. A nil acquirer approves every card.
func NewService(accounts account.Repository, proc *processor.Processor, acquirer Acquirer, dispatcher *notification.Dispatcher, tel telemetry.Handle) *Service {
	if acquirer == nil {
		acquirer = StaticAcquirer{}
	}
	return &Service{accounts: accounts, processor: proc, acquirer: acquirer, dispatcher: dispatcher, tel: tel}
}

// DepositInput credits an account.
type DepositInput struct {
	AccountNumber string
	Amount        decimal.Decimal
	Description   string
	Reference     string
}

// TopUpInput captures the required data for a card top-up.
type TopUpInput struct {
	AccountNumber string
	Amount        decimal.Decimal
	Reference     string
	CardNumber    string
	Expiry        string
	CVV           string
}

// WithdrawInput debits an account. Authorization must be verified for
// AccountNumber.
type WithdrawInput struct {
	AccountNumber string
	Amount        decimal.Decimal
	Description   string
	Reference     string
	Authorization credential.Authorization
	RequestorID   string
}

// Result represents the domain outcome of a funding operation.
type Result struct {
	Account           account.Account
	Entry             ledger.Entry
	AcquirerReference string
}

// Deposit credits input.Amount to the account.
func (s *Service) Deposit(ctx context.Context, input DepositInput) (Result, error) {
	description := input.Description
	if description == "" {
		description = "Deposit"
	}
	res, err := s.processor.Process(ctx, processor.Mutation{
		AccountNumber: input.AccountNumber,
		Amount:        input.Amount,
		Kind:          ledger.Credit,
		Description:   description,
		Reference:     input.Reference,
	})
	if err != nil {
		return Result{Account: res.Account, Entry: res.Entry}, err
	}
	s.notify(ctx, notification.KindDeposit, res, "Your account was credited with %s. Balance: %s")
	return Result{Account: res.Account, Entry: res.Entry}, nil
}

// TopUp authorizes a card charge and credits the account.
func (s *Service) TopUp(ctx context.Context, input TopUpInput) (Result, error) {
	if err := validateCardNumber(input.CardNumber); err != nil {
		return Result{}, err
	}
	if err := processor.Validate(processor.Mutation{Amount: input.Amount, Kind: ledger.Credit}); err != nil {
		return Result{}, err
	}

	// Refuse before charging the card when the account cannot take the credit.
	acct, err := s.get(ctx, input.AccountNumber)
	if err != nil {
		return Result{}, err
	}
	if !acct.IsActive() {
		return Result{}, bankerr.ErrAccountNotActive
	}

	decision, err := s.acquirer.AuthorizeCardIn(ctx, CardInAuthorization{
		CardNumber: input.CardNumber,
		Expiry:     input.Expiry,
		CVV:        input.CVV,
		Amount:     input.Amount,
	})
	if err != nil {
		return Result{}, fmt.Errorf("authorize card: %w", err)
	}
	if decision.Status != DecisionApproved {
		return Result{}, ErrCardDeclined
	}

	res, err := s.processor.Process(ctx, processor.Mutation{
		AccountNumber: input.AccountNumber,
		Amount:        input.Amount,
		Kind:          ledger.Credit,
		Description:   "Card top-up " + maskCard(input.CardNumber),
		Reference:     input.Reference,
	})
	out := Result{Account: res.Account, Entry: res.Entry, AcquirerReference: decision.Reference}
	if err != nil {
		if !errors.Is(err, bankerr.ErrDuplicate) {
			s.tel.Logger.Error("card charged but top-up not posted",
				slog.String("account", input.AccountNumber),
				slog.String("acquirer_reference", decision.Reference),
				slog.Any("error", err),
			)
		}
		return out, err
	}
	s.notify(ctx, notification.KindDeposit, res, "Your account was topped up with %s. Balance: %s")
	return out, nil
}

// Withdraw debits input.Amount from the account.
func (s *Service) Withdraw(ctx context.Context, input WithdrawInput) (Result, error) {
	if !input.Authorization.Permits(input.AccountNumber) {
		return Result{}, bankerr.ErrBadCredential
	}
	if input.RequestorID != "" {
		acct, err := s.get(ctx, input.AccountNumber)
		if err != nil {
			return Result{}, err
		}
		if acct.OwnerID != input.RequestorID {
			return Result{}, bankerr.ErrNotOwner
		}
	}

	description := input.Description
	if description == "" {
		description = "Withdrawal"
	}
	res, err := s.processor.Process(ctx, processor.Mutation{
		AccountNumber: input.AccountNumber,
		Amount:        input.Amount,
		Kind:          ledger.Debit,
		Description:   description,
		Reference:     input.Reference,
	})
	if err != nil {
		return Result{Account: res.Account, Entry: res.Entry}, err
	}
	s.notify(ctx, notification.KindWithdrawal, res, "%s was withdrawn from your account. Balance: %s")
	return Result{Account: res.Account, Entry: res.Entry}, nil
}

func (s *Service) get(ctx context.Context, number string) (account.Account, error) {
	if !account.ValidNumber(number) {
		return account.Account{}, bankerr.ErrAccountNotFound
	}
	return s.accounts.Get(ctx, number)
}

func (s *Service) notify(ctx context.Context, kind string, res processor.Result, format string) {
	s.dispatcher.Notify(ctx, notification.Message{
		Kind:        kind,
		Destination: res.Account.OwnerID,
		Body:        fmt.Sprintf(format, money.Format(res.Entry.Amount), money.Format(res.Account.Balance)),
		Reference:   fmt.Sprintf("%d", res.Entry.ID),
	})
}

func validateCardNumber(card string) error {
	digits := strings.ReplaceAll(card, " ", "")
	if len(digits) < 12 || len(digits) > 19 {
		return bankerr.Invalid("card_number", "card number must be between 12 and 19 digits")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return bankerr.Invalid("card_number", "card number must be numeric")
		}
	}
	return nil
}

func maskCard(card string) string {
	digits := strings.ReplaceAll(card, " ", "")
	return "****" + digits[len(digits)-4:]
}
