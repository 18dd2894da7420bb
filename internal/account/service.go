package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onlinebank/onlinebank/internal/bankerr"
	"github.com/onlinebank/onlinebank/internal/telemetry"
)

// Service exposes account lifecycle operations.
type Service struct {
	repo    Repository
	numbers NumberGenerator
	tel     telemetry.Handle
}

// NewService builds an account service. A nil generator draws random numbers.
func NewService(repo Repository, numbers NumberGenerator, tel telemetry.Handle) *Service {
	if numbers == nil {
		numbers = RandomNumber
	}
	return &Service{repo: repo, numbers: numbers, tel: tel}
}

// OpenInput captures data required to open an account.
type OpenInput struct {
	OwnerID string
	Kind    Kind
}

// Open provisions the single account owned by input.OwnerID with a zero
// balance.
func (s *Service) Open(ctx context.Context, input OpenInput) (Account, error) {
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return Account{}, bankerr.Invalid("owner_id", "owner_id must be a UUID")
	}
	if input.Kind == "" {
		input.Kind = KindSavings
	}
	if !input.Kind.Valid() {
		return Account{}, bankerr.Invalid("kind", "kind must be savings or checking")
	}

	if _, err := s.repo.GetByOwner(ctx, input.OwnerID); err == nil {
		return Account{}, bankerr.New(bankerr.Conflict, "owner already has an account")
	} else if !errors.Is(err, bankerr.ErrAccountNotFound) {
		return Account{}, err
	}

	number, err := GenerateUniqueNumber(ctx, s.repo.Exists, s.numbers)
	if err != nil {
		return Account{}, err
	}

	now := time.Now().UTC()
	acct := Account{
		Number:    number,
		OwnerID:   input.OwnerID,
		Kind:      input.Kind,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, acct); err != nil {
		return Account{}, err
	}

	s.tel.Logger.Info("account opened",
		slog.String("account", acct.Number),
		slog.String("owner_id", acct.OwnerID),
		slog.String("kind", string(acct.Kind)),
	)
	return acct, nil
}

// Get retrieves an account by number.
func (s *Service) Get(ctx context.Context, number string) (Account, error) {
	if !ValidNumber(number) {
		return Account{}, bankerr.ErrAccountNotFound
	}
	return s.repo.Get(ctx, number)
}

// GetByOwner retrieves the account owned by ownerID.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (Account, error) {
	return s.repo.GetByOwner(ctx, ownerID)
}

// Freeze blocks postings on an active account.
func (s *Service) Freeze(ctx context.Context, number string) (Account, error) {
	return s.ChangeStatus(ctx, number, StatusFrozen)
}

// Unfreeze reactivates a frozen account.
func (s *Service) Unfreeze(ctx context.Context, number string) (Account, error) {
	return s.ChangeStatus(ctx, number, StatusActive)
}

// Close permanently retires an account. The balance must be zero.
func (s *Service) Close(ctx context.Context, number string) (Account, error) {
	return s.ChangeStatus(ctx, number, StatusClosed)
}

// ChangeStatus applies a status transition under the account lock.
func (s *Service) ChangeStatus(ctx context.Context, number string, to Status) (Account, error) {
	if !to.Valid() {
		return Account{}, bankerr.Invalid("status", "status must be active, frozen or closed")
	}
	if !ValidNumber(number) {
		return Account{}, bankerr.ErrAccountNotFound
	}

	var from Status
	acct, err := s.repo.UpdateAccount(ctx, number, func(a *Account) error {
		from = a.Status
		if err := checkTransition(*a, to); err != nil {
			return err
		}
		a.Status = to
		a.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return Account{}, err
	}

	s.tel.Logger.Info("account status changed",
		slog.String("account", number),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	return acct, nil
}

func checkTransition(a Account, to Status) error {
	if a.Status == to {
		return nil
	}
	switch a.Status {
	case StatusClosed:
		return bankerr.New(bankerr.Conflict, "account is closed")
	case StatusActive, StatusFrozen:
		if to == StatusClosed && !a.Balance.IsZero() {
			return bankerr.New(bankerr.Conflict, fmt.Sprintf("account balance must be zero to close, have %s", a.Balance.StringFixed(2)))
		}
	}
	return nil
}
