// Package credential manages the transaction PIN of an account and turns a
// verified PIN into the authorization consumed by money movement.
package credential

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/crypto/bcrypt"

	"github.com/onlinebank/onlinebank/internal/account"
	"github.com/onlinebank/onlinebank/internal/bankerr"
	"github.com/onlinebank/onlinebank/internal/telemetry"
)

var (
	// ErrPINNotSet is returned when authorizing an account without a PIN.
	ErrPINNotSet = bankerr.New(bankerr.BadCredential, "transaction PIN not set")
	// ErrWrongPIN is returned when the supplied PIN does not match.
	ErrWrongPIN = bankerr.New(bankerr.BadCredential, "invalid transaction PIN")
)

// Authorization proves the PIN of AccountNumber was verified for the current
// request.
type Authorization struct {
	AccountNumber string
	Verified      bool
}

// Permits reports whether a holds for the account number.
func (a Authorization) Permits(number string) bool {
	return a.Verified && a.AccountNumber != "" && a.AccountNumber == number
}

// Service manages transaction PINs.
type Service struct {
	repo     account.Repository
	cost     int
	tel      telemetry.Handle
	failures metric.Int64Counter
}

// NewService creates a credential service hashing with the given bcrypt
// cost. Out of range costs use bcrypt.DefaultCost.
func NewService(repo account.Repository, cost int, tel telemetry.Handle) *Service {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		repo:     repo,
		cost:     cost,
		tel:      tel,
		failures: tel.Counter("credential.failures", "Failed PIN verifications"),
	}
}

// SetPINInput carries a PIN change. CurrentPIN is required once a PIN exists.
type SetPINInput struct {
	AccountNumber string
	CurrentPIN    string
	NewPIN        string
	ConfirmPIN    string
}

// SetPIN stores a salted hash of input.NewPIN on the account.
func (s *Service) SetPIN(ctx context.Context, input SetPINInput) error {
	if !ValidPIN(input.NewPIN) {
		return bankerr.Invalid("pin", "pin must be 4 to 6 digits")
	}
	if input.NewPIN != input.ConfirmPIN {
		return bankerr.Invalid("confirm_pin", "confirm_pin must match pin")
	}

	acct, err := s.get(ctx, input.AccountNumber)
	if err != nil {
		return err
	}
	if acct.Status == account.StatusClosed {
		return bankerr.ErrAccountNotActive
	}
	if acct.HasPIN() {
		if err := bcrypt.CompareHashAndPassword(acct.PINHash, []byte(input.CurrentPIN)); err != nil {
			s.fail(ctx, acct.Number, "set_pin")
			return ErrWrongPIN
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.NewPIN), s.cost)
	if err != nil {
		return err
	}

	// The hash is compared again under the lock so a concurrent change made
	// after the check above is not silently overwritten.
	previous := acct.PINHash
	_, err = s.repo.UpdateAccount(ctx, acct.Number, func(a *account.Account) error {
		if !bytes.Equal(a.PINHash, previous) {
			return bankerr.New(bankerr.Conflict, "transaction PIN changed concurrently")
		}
		a.PINHash = hash
		return nil
	})
	if err != nil {
		return err
	}

	s.tel.Logger.Info("transaction pin set", slog.String("account", acct.Number), slog.Bool("changed", acct.HasPIN()))
	return nil
}

// Verify reports whether pin matches the account's stored hash. An account
// without a PIN never verifies.
func (s *Service) Verify(ctx context.Context, number, pin string) (bool, error) {
	acct, err := s.get(ctx, number)
	if err != nil {
		return false, err
	}
	if !acct.HasPIN() {
		return false, nil
	}
	if err := bcrypt.CompareHashAndPassword(acct.PINHash, []byte(pin)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.fail(ctx, number, "verify")
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Authorize verifies pin and returns the proof required by transfers and
// withdrawals.
func (s *Service) Authorize(ctx context.Context, number, pin string) (Authorization, error) {
	acct, err := s.get(ctx, number)
	if err != nil {
		return Authorization{}, err
	}
	if !acct.HasPIN() {
		return Authorization{}, ErrPINNotSet
	}
	ok, err := s.Verify(ctx, number, pin)
	if err != nil {
		return Authorization{}, err
	}
	if !ok {
		return Authorization{}, ErrWrongPIN
	}
	return Authorization{AccountNumber: number, Verified: true}, nil
}

func (s *Service) get(ctx context.Context, number string) (account.Account, error) {
	if !account.ValidNumber(number) {
		return account.Account{}, bankerr.ErrAccountNotFound
	}
	return s.repo.Get(ctx, number)
}

func (s *Service) fail(ctx context.Context, number, op string) {
	s.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	s.tel.Logger.Warn("pin verification failed", slog.String("account", number), slog.String("op", op))
}

// ValidPIN reports whether pin is 4 to 6 ASCII digits.
func ValidPIN(pin string) bool {
	if len(pin) < 4 || len(pin) > 6 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
