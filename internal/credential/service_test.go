package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/onlinebank/onlinebank/internal/account"
	"github.com/onlinebank/onlinebank/internal/bankerr"
	"github.com/onlinebank/onlinebank/internal/ledger"
	"github.com/onlinebank/onlinebank/internal/telemetry"
)

func setup(t *testing.T) (*Service, *account.Service, account.Account) {
	t.Helper()
	store := ledger.NewInMemory(nil)
	tel := telemetry.Discard()
	accounts := account.NewService(store, nil, tel)
	acct, err := accounts.Open(context.Background(), account.OpenInput{OwnerID: uuid.NewString()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return NewService(store, bcrypt.MinCost, tel), accounts, acct
}

func TestSetPINAndVerify(t *testing.T) {
	svc, accounts, acct := setup(t)
	ctx := context.Background()

	if err := svc.SetPIN(ctx, SetPINInput{AccountNumber: acct.Number, NewPIN: "1234", ConfirmPIN: "1234"}); err != nil {
		t.Fatalf("set pin: %v", err)
	}

	stored, _ := accounts.Get(ctx, acct.Number)
	if !stored.HasPIN() || string(stored.PINHash) == "1234" {
		t.Fatalf("expected a hashed pin to be stored")
	}

	ok, err := svc.Verify(ctx, acct.Number, "1234")
	if err != nil || !ok {
		t.Fatalf("expected pin to verify, got %v %v", ok, err)
	}
	ok, err = svc.Verify(ctx, acct.Number, "4321")
	if err != nil || ok {
		t.Fatalf("expected wrong pin to fail verification, got %v %v", ok, err)
	}
}

func TestSetPINValidation(t *testing.T) {
	svc, _, acct := setup(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input SetPINInput
	}{
		{"too short", SetPINInput{AccountNumber: acct.Number, NewPIN: "123", ConfirmPIN: "123"}},
		{"too long", SetPINInput{AccountNumber: acct.Number, NewPIN: "1234567", ConfirmPIN: "1234567"}},
		{"not digits", SetPINInput{AccountNumber: acct.Number, NewPIN: "12a4", ConfirmPIN: "12a4"}},
		{"mismatch", SetPINInput{AccountNumber: acct.Number, NewPIN: "1234", ConfirmPIN: "1235"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := svc.SetPIN(ctx, tc.input); bankerr.CodeOf(err) != bankerr.InvalidRequest {
				t.Fatalf("expected invalid request, got %v", err)
			}
		})
	}

	if err := svc.SetPIN(ctx, SetPINInput{AccountNumber: "000000000000", NewPIN: "1234", ConfirmPIN: "1234"}); !errors.Is(err, bankerr.ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestChangePINRequiresCurrent(t *testing.T) {
	svc, _, acct := setup(t)
	ctx := context.Background()

	if err := svc.SetPIN(ctx, SetPINInput{AccountNumber: acct.Number, NewPIN: "1234", ConfirmPIN: "1234"}); err != nil {
		t.Fatalf("set pin: %v", err)
	}
	err := svc.SetPIN(ctx, SetPINInput{AccountNumber: acct.Number, CurrentPIN: "0000", NewPIN: "5678", ConfirmPIN: "5678"})
	if !errors.Is(err, bankerr.ErrBadCredential) {
		t.Fatalf("expected bad credential, got %v", err)
	}
	if err := svc.SetPIN(ctx, SetPINInput{AccountNumber: acct.Number, CurrentPIN: "1234", NewPIN: "5678", ConfirmPIN: "5678"}); err != nil {
		t.Fatalf("change pin: %v", err)
	}
	if ok, _ := svc.Verify(ctx, acct.Number, "5678"); !ok {
		t.Fatalf("expected new pin to verify")
	}
}

func TestAuthorize(t *testing.T) {
	svc, _, acct := setup(t)
	ctx := context.Background()

	if _, err := svc.Authorize(ctx, acct.Number, "1234"); !errors.Is(err, ErrPINNotSet) {
		t.Fatalf("expected pin not set, got %v", err)
	}
	if err := svc.SetPIN(ctx, SetPINInput{AccountNumber: acct.Number, NewPIN: "246810", ConfirmPIN: "246810"}); err != nil {
		t.Fatalf("set pin: %v", err)
	}
	if _, err := svc.Authorize(ctx, acct.Number, "111111"); !errors.Is(err, bankerr.ErrBadCredential) {
		t.Fatalf("expected bad credential, got %v", err)
	}

	authz, err := svc.Authorize(ctx, acct.Number, "246810")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !authz.Permits(acct.Number) {
		t.Fatalf("expected authorization to permit its own account")
	}
	if authz.Permits("999999999999") {
		t.Fatalf("authorization must be bound to one account")
	}
	if (Authorization{AccountNumber: acct.Number}).Permits(acct.Number) {
		t.Fatalf("unverified authorization must not permit")
	}
}

func TestSetPINOnClosedAccount(t *testing.T) {
	svc, accounts, acct := setup(t)
	ctx := context.Background()
	if _, err := accounts.Close(ctx, acct.Number); err != nil {
		t.Fatalf("close: %v", err)
	}
	err := svc.SetPIN(ctx, SetPINInput{AccountNumber: acct.Number, NewPIN: "1234", ConfirmPIN: "1234"})
	if !errors.Is(err, bankerr.ErrAccountNotActive) {
		t.Fatalf("expected account not active, got %v", err)
	}
}
