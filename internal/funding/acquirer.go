package funding

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DecisionApproved is the status of an authorized card charge.
const DecisionApproved = "approved"

// Acquirer represents a connector to an external card processor.
type Acquirer interface {
	AuthorizeCardIn(ctx context.Context, input CardInAuthorization) (AuthorizationDecision, error)
}

// AuthorizationDecision captures the response from the acquirer.
type AuthorizationDecision struct {
	Reference string
	Status    string
}

// CardInAuthorization encapsulates details needed for a card top-up authorization.
type CardInAuthorization struct {
	CardNumber string
	Expiry     string
	CVV        string
	Amount     decimal.Decimal
}

// StaticAcquirer simulates a successful acquirer integration.
type StaticAcquirer struct{}

// AuthorizeCardIn approves the funding request with a synthetic reference.
func (StaticAcquirer) AuthorizeCardIn(_ context.Context, _ CardInAuthorization) (AuthorizationDecision, error) {
	return AuthorizationDecision{Reference: uuid.NewString(), Status: DecisionApproved}, nil
}
