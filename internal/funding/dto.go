package funding

import "github.com/onlinebank/onlinebank/internal/statement"

// DepositRequest credits an account from a teller or cash channel.
type DepositRequest struct {
	Amount      string `json:"amount" validate:"required,amount"`
	Description string `json:"description" validate:"max=255"`
	Reference   string `json:"reference" validate:"omitempty,max=64"`
}

// TopUpRequest captures user-provided data to fund an account from a card.
type TopUpRequest struct {
	CardNumber string `json:"card_number" validate:"required"`
	Expiry     string `json:"expiry"`
	CVV        string `json:"cvv"`
	Amount     string `json:"amount" validate:"required,amount"`
	Reference  string `json:"reference" validate:"omitempty,max=64"`
}

// WithdrawRequest debits an account after PIN verification.
type WithdrawRequest struct {
	Amount      string `json:"amount" validate:"required,amount"`
	Description string `json:"description" validate:"max=255"`
	PIN         string `json:"pin" validate:"required,pin"`
	Reference   string `json:"reference" validate:"omitempty,max=64"`
}

// FundingResponse represents the API response for funding actions.
type FundingResponse struct {
	AccountNumber     string                  `json:"account_number"`
	Balance           string                  `json:"balance"`
	Entry             statement.EntryResponse `json:"entry"`
	AcquirerReference string                  `json:"acquirer_reference,omitempty"`
}
