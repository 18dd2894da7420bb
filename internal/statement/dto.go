package statement

import (
	"time"

	"github.com/onlinebank/onlinebank/internal/ledger"
	"github.com/onlinebank/onlinebank/internal/money"
)

// EntryResponse is the public representation of a ledger entry.
type EntryResponse struct {
	ID            int64     `json:"id"`
	AccountNumber string    `json:"account_number"`
	Kind          string    `json:"kind"`
	Amount        string    `json:"amount"`
	BalanceAfter  string    `json:"balance_after"`
	Description   string    `json:"description"`
	Reference     string    `json:"reference,omitempty"`
	TransferID    string    `json:"transfer_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ToEntryResponse renders e for API consumers.
func ToEntryResponse(e ledger.Entry) EntryResponse {
	return EntryResponse{
		ID:            e.ID,
		AccountNumber: e.AccountNumber,
		Kind:          string(e.Kind),
		Amount:        money.Format(e.Amount),
		BalanceAfter:  money.Format(e.BalanceAfter),
		Description:   e.Description,
		Reference:     e.Reference,
		TransferID:    e.TransferID,
		CreatedAt:     e.CreatedAt,
	}
}

// HistoryResponse is one page of account history.
type HistoryResponse struct {
	Entries    []EntryResponse `json:"entries"`
	NextCursor int64           `json:"next_cursor,omitempty"`
}

// ReconciliationResponse reports whether an account's balance matches its
// entries.
type ReconciliationResponse struct {
	AccountNumber string `json:"account_number"`
	Balance       string `json:"balance"`
	Credits       string `json:"credits"`
	Debits        string `json:"debits"`
	Balanced      bool   `json:"balanced"`
}
