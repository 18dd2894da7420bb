package account

import "context"

// Repository persists accounts. Implementations live next to the ledger so
// that account rows and entries share one transactional substrate.
type Repository interface {
	Create(ctx context.Context, acct Account) error
	Exists(ctx context.Context, number string) (bool, error)
	Get(ctx context.Context, number string) (Account, error)
	GetByOwner(ctx context.Context, ownerID string) (Account, error)
	// UpdateAccount runs fn under the account's exclusive lock and persists the
	// result. fn must not change the balance.
	UpdateAccount(ctx context.Context, number string, fn func(*Account) error) (Account, error)
}
