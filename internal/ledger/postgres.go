package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/onlinebank/onlinebank/internal/account"
	"github.com/onlinebank/onlinebank/internal/bankerr"
	"github.com/onlinebank/onlinebank/internal/lock"
)

const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
	pgUniqueViolation      = "23505"
)

// PostgresStore persists accounts and entries in PostgreSQL. Row locks taken
// with SELECT ... FOR UPDATE in ascending account order provide the exclusive
// scope; an optional lock manager adds a coarser cross-process guard.
type PostgresStore struct {
	db             *pgxpool.Pool
	locks          lock.Manager
	lockTimeout    time.Duration
	acquireTimeout time.Duration
}

// PostgresOptions tunes a PostgresStore.
type PostgresOptions struct {
	// LockTimeout bounds the wait for contended account rows.
	LockTimeout time.Duration
	// AcquireTimeout bounds the wait for a pooled connection.
	AcquireTimeout time.Duration
}

// NewPostgresStore constructs a Postgres-backed store. locks may be nil.
func NewPostgresStore(db *pgxpool.Pool, locks lock.Manager, opts PostgresOptions) *PostgresStore {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = lock.DefaultTimeout
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = opts.LockTimeout
	}
	return &PostgresStore{db: db, locks: locks, lockTimeout: opts.LockTimeout, acquireTimeout: opts.AcquireTimeout}
}

const accountColumns = `number, owner_id, kind, status, balance::text, pin_hash, created_at, updated_at`

// Create inserts an account record.
func (s *PostgresStore) Create(ctx context.Context, acct account.Account) error {
	ownerID, err := uuid.Parse(acct.OwnerID)
	if err != nil {
		return bankerr.Invalid("owner_id", "owner_id must be a UUID")
	}
	_, err = s.db.Exec(ctx, `INSERT INTO accounts (number, owner_id, kind, status, balance, pin_hash, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)`,
		acct.Number, ownerID, string(acct.Kind), string(acct.Status), acct.Balance.StringFixed(2), acct.PINHash,
		acct.CreatedAt.UTC(), acct.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return bankerr.Wrap(bankerr.Conflict, "account already exists", err)
		}
		return classify(err)
	}
	return nil
}

// Exists reports whether an account number is taken.
func (s *PostgresStore) Exists(ctx context.Context, number string) (bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE number = $1)`, number).Scan(&exists); err != nil {
		return false, classify(err)
	}
	return exists, nil
}

// Get fetches an account by number.
func (s *PostgresStore) Get(ctx context.Context, number string) (account.Account, error) {
	return scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE number = $1`, number))
}

// GetByOwner fetches the account owned by ownerID.
func (s *PostgresStore) GetByOwner(ctx context.Context, ownerID string) (account.Account, error) {
	id, err := uuid.Parse(ownerID)
	if err != nil {
		return account.Account{}, bankerr.ErrAccountNotFound
	}
	return scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1`, id))
}

// UpdateAccount changes non-balance attributes under the row lock.
func (s *PostgresStore) UpdateAccount(ctx context.Context, number string, fn func(*account.Account) error) (account.Account, error) {
	return updateAccount(ctx, s, number, fn)
}

// Atomically runs fn inside one database transaction. Rows are locked in
// ascending key order before fn runs.
func (s *PostgresStore) Atomically(ctx context.Context, keys []string, fn func(ctx context.Context, tx Tx) error) error {
	keys = lock.SortedKeys(keys)
	if s.locks != nil {
		release, err := s.locks.Acquire(ctx, keys...)
		if err != nil {
			return err
		}
		defer release()
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return classify(err)
	}

	ptx := &postgresTx{tx: tx, scope: make(map[string]bool, len(keys))}
	for _, key := range keys {
		// missing rows are reported by LockAccount
		if _, err := tx.Exec(ctx, `SELECT 1 FROM accounts WHERE number = $1 FOR UPDATE`, key); err != nil {
			return classify(err)
		}
		ptx.scope[key] = true
	}

	if err := fn(ctx, ptx); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return bankerr.Wrap(bankerr.StoreUnavailable, "commit ledger unit", err)
	}
	return nil
}

// acquire takes a pooled connection, failing busy when none frees up within
// the acquire timeout.
func (s *PostgresStore) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acqCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()
	conn, err := s.db.Acquire(acqCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, bankerr.Wrap(bankerr.Busy, "no database connection available, retry later", err)
		}
		return nil, classify(err)
	}
	return conn, nil
}

// Entries lists history newest first using the entry id as keyset cursor.
func (s *PostgresStore) Entries(ctx context.Context, number string, page Page) (EntryPage, error) {
	if ok, err := s.Exists(ctx, number); err != nil {
		return EntryPage{}, err
	} else if !ok {
		return EntryPage{}, bankerr.ErrAccountNotFound
	}

	limit := page.limit()
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM entries
        WHERE account_number = $1 AND ($2::bigint = 0 OR id < $2)
        ORDER BY id DESC LIMIT $3`, number, page.Cursor, limit+1)
	if err != nil {
		return EntryPage{}, classify(err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		return scanEntry(row)
	})
	if err != nil {
		return EntryPage{}, classify(err)
	}

	var out EntryPage
	if len(entries) > limit {
		entries = entries[:limit]
		out.NextCursor = entries[limit-1].ID
	}
	out.Entries = entries
	return out, nil
}

// Totals sums credits and debits for number.
func (s *PostgresStore) Totals(ctx context.Context, number string) (Totals, error) {
	if ok, err := s.Exists(ctx, number); err != nil {
		return Totals{}, err
	} else if !ok {
		return Totals{}, bankerr.ErrAccountNotFound
	}
	t, err := sumEntries(s.db.QueryRow(ctx, totalsQuery, number))
	if err != nil {
		return Totals{}, classify(err)
	}
	return t, nil
}

const totalsQuery = `SELECT
            COALESCE(SUM(amount) FILTER (WHERE kind = 'credit'), 0)::text,
            COALESCE(SUM(amount) FILTER (WHERE kind = 'debit'), 0)::text
        FROM entries WHERE account_number = $1`

func sumEntries(row pgx.Row) (Totals, error) {
	var credits, debits string
	if err := row.Scan(&credits, &debits); err != nil {
		return Totals{}, err
	}
	var (
		t   Totals
		err error
	)
	if t.Credits, err = decimal.NewFromString(credits); err != nil {
		return Totals{}, err
	}
	if t.Debits, err = decimal.NewFromString(debits); err != nil {
		return Totals{}, err
	}
	return t, nil
}

type postgresTx struct {
	tx    pgx.Tx
	scope map[string]bool
}

func (p *postgresTx) LockAccount(ctx context.Context, number string) (account.Account, error) {
	if !p.scope[number] {
		return account.Account{}, fmt.Errorf("%s: %w", number, errOutOfScope)
	}
	return scanAccount(p.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE number = $1 FOR UPDATE`, number))
}

func (p *postgresTx) SaveAccount(ctx context.Context, acct account.Account) error {
	if !p.scope[acct.Number] {
		return fmt.Errorf("%s: %w", acct.Number, errOutOfScope)
	}
	cmd, err := p.tx.Exec(ctx, `UPDATE accounts
        SET status = $2, balance = $3::numeric, pin_hash = $4, updated_at = $5
        WHERE number = $1`,
		acct.Number, string(acct.Status), acct.Balance.StringFixed(2), acct.PINHash, acct.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return bankerr.ErrAccountNotFound
	}
	return nil
}

const entryColumns = `id, account_number, kind, amount::text, balance_after::text, description,
        COALESCE(reference, ''), COALESCE(transfer_id, ''), created_at`

func (p *postgresTx) AppendEntry(ctx context.Context, e Entry) (Entry, error) {
	if !p.scope[e.AccountNumber] {
		return Entry{}, fmt.Errorf("%s: %w", e.AccountNumber, errOutOfScope)
	}
	// created_at is kept strictly increasing per account even if the clock
	// steps backwards.
	row := p.tx.QueryRow(ctx, `INSERT INTO entries
            (account_number, kind, amount, balance_after, description, reference, transfer_id, created_at)
        VALUES ($1, $2, $3::numeric, $4::numeric, $5, NULLIF($6, ''), NULLIF($7, ''),
            GREATEST(clock_timestamp(),
                COALESCE((SELECT MAX(created_at) FROM entries WHERE account_number = $1), '-infinity'::timestamptz)
                    + interval '1 microsecond'))
        RETURNING `+entryColumns,
		e.AccountNumber, string(e.Kind), e.Amount.StringFixed(2), e.BalanceAfter.StringFixed(2),
		e.Description, e.Reference, e.TransferID)
	out, err := scanEntry(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Entry{}, bankerr.Wrap(bankerr.Duplicate, "duplicate transaction", err)
		}
		return Entry{}, err
	}
	return out, nil
}

func (p *postgresTx) FindByReference(ctx context.Context, number, reference string) (Entry, bool, error) {
	e, err := scanEntry(p.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM entries
        WHERE account_number = $1 AND reference = $2`, number, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return e, true, nil
}

// Totals reads the sums on the unit's own connection. The account row is
// already locked, so no posting can land between this and LockAccount.
func (p *postgresTx) Totals(ctx context.Context, number string) (Totals, error) {
	if !p.scope[number] {
		return Totals{}, fmt.Errorf("%s: %w", number, errOutOfScope)
	}
	return sumEntries(p.tx.QueryRow(ctx, totalsQuery, number))
}

func scanAccount(row pgx.Row) (account.Account, error) {
	var (
		a            account.Account
		ownerID      uuid.UUID
		kind, status string
		balance      string
		createdAt    time.Time
		updatedAt    time.Time
	)
	if err := row.Scan(&a.Number, &ownerID, &kind, &status, &balance, &a.PINHash, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return account.Account{}, bankerr.ErrAccountNotFound
		}
		return account.Account{}, classify(err)
	}
	bal, err := decimal.NewFromString(balance)
	if err != nil {
		return account.Account{}, fmt.Errorf("decode balance of %s: %w", a.Number, err)
	}
	a.OwnerID = ownerID.String()
	a.Kind = account.Kind(kind)
	a.Status = account.Status(status)
	a.Balance = bal
	a.CreatedAt = createdAt.UTC()
	a.UpdatedAt = updatedAt.UTC()
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e             Entry
		kind          string
		amount, after string
		createdAt     time.Time
	)
	if err := row.Scan(&e.ID, &e.AccountNumber, &kind, &amount, &after, &e.Description, &e.Reference, &e.TransferID, &createdAt); err != nil {
		return Entry{}, err
	}
	var err error
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return Entry{}, err
	}
	if e.BalanceAfter, err = decimal.NewFromString(after); err != nil {
		return Entry{}, err
	}
	e.Kind = Kind(kind)
	e.CreatedAt = createdAt.UTC()
	return e, nil
}

// classify maps driver failures onto the error taxonomy. Already classified
// errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var be *bankerr.Error
	if errors.As(err, &be) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure:
			return bankerr.Wrap(bankerr.Busy, "account is busy, retry later", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return bankerr.Wrap(bankerr.Busy, "account is busy, retry later", err)
	}
	if errors.Is(err, errOutOfScope) || errors.Is(err, errBalanceOutsidePosting) || errors.Is(err, context.Canceled) {
		return err
	}
	return bankerr.Wrap(bankerr.StoreUnavailable, "store unavailable", err)
}
