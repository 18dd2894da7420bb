package ledger

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/onlinebank/onlinebank/internal/account"
	"github.com/onlinebank/onlinebank/internal/bankerr"
	"github.com/onlinebank/onlinebank/internal/lock"
)

// InMemory is a concurrency-safe store for tests and development. Writes of
// an atomic unit are staged and published under one mutex at commit.
type InMemory struct {
	mu       sync.RWMutex
	accounts map[string]account.Account
	owners   map[string]string
	entries  map[string][]Entry
	refs     map[refKey]Entry
	nextID   int64
	failNext error

	locks lock.Manager
	now   func() time.Time
}

type refKey struct {
	number    string
	reference string
}

// NewInMemory creates an in-memory store. A nil manager uses a process-local
// one with the default timeout.
func NewInMemory(locks lock.Manager) *InMemory {
	if locks == nil {
		locks = lock.NewLocal(lock.DefaultTimeout)
	}
	return &InMemory{
		accounts: make(map[string]account.Account),
		owners:   make(map[string]string),
		entries:  make(map[string][]Entry),
		refs:     make(map[refKey]Entry),
		locks:    locks,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemory) Create(_ context.Context, acct account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[acct.Number]; exists {
		return bankerr.New(bankerr.Conflict, "account number already exists")
	}
	if _, exists := s.owners[acct.OwnerID]; exists {
		return bankerr.New(bankerr.Conflict, "owner already has an account")
	}
	s.accounts[acct.Number] = cloneAccount(acct)
	s.owners[acct.OwnerID] = acct.Number
	return nil
}

func (s *InMemory) Exists(_ context.Context, number string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[number]
	return ok, nil
}

func (s *InMemory) Get(_ context.Context, number string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[number]
	if !ok {
		return account.Account{}, bankerr.ErrAccountNotFound
	}
	return cloneAccount(acct), nil
}

func (s *InMemory) GetByOwner(_ context.Context, ownerID string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	number, ok := s.owners[ownerID]
	if !ok {
		return account.Account{}, bankerr.ErrAccountNotFound
	}
	return cloneAccount(s.accounts[number]), nil
}

func (s *InMemory) UpdateAccount(ctx context.Context, number string, fn func(*account.Account) error) (account.Account, error) {
	return updateAccount(ctx, s, number, fn)
}

func (s *InMemory) Atomically(ctx context.Context, keys []string, fn func(ctx context.Context, tx Tx) error) error {
	keys = lock.SortedKeys(keys)
	release, err := s.locks.Acquire(ctx, keys...)
	if err != nil {
		return err
	}
	defer release()

	tx := &memoryTx{
		store:    s,
		scope:    keys,
		accounts: make(map[string]account.Account, len(keys)),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *InMemory) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return bankerr.Wrap(bankerr.StoreUnavailable, "commit ledger unit", err)
	}

	for number, acct := range tx.accounts {
		s.accounts[number] = acct
	}
	for _, e := range tx.entries {
		s.entries[e.AccountNumber] = append(s.entries[e.AccountNumber], e)
		if e.Reference != "" {
			s.refs[refKey{e.AccountNumber, e.Reference}] = e
		}
	}
	return nil
}

func (s *InMemory) Entries(_ context.Context, number string, page Page) (EntryPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[number]; !ok {
		return EntryPage{}, bankerr.ErrAccountNotFound
	}

	limit := page.limit()
	list := s.entries[number]
	out := make([]Entry, 0, limit)
	for i := len(list) - 1; i >= 0; i-- {
		e := list[i]
		if page.Cursor > 0 && e.ID >= page.Cursor {
			continue
		}
		if len(out) == limit {
			return EntryPage{Entries: out, NextCursor: out[len(out)-1].ID}, nil
		}
		out = append(out, e)
	}
	return EntryPage{Entries: out}, nil
}

func (s *InMemory) Totals(_ context.Context, number string) (Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[number]; !ok {
		return Totals{}, bankerr.ErrAccountNotFound
	}
	var t Totals
	for _, e := range s.entries[number] {
		t.add(e)
	}
	return t, nil
}

type memoryTx struct {
	store    *InMemory
	scope    []string
	accounts map[string]account.Account
	entries  []Entry
}

func (tx *memoryTx) inScope(number string) error {
	if _, found := slices.BinarySearch(tx.scope, number); !found {
		return fmt.Errorf("%s: %w", number, errOutOfScope)
	}
	return nil
}

func (tx *memoryTx) LockAccount(_ context.Context, number string) (account.Account, error) {
	if err := tx.inScope(number); err != nil {
		return account.Account{}, err
	}
	if acct, ok := tx.accounts[number]; ok {
		return cloneAccount(acct), nil
	}
	tx.store.mu.RLock()
	acct, ok := tx.store.accounts[number]
	tx.store.mu.RUnlock()
	if !ok {
		return account.Account{}, bankerr.ErrAccountNotFound
	}
	return cloneAccount(acct), nil
}

func (tx *memoryTx) SaveAccount(ctx context.Context, acct account.Account) error {
	if _, err := tx.LockAccount(ctx, acct.Number); err != nil {
		return err
	}
	tx.accounts[acct.Number] = cloneAccount(acct)
	return nil
}

func (tx *memoryTx) AppendEntry(_ context.Context, e Entry) (Entry, error) {
	if err := tx.inScope(e.AccountNumber); err != nil {
		return Entry{}, err
	}
	if !e.Kind.Valid() {
		return Entry{}, bankerr.ErrInvalidKind
	}
	if !e.Amount.IsPositive() {
		return Entry{}, bankerr.ErrInvalidAmount
	}
	if e.Reference != "" {
		if _, found, _ := tx.FindByReference(context.Background(), e.AccountNumber, e.Reference); found {
			return Entry{}, bankerr.ErrDuplicate
		}
	}

	s := tx.store
	s.mu.Lock()
	s.nextID++
	e.ID = s.nextID
	last := time.Time{}
	if committed := s.entries[e.AccountNumber]; len(committed) > 0 {
		last = committed[len(committed)-1].CreatedAt
	}
	s.mu.Unlock()

	for _, staged := range tx.entries {
		if staged.AccountNumber == e.AccountNumber && staged.CreatedAt.After(last) {
			last = staged.CreatedAt
		}
	}
	e.CreatedAt = s.now()
	if !e.CreatedAt.After(last) {
		e.CreatedAt = last.Add(time.Microsecond)
	}

	tx.entries = append(tx.entries, e)
	return e, nil
}

func (tx *memoryTx) FindByReference(_ context.Context, number, reference string) (Entry, bool, error) {
	for _, e := range tx.entries {
		if e.AccountNumber == number && e.Reference == reference {
			return e, true, nil
		}
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	e, ok := tx.store.refs[refKey{number, reference}]
	return e, ok, nil
}

func (tx *memoryTx) Totals(ctx context.Context, number string) (Totals, error) {
	if err := tx.inScope(number); err != nil {
		return Totals{}, err
	}
	t, err := tx.store.Totals(ctx, number)
	if err != nil {
		return Totals{}, err
	}
	for _, e := range tx.entries {
		if e.AccountNumber == number {
			t.add(e)
		}
	}
	return t, nil
}

func cloneAccount(a account.Account) account.Account {
	a.PINHash = slices.Clone(a.PINHash)
	return a
}
