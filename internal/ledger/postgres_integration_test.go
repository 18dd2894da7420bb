//go:build integration

package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/onlinebank/onlinebank/internal/account"
	"github.com/onlinebank/onlinebank/internal/bankerr"
	"github.com/onlinebank/onlinebank/internal/config"
	"github.com/onlinebank/onlinebank/internal/infra"
	"github.com/onlinebank/onlinebank/internal/logging"
)

const testPoolSize = 2

func setupPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("bank"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	if err := infra.Migrate(dsn, "../../migrations", logging.Discard()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := infra.NewPostgresPool(ctx, infra.PostgresOptions{
		URL:  dsn,
		Pool: config.DBPool{MaxConns: testPoolSize, AcquireTimeout: time.Second},
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	return NewPostgresStore(pool, nil, PostgresOptions{LockTimeout: 2 * time.Second, AcquireTimeout: 2 * time.Second})
}

func createPostgresAccount(t *testing.T, s *PostgresStore, number string) {
	t.Helper()
	now := time.Now().UTC()
	err := s.Create(context.Background(), account.Account{
		Number:    number,
		OwnerID:   uuid.NewString(),
		Kind:      account.KindChecking,
		Status:    account.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
}

func TestIntegration_PostgresStore(t *testing.T) {
	s := setupPostgresStore(t)
	ctx := context.Background()
	createPostgresAccount(t, s, "200000000001")
	createPostgresAccount(t, s, "200000000002")

	if err := SeedBalance(ctx, s, "200000000001", decimal.RequireFromString("100.00")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	t.Run("rollback on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.Atomically(ctx, []string{"200000000001"}, func(ctx context.Context, tx Tx) error {
			acct, err := tx.LockAccount(ctx, "200000000001")
			if err != nil {
				return err
			}
			acct.Balance = decimal.Zero
			if err := tx.SaveAccount(ctx, acct); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		acct, err := s.Get(ctx, "200000000001")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !acct.Balance.Equal(decimal.RequireFromString("100.00")) {
			t.Fatalf("expected balance 100.00 after rollback, got %s", acct.Balance)
		}
	})

	t.Run("concurrent seeds serialize", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := SeedBalance(ctx, s, "200000000002", decimal.RequireFromString("1.25")); err != nil {
					t.Errorf("seed: %v", err)
				}
			}()
		}
		wg.Wait()

		totals, err := s.Totals(ctx, "200000000002")
		if err != nil {
			t.Fatalf("totals: %v", err)
		}
		acct, _ := s.Get(ctx, "200000000002")
		if !acct.Balance.Equal(decimal.RequireFromString("12.50")) || !totals.Net().Equal(acct.Balance) {
			t.Fatalf("unexpected balance %s / net %s", acct.Balance, totals.Net())
		}
	})

	t.Run("history pages newest first", func(t *testing.T) {
		page, err := s.Entries(ctx, "200000000002", Page{Limit: 4})
		if err != nil {
			t.Fatalf("entries: %v", err)
		}
		if len(page.Entries) != 4 || page.NextCursor == 0 {
			t.Fatalf("unexpected first page %+v", page)
		}
		count := 0
		for _, err := range Walk(ctx, s, "200000000002", 4) {
			if err != nil {
				t.Fatalf("walk: %v", err)
			}
			count++
		}
		if count != 10 {
			t.Fatalf("expected 10 entries, got %d", count)
		}
	})

	t.Run("reconcile under lock on a small pool", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 4*testPoolSize)
		for i := 0; i < 4*testPoolSize; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.Atomically(ctx, []string{"200000000002"}, func(ctx context.Context, tx Tx) error {
					acct, err := tx.LockAccount(ctx, "200000000002")
					if err != nil {
						return err
					}
					totals, err := tx.Totals(ctx, "200000000002")
					if err != nil {
						return err
					}
					if !totals.Net().Equal(acct.Balance) {
						return errors.New("balance does not reconcile")
					}
					return nil
				})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("reconcile: %v", err)
			}
		}
	})

	t.Run("saturated pool fails busy", func(t *testing.T) {
		var held []interface{ Release() }
		for i := 0; i < testPoolSize; i++ {
			conn, err := s.db.Acquire(ctx)
			if err != nil {
				t.Fatalf("acquire: %v", err)
			}
			held = append(held, conn)
		}
		defer func() {
			for _, c := range held {
				c.Release()
			}
		}()

		err := SeedBalance(ctx, s, "200000000001", decimal.RequireFromString("1.00"))
		if !errors.Is(err, bankerr.ErrBusy) {
			t.Fatalf("expected busy while the pool is exhausted, got %v", err)
		}
	})

	t.Run("entries are append only", func(t *testing.T) {
		_, err := s.db.Exec(ctx, `UPDATE entries SET amount = 0.01`)
		if err == nil {
			t.Fatalf("expected update of entries to be rejected")
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		if _, err := s.Get(ctx, "999999999999"); !errors.Is(err, bankerr.ErrAccountNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}
