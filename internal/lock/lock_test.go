package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/onlinebank/onlinebank/internal/bankerr"
	"github.com/onlinebank/onlinebank/internal/logging"
)

func TestSortedKeys(t *testing.T) {
	got := SortedKeys([]string{"300000000000", "100000000000", "300000000000"})
	if len(got) != 2 || got[0] != "100000000000" || got[1] != "300000000000" {
		t.Fatalf("unexpected keys %v", got)
	}
}

func TestLocalManagerExclusive(t *testing.T) {
	m := NewLocal(time.Second)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, "111111111111")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxInside)
	}
	if len(m.slots) != 0 {
		t.Fatalf("expected idle slots to be dropped, have %d", len(m.slots))
	}
}

func TestLocalManagerTimeoutIsBusy(t *testing.T) {
	m := NewLocal(20 * time.Millisecond)
	ctx := context.Background()

	release, err := m.Acquire(ctx, "111111111111")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	_, err = m.Acquire(ctx, "222222222222", "111111111111")
	if !errors.Is(err, bankerr.ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}

	// the partially acquired key must have been released
	r2, err := m.Acquire(ctx, "222222222222")
	if err != nil {
		t.Fatalf("expected 222222222222 to be free: %v", err)
	}
	r2()
}

func TestLocalManagerOppositeOrderNoDeadlock(t *testing.T) {
	m := NewLocal(2 * time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, "aaaaaaaaaaaa", "bbbbbbbbbbbb")
			if err != nil {
				t.Errorf("acquire a,b: %v", err)
				return
			}
			release()
		}()
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, "bbbbbbbbbbbb", "aaaaaaaaaaaa")
			if err != nil {
				t.Errorf("acquire b,a: %v", err)
				return
			}
			release()
		}()
	}
	wg.Wait()
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := NewLocal(time.Second)
	release, err := m.Acquire(context.Background(), "111111111111")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()
	release()

	r2, err := m.Acquire(context.Background(), "111111111111")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	r2()
}

func setupRedisManager(t *testing.T, timeout time.Duration) *RedisManager {
	t.Helper()
	m, _ := setupRedisWithExpiry(t, 5*time.Second, timeout)
	return m
}

func setupRedisWithExpiry(t *testing.T, expiry, timeout time.Duration) (*RedisManager, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedis(client, RedisOptions{Expiry: expiry, Timeout: timeout, RetryDelay: 10 * time.Millisecond}, logging.Discard()), mr
}

func TestRedisManagerAcquireRelease(t *testing.T) {
	m := setupRedisManager(t, 100*time.Millisecond)
	ctx := context.Background()

	release, err := m.Acquire(ctx, "222222222222", "111111111111")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := m.Acquire(ctx, "111111111111"); !errors.Is(err, bankerr.ErrBusy) {
		t.Fatalf("expected busy while held, got %v", err)
	}

	release()

	r2, err := m.Acquire(ctx, "111111111111")
	if err != nil {
		t.Fatalf("expected key to be free after release: %v", err)
	}
	r2()
}

func TestRedisManagerExtendsLeaseWhileHeld(t *testing.T) {
	const expiry = 300 * time.Millisecond
	m, mr := setupRedisWithExpiry(t, expiry, 50*time.Millisecond)
	key := redisKeyPrefix + "111111111111"

	release, err := m.Acquire(context.Background(), "111111111111")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// a unit running longer than the lease: the key would expire here
	// without renewal.
	mr.FastForward(250 * time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for mr.TTL(key) <= 100*time.Millisecond {
		if time.Now().After(deadline) {
			t.Fatalf("lease was not extended, ttl %v", mr.TTL(key))
		}
		time.Sleep(10 * time.Millisecond)
	}
	mr.FastForward(250 * time.Millisecond)
	if !mr.Exists(key) {
		t.Fatalf("lease expired while held")
	}
	if _, err := m.Acquire(context.Background(), "111111111111"); !errors.Is(err, bankerr.ErrBusy) {
		t.Fatalf("expected busy while held, got %v", err)
	}

	release()
	if mr.Exists(key) {
		t.Fatalf("expected key removed on release")
	}
}
