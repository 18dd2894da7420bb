package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/onlinebank/onlinebank/internal/bankerr"
)

// LocalManager serializes access within one process using a channel
// semaphore per key. Idle keys are dropped once no holder or waiter remains.
type LocalManager struct {
	mu      sync.Mutex
	timeout time.Duration
	slots   map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal builds an in-process manager. A non-positive timeout uses
// DefaultTimeout.
func NewLocal(timeout time.Duration) *LocalManager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &LocalManager{timeout: timeout, slots: make(map[string]*slot)}
}

// Acquire implements Manager.
func (m *LocalManager) Acquire(ctx context.Context, keys ...string) (Release, error) {
	keys = SortedKeys(keys)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	held := make([]*slot, 0, len(keys))
	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].ch
		}
		m.unref(keys[:len(held)])
	}

	for i, key := range keys {
		s := m.ref(key)
		select {
		case s.ch <- struct{}{}:
			held = append(held, s)
		case <-ctx.Done():
			m.unref(keys[i : i+1])
			releaseHeld()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, bankerr.Wrap(bankerr.Busy, "acquire account lock "+key, ctx.Err())
			}
			return nil, ctx.Err()
		}
	}

	return once(releaseHeld), nil
}

func (m *LocalManager) ref(key string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	return s
}

func (m *LocalManager) unref(keys []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		s := m.slots[key]
		if s == nil {
			continue
		}
		s.refs--
		if s.refs == 0 {
			delete(m.slots, key)
		}
	}
}
