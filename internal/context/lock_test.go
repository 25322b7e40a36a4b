package context

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/hookbot/internal/kv"
)

func TestManager_LockSerializesSameChat(t *testing.T) {
	m := NewManager(kv.NewMemory(), 5)
	ctx := context.Background()

	unlock, err := m.Lock(ctx, 1)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := m.Lock(ctx, 1)
		if err == nil {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first is held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestManager_LockIndependentChats(t *testing.T) {
	m := NewManager(kv.NewMemory(), 5)
	ctx := context.Background()

	u1, err := m.Lock(ctx, 1)
	require.NoError(t, err)
	defer u1()
	u2, err := m.Lock(ctx, 2)
	require.NoError(t, err)
	u2()
}

func TestManager_LockHonorsContext(t *testing.T) {
	m := NewManager(kv.NewMemory(), 5)
	unlock, err := m.Lock(context.Background(), 1)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyedLock_EntriesReleased(t *testing.T) {
	l := newKeyedLock()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			unlock, err := l.acquire(context.Background(), id%3)
			if err != nil {
				return
			}
			unlock()
			unlock()
		}(int64(i))
	}
	wg.Wait()
	assert.Equal(t, 0, l.size())
}

func TestManager_ConcurrentAppendsDoNotLoseUpdates(t *testing.T) {
	m := NewManager(kv.NewMemory(), 5)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, 1)
			if err != nil {
				return
			}
			defer unlock()
			h, err := m.LoadHistory(ctx, 1)
			if err != nil {
				return
			}
			_ = m.SaveHistory(ctx, 1, append(h, Message{Role: RoleUser, Content: "x"}))
		}()
	}
	wg.Wait()

	h, err := m.LoadHistory(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, h, 10)
}
