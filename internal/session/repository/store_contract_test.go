package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/johndoe6345789/pyracms-core/internal/session/domain"
)

// contractBase is later than the wall clock so backends that expire keys
// against real time keep the fixtures.
var contractBase = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestSession(id, key, userID string, created time.Time, ttl time.Duration) *domain.Session {
	return &domain.Session{
		ID:        id,
		Key:       key,
		UserID:    userID,
		CreatedAt: created,
		ExpiresAt: created.Add(ttl),
	}
}

// runStoreContract exercises the behaviour every Store backing must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGet", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		s := newTestSession("01A", "key-a", "user-1", contractBase, time.Hour)
		require.NoError(t, st.Create(ctx, s))

		got, err := st.Get(ctx, "key-a")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, "01A", got.ID)
		require.Equal(t, "key-a", got.Key)
		require.Equal(t, "user-1", got.UserID)
		require.True(t, got.CreatedAt.Equal(s.CreatedAt))
		require.True(t, got.ExpiresAt.Equal(s.ExpiresAt))
		require.Nil(t, got.RevokedAt)
		require.True(t, got.Live(contractBase.Add(time.Minute)))
	})

	t.Run("GetMissing", func(t *testing.T) {
		st := newStore(t)
		got, err := st.Get(context.Background(), "nope")
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("CreateConflict", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		require.NoError(t, st.Create(ctx, newTestSession("01A", "key-a", "user-1", contractBase, time.Hour)))

		err := st.Create(ctx, newTestSession("01B", "key-a", "user-2", contractBase, 2*time.Hour))
		require.ErrorIs(t, err, ErrSessionConflict)

		got, err := st.Get(ctx, "key-a")
		require.NoError(t, err)
		require.Equal(t, "user-1", got.UserID, "existing record must be untouched")
		require.Equal(t, "01A", got.ID)
	})

	t.Run("CreateConflictOnInvalidated", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		require.NoError(t, st.Create(ctx, newTestSession("01A", "key-a", "user-1", contractBase, time.Hour)))
		require.NoError(t, st.Invalidate(ctx, "key-a", contractBase.Add(time.Minute)))

		err := st.Create(ctx, newTestSession("01B", "key-a", "user-1", contractBase, time.Hour))
		require.ErrorIs(t, err, ErrSessionConflict)

		got, err := st.Get(ctx, "key-a")
		require.NoError(t, err)
		require.NotNil(t, got.RevokedAt, "invalidated session must not be revived")
	})

	t.Run("InvalidateIdempotent", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		require.NoError(t, st.Create(ctx, newTestSession("01A", "key-a", "user-1", contractBase, time.Hour)))

		first := contractBase.Add(time.Minute)
		require.NoError(t, st.Invalidate(ctx, "key-a", first))
		require.NoError(t, st.Invalidate(ctx, "key-a", first.Add(time.Minute)))

		got, err := st.Get(ctx, "key-a")
		require.NoError(t, err)
		require.NotNil(t, got.RevokedAt)
		require.True(t, got.RevokedAt.Equal(first), "second invalidate must not move RevokedAt")
		require.False(t, got.Live(contractBase.Add(2*time.Minute)))

		require.NoError(t, st.Invalidate(ctx, "unknown", first))
	})

	t.Run("ListByUserOldestFirst", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		require.NoError(t, st.Create(ctx, newTestSession("03", "k3", "user-1", contractBase.Add(2*time.Second), time.Hour)))
		require.NoError(t, st.Create(ctx, newTestSession("01", "k1", "user-1", contractBase, time.Hour)))
		require.NoError(t, st.Create(ctx, newTestSession("02", "k2", "user-1", contractBase.Add(time.Second), time.Hour)))
		require.NoError(t, st.Create(ctx, newTestSession("09", "k9", "user-2", contractBase, time.Hour)))

		list, err := st.ListByUser(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, list, 3)
		require.Equal(t, []string{"01", "02", "03"}, []string{list[0].ID, list[1].ID, list[2].ID})

		empty, err := st.ListByUser(ctx, "nobody")
		require.NoError(t, err)
		require.Empty(t, empty)
	})

	t.Run("Sweep", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		require.NoError(t, st.Create(ctx, newTestSession("01", "short", "user-1", contractBase, time.Minute)))
		require.NoError(t, st.Create(ctx, newTestSession("02", "long", "user-1", contractBase, time.Hour)))

		n, err := st.Sweep(ctx, contractBase.Add(30*time.Second))
		require.NoError(t, err)
		require.Equal(t, 0, n)

		n, err = st.Sweep(ctx, contractBase.Add(time.Minute))
		require.NoError(t, err)
		require.Equal(t, 1, n)

		got, err := st.Get(ctx, "short")
		require.NoError(t, err)
		require.Nil(t, got)

		list, err := st.ListByUser(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.Equal(t, "long", list[0].Key)
	})

	t.Run("ConcurrentCreateSameKey", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		const workers = 16
		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				err := st.Create(ctx, newTestSession(fmt.Sprintf("id-%02d", i), "shared", "user-1", contractBase, time.Hour))
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, ErrSessionConflict):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		close(start)
		wg.Wait()
		require.EqualValues(t, 1, wins.Load())
		require.EqualValues(t, workers-1, conflicts.Load())
	})

	t.Run("ConcurrentMixed", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := fmt.Sprintf("mixed-%d", i)
				if err := st.Create(ctx, newTestSession(fmt.Sprintf("m%02d", i), key, "user-1", contractBase, time.Hour)); err != nil {
					t.Errorf("Create: %v", err)
					return
				}
				if _, err := st.Get(ctx, key); err != nil {
					t.Errorf("Get: %v", err)
				}
				if _, err := st.ListByUser(ctx, "user-1"); err != nil {
					t.Errorf("ListByUser: %v", err)
				}
				if err := st.Invalidate(ctx, key, contractBase.Add(time.Second)); err != nil {
					t.Errorf("Invalidate: %v", err)
				}
			}(i)
		}
		wg.Wait()
		list, err := st.ListByUser(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, list, 8)
		for _, s := range list {
			require.NotNil(t, s.RevokedAt)
		}
	})
}
