package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/johndoe6345789/pyracms-core/internal/security"
	"github.com/johndoe6345789/pyracms-core/internal/session/domain"
	"github.com/johndoe6345789/pyracms-core/internal/session/repository"
)

var base = time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *repository.MemoryStore) {
	t.Helper()
	keyer, err := security.NewSessionKeyer([]byte(security.TestSecret))
	require.NoError(t, err)
	store := repository.NewMemoryStore()
	return NewManager(store, keyer, opts...), store
}

func TestManager_CreateValidate(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "user-1", "tok-1", base.Add(time.Hour), base)
	require.NoError(t, err)
	require.Len(t, s.ID, 26)
	require.Equal(t, "user-1", s.UserID)
	require.True(t, s.ExpiresAt.Equal(base.Add(time.Hour)))
	require.NotEqual(t, "tok-1", s.Key, "raw token must not be the store key")

	stored, err := store.Get(ctx, s.Key)
	require.NoError(t, err)
	require.NotNil(t, stored)

	got, err := m.Validate(ctx, "tok-1", base.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, s.ID, got.ID)

	got, err = m.Validate(ctx, "tok-unknown", base)
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = m.Validate(ctx, "", base)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestManager_CreateConflict(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.Create(ctx, "user-1", "tok-1", base.Add(time.Hour), base)
	require.NoError(t, err)
	_, err = m.Create(ctx, "user-1", "tok-1", base.Add(time.Hour), base)
	require.ErrorIs(t, err, repository.ErrSessionConflict)
}

func TestManager_CreateRejectsBadInput(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	_, err := m.Create(ctx, "", "tok", base.Add(time.Hour), base)
	require.Error(t, err)
	_, err = m.Create(ctx, "u", "", base.Add(time.Hour), base)
	require.Error(t, err)
	_, err = m.Create(ctx, "u", "tok", base, base)
	require.Error(t, err)
	require.Equal(t, 0, store.Len())
}

func TestManager_TTLCapsExpiry(t *testing.T) {
	m, _ := newTestManager(t, WithTTL(10*time.Minute))
	ctx := context.Background()
	s, err := m.Create(ctx, "user-1", "tok-1", base.Add(time.Hour), base)
	require.NoError(t, err)
	require.True(t, s.ExpiresAt.Equal(base.Add(10*time.Minute)))

	got, err := m.Validate(ctx, "tok-1", base.Add(11*time.Minute))
	require.NoError(t, err)
	require.Nil(t, got, "session past store-level expiry must not validate")

	short, err := m.Create(ctx, "user-1", "tok-2", base.Add(time.Minute), base)
	require.NoError(t, err)
	require.True(t, short.ExpiresAt.Equal(base.Add(time.Minute)), "token expiry wins when sooner")
}

func TestManager_InvalidateIdempotent(t *testing.T) {
	m, _ := newTestManager(t, WithClock(func() time.Time { return base.Add(time.Minute) }))
	ctx := context.Background()
	_, err := m.Create(ctx, "user-1", "tok-1", base.Add(time.Hour), base)
	require.NoError(t, err)

	require.NoError(t, m.Invalidate(ctx, "tok-1"))
	require.NoError(t, m.Invalidate(ctx, "tok-1"))
	require.NoError(t, m.Invalidate(ctx, "never-issued"))
	require.NoError(t, m.Invalidate(ctx, ""))

	got, err := m.Validate(ctx, "tok-1", base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestManager_InvalidateUserAndListLive(t *testing.T) {
	m, _ := newTestManager(t, WithClock(func() time.Time { return base.Add(time.Minute) }))
	ctx := context.Background()
	for i, tok := range []string{"a", "b", "c"} {
		_, err := m.Create(ctx, "user-1", tok, base.Add(time.Hour), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	_, err := m.Create(ctx, "user-2", "z", base.Add(time.Hour), base)
	require.NoError(t, err)
	require.NoError(t, m.Invalidate(ctx, "b"))

	live, err := m.ListLive(ctx, "user-1", base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, live, 2)
	require.True(t, live[0].CreatedAt.Before(live[1].CreatedAt))

	n, err := m.InvalidateUser(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	live, err = m.ListLive(ctx, "user-1", base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Empty(t, live)

	other, err := m.Validate(ctx, "z", base.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, other, "other users' sessions are untouched")
}

func TestManager_ConcurrentCreateSameToken(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Create(ctx, "user-1", "same-token", base.Add(time.Hour), base)
			results <- err
		}()
	}
	wg.Wait()
	close(results)
	ok := 0
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		require.True(t, errors.Is(err, repository.ErrSessionConflict), "unexpected error %v", err)
	}
	require.Equal(t, 1, ok)
}

type failingStore struct {
	repository.Store
	err error
}

func (f failingStore) Get(context.Context, string) (*domain.Session, error) { return nil, f.err }

func TestManager_ValidatePropagatesStoreErrors(t *testing.T) {
	keyer, err := security.NewSessionKeyer([]byte(security.TestSecret))
	require.NoError(t, err)
	boom := errors.New("boom")
	m := NewManager(failingStore{Store: repository.NewMemoryStore(), err: boom}, keyer)
	_, err = m.Validate(context.Background(), "tok", base)
	require.ErrorIs(t, err, boom)
}

func TestManager_RunSweeper(t *testing.T) {
	now := base.Add(2 * time.Hour)
	m, store := newTestManager(t, WithClock(func() time.Time { return now }))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := m.Create(ctx, "user-1", "old", base.Add(time.Hour), base)
	require.NoError(t, err)

	swept := make(chan int, 1)
	done := make(chan struct{})
	go func() {
		m.RunSweeper(ctx, 5*time.Millisecond, zerolog.Nop(), func(n int) {
			select {
			case swept <- n:
			default:
			}
		})
		close(done)
	}()

	select {
	case n := <-swept:
		require.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not run")
	}
	cancel()
	<-done
	require.Equal(t, 0, store.Len())
}
