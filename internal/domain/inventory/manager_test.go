package inventory

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GriffinCanCode/librarian/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/storage"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/storage/storagetest"
	"github.com/GriffinCanCode/librarian/internal/shared/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordInventoryOperation(op, outcome string, duration time.Duration) {
	m.Called(op, outcome, duration)
}

// steppingClock returns strictly increasing times so history order is stable.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestManager(t *testing.T, pool *storage.Pool, opts ...Option) *Manager {
	t.Helper()
	clock := &steppingClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewManager(pool, resilience.NewRegistry(), opts...)
}

func TestBorrowReturnBorrowSingleCopy(t *testing.T) {
	pool := storagetest.NewSQLite(t)
	userID := storagetest.InsertUser(t, pool, "Ada")
	bookID := storagetest.InsertBook(t, pool, "Dune", 1)
	manager := newTestManager(t, pool)
	ctx := context.Background()

	res, err := manager.Borrow(ctx, userID, bookID)
	require.NoError(t, err)
	assert.Equal(t, "Successfully borrowed 'Dune'", res.Message)
	assert.Equal(t, 0, storagetest.BookQuantity(t, pool, bookID))

	res, err = manager.Return(ctx, userID, bookID)
	require.NoError(t, err)
	assert.Equal(t, "Successfully returned 'Dune'", res.Message)
	assert.Equal(t, 1, storagetest.BookQuantity(t, pool, bookID))

	_, err = manager.Borrow(ctx, userID, bookID)
	require.NoError(t, err)
	assert.Equal(t, 0, storagetest.BookQuantity(t, pool, bookID))
	assert.Equal(t, 2, storagetest.CountRecords(t, pool, userID, bookID, false))
	assert.Equal(t, 1, storagetest.CountRecords(t, pool, userID, bookID, true))
}

func TestBorrowRejections(t *testing.T) {
	pool := storagetest.NewSQLite(t)
	userID := storagetest.InsertUser(t, pool, "Ada")
	inStock := storagetest.InsertBook(t, pool, "Dune", 2)
	outOfStock := storagetest.InsertBook(t, pool, "Solaris", 0)
	manager := newTestManager(t, pool)

	tests := []struct {
		name       string
		userID     int64
		bookID     int64
		wantKind   errs.Kind
		wantStatus int
		wantMsg    string
	}{
		{"unknown user", 999, inStock, errs.KindNotFound, http.StatusNotFound, "user not found"},
		{"unknown book", userID, 999, errs.KindNotFound, http.StatusNotFound, "book not found"},
		{"out of stock", userID, outOfStock, errs.KindConflict, http.StatusConflict, "book is out of stock"},
		{"invalid ids", 0, inStock, errs.KindValidation, http.StatusBadRequest, "user_id and book_id must be positive integers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manager.Borrow(context.Background(), tt.userID, tt.bookID)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, errs.KindOf(err))
			assert.Equal(t, tt.wantStatus, errs.Status(err))
			assert.Equal(t, tt.wantMsg, errs.PublicMessage(err))
		})
	}

	assert.Equal(t, 2, storagetest.BookQuantity(t, pool, inStock))
	assert.Equal(t, 0, storagetest.BookQuantity(t, pool, outOfStock))
}

func TestBorrowSameBookTwiceRestoresQuantity(t *testing.T) {
	pool := storagetest.NewSQLite(t)
	userID := storagetest.InsertUser(t, pool, "Ada")
	bookID := storagetest.InsertBook(t, pool, "Dune", 3)
	manager := newTestManager(t, pool)
	ctx := context.Background()

	_, err := manager.Borrow(ctx, userID, bookID)
	require.NoError(t, err)

	_, err = manager.Borrow(ctx, userID, bookID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConflict))
	assert.Equal(t, "book already borrowed by this user", errs.PublicMessage(err))

	assert.Equal(t, 2, storagetest.BookQuantity(t, pool, bookID), "failed borrow must not keep its decrement")
	assert.Equal(t, 1, storagetest.CountRecords(t, pool, userID, bookID, true))
}

func TestReturnWithoutActiveRecord(t *testing.T) {
	pool := storagetest.NewSQLite(t)
	userID := storagetest.InsertUser(t, pool, "Ada")
	bookID := storagetest.InsertBook(t, pool, "Dune", 4)
	manager := newTestManager(t, pool)

	_, err := manager.Return(context.Background(), userID, bookID)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoActiveRecord)
	assert.Equal(t, http.StatusBadRequest, errs.Status(err))
	assert.Equal(t, "no active borrow record found for this user and book", errs.PublicMessage(err))
	assert.Equal(t, 4, storagetest.BookQuantity(t, pool, bookID))
	assert.Equal(t, 0, storagetest.CountRecords(t, pool, userID, bookID, false))
}

func TestReturnTwiceFailsSecondTime(t *testing.T) {
	pool := storagetest.NewSQLite(t)
	userID := storagetest.InsertUser(t, pool, "Ada")
	bookID := storagetest.InsertBook(t, pool, "Dune", 1)
	manager := newTestManager(t, pool)
	ctx := context.Background()

	_, err := manager.Borrow(ctx, userID, bookID)
	require.NoError(t, err)
	_, err = manager.Return(ctx, userID, bookID)
	require.NoError(t, err)

	_, err = manager.Return(ctx, userID, bookID)
	assert.ErrorIs(t, err, ErrNoActiveRecord)
	assert.Equal(t, 1, storagetest.BookQuantity(t, pool, bookID))
}

func TestConcurrentBorrowsNeverOversell(t *testing.T) {
	const (
		copies    = 3
		borrowers = 12
	)

	pool := storagetest.NewSQLite(t)
	bookID := storagetest.InsertBook(t, pool, "Dune", copies)
	userIDs := make([]int64, borrowers)
	for i := range userIDs {
		userIDs[i] = storagetest.InsertUser(t, pool, "reader")
	}
	manager := newTestManager(t, pool)

	var succeeded, outOfStock atomic.Int32
	start := make(chan struct{})
	g, ctx := errgroup.WithContext(context.Background())
	for _, userID := range userIDs {
		g.Go(func() error {
			<-start
			_, err := manager.Borrow(ctx, userID, bookID)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errs.PublicMessage(err) == "book is out of stock":
				outOfStock.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(copies), succeeded.Load())
	assert.Equal(t, int32(borrowers-copies), outOfStock.Load())
	assert.Equal(t, 0, storagetest.BookQuantity(t, pool, bookID))
}

func TestAcquireTimeoutIsUnavailable(t *testing.T) {
	cfg := storagetest.SQLiteConfig(t)
	cfg.PoolMax = 1
	cfg.AcquireTimeout = 50 * time.Millisecond
	pool := storagetest.NewPool(t, cfg)
	userID := storagetest.InsertUser(t, pool, "Ada")
	bookID := storagetest.InsertBook(t, pool, "Dune", 1)

	breakers := resilience.NewRegistry()
	manager := NewManager(pool, breakers)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	_, err = manager.Borrow(context.Background(), userID, bookID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, errs.Status(err))
	assert.ErrorIs(t, err, storage.ErrAcquireTimeout)
	assert.Equal(t, 1, breakers.Get(resilience.Database).Failures())
}

func TestOpenBreakerRejectsWithoutTouchingStorage(t *testing.T) {
	cfg := storagetest.SQLiteConfig(t)
	cfg.PoolMax = 1
	cfg.AcquireTimeout = 50 * time.Millisecond
	pool := storagetest.NewPool(t, cfg)
	userID := storagetest.InsertUser(t, pool, "Ada")
	bookID := storagetest.InsertBook(t, pool, "Dune", 1)

	breakers := resilience.NewRegistry(resilience.WithSettings(resilience.Database, resilience.Settings{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	}))
	recorder := new(mockRecorder)
	recorder.On("RecordInventoryOperation", "borrow", OutcomeUnavailable, mock.AnythingOfType("time.Duration")).Twice()
	manager := NewManager(pool, breakers, WithRecorder(recorder))

	// An exhausted pool makes one acquisition time out, which opens the breaker.
	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	_, err = manager.Borrow(context.Background(), userID, bookID)
	require.ErrorIs(t, err, storage.ErrAcquireTimeout)
	require.NoError(t, held.Release())
	require.Equal(t, resilience.StateOpen, breakers.Get(resilience.Database).State())

	_, err = manager.Borrow(context.Background(), userID, bookID)
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrOpen)
	assert.Equal(t, http.StatusServiceUnavailable, errs.Status(err))
	assert.Equal(t, 1, storagetest.BookQuantity(t, pool, bookID))
	assert.Equal(t, 0, pool.Stats().InUse)
	recorder.AssertExpectations(t)
}

func TestCancelledCallerDoesNotTripBreaker(t *testing.T) {
	pool := storagetest.NewSQLite(t)
	userID := storagetest.InsertUser(t, pool, "Ada")
	bookID := storagetest.InsertBook(t, pool, "Dune", 1)

	breakers := resilience.NewRegistry(resilience.WithSettings(resilience.Database, resilience.Settings{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	}))
	manager := NewManager(pool, breakers)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		_, err := manager.Borrow(ctx, userID, bookID)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	}

	database := breakers.Get(resilience.Database)
	assert.Equal(t, resilience.StateClosed, database.State())
	assert.Equal(t, 0, database.Failures())

	_, err := manager.Borrow(context.Background(), userID, bookID)
	require.NoError(t, err)
	assert.Equal(t, 0, storagetest.BookQuantity(t, pool, bookID))
}

func TestBusinessRejectionsDoNotTripBreaker(t *testing.T) {
	pool := storagetest.NewSQLite(t)
	userID := storagetest.InsertUser(t, pool, "Ada")
	bookID := storagetest.InsertBook(t, pool, "Dune", 0)

	breakers := resilience.NewRegistry(resilience.WithSettings(resilience.Database, resilience.Settings{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	}))
	manager := NewManager(pool, breakers)

	for i := 0; i < 3; i++ {
		_, err := manager.Borrow(context.Background(), userID, bookID)
		require.True(t, errs.Is(err, errs.KindConflict))
	}
	assert.Equal(t, resilience.StateClosed, breakers.Get(resilience.Database).State())
}

func TestHistory(t *testing.T) {
	pool := storagetest.NewSQLite(t)
	ada := storagetest.InsertUser(t, pool, "Ada")
	bob := storagetest.InsertUser(t, pool, "Bob")
	dune := storagetest.InsertBook(t, pool, "Dune", 2)
	solaris := storagetest.InsertBook(t, pool, "Solaris", 2)
	manager := newTestManager(t, pool)
	ctx := context.Background()

	_, err := manager.Borrow(ctx, ada, dune)
	require.NoError(t, err)
	_, err = manager.Borrow(ctx, bob, solaris)
	require.NoError(t, err)
	_, err = manager.Borrow(ctx, ada, solaris)
	require.NoError(t, err)
	_, err = manager.Return(ctx, ada, dune)
	require.NoError(t, err)

	all, err := manager.History(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Solaris", all[0].BookTitle, "newest first")
	assert.Equal(t, "Ada", all[0].UserName)
	assert.Equal(t, "Dune", all[2].BookTitle)
	assert.False(t, all[2].Active())
	assert.NotNil(t, all[2].ReturnDate)

	active, err := manager.History(ctx, HistoryFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	mine, err := manager.History(ctx, HistoryFilter{UserID: ada})
	require.NoError(t, err)
	assert.Len(t, mine, 2)
	for _, entry := range mine {
		assert.Equal(t, ada, entry.UserID)
	}

	limited, err := manager.History(ctx, HistoryFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = manager.History(ctx, HistoryFilter{UserID: 999})
	assert.True(t, errs.Is(err, errs.KindNotFound))

	_, err = manager.History(ctx, HistoryFilter{Limit: -1})
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestHistoryEmptyIsNotNil(t *testing.T) {
	pool := storagetest.NewSQLite(t)
	manager := newTestManager(t, pool)

	entries, err := manager.History(context.Background(), HistoryFilter{})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}
