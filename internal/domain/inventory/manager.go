package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/librarian/internal/infrastructure/logging"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/storage"
	"github.com/GriffinCanCode/librarian/internal/shared/errs"
	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const (
	defaultStatementTimeout = 10 * time.Second
	defaultHistoryLimit     = 100
	maxHistoryLimit         = 1000
	unknownBookTitle        = "Unknown Book"
)

// Recorder receives one observation per finished operation.
type Recorder interface {
	RecordInventoryOperation(op, outcome string, duration time.Duration)
}

// Manager performs borrow and return transitions against the shared
// inventory. Every operation checks a connection out through the database
// breaker and releases it on all exit paths.
type Manager struct {
	pool             *storage.Pool
	breakers         *resilience.Registry
	logger           *logging.Logger
	recorder         Recorder
	statementTimeout time.Duration
	now              func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithRecorder sets the operation recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithStatementTimeout bounds each transaction.
func WithStatementTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.statementTimeout = d
		}
	}
}

// WithClock overrides the time source used for borrow and return dates.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an inventory manager.
func NewManager(pool *storage.Pool, breakers *resilience.Registry, opts ...Option) *Manager {
	m := &Manager{
		pool:             pool,
		breakers:         breakers,
		logger:           logging.NewNop(),
		statementTimeout: defaultStatementTimeout,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Borrow checks a copy of bookID out to userID.
func (m *Manager) Borrow(ctx context.Context, userID, bookID int64) (Result, error) {
	start := time.Now()
	res, err := m.borrow(ctx, userID, bookID)
	m.observe("borrow", start, err, zap.Int64("user_id", userID), zap.Int64("book_id", bookID))
	return res, err
}

func (m *Manager) borrow(ctx context.Context, userID, bookID int64) (Result, error) {
	if err := validateIDs(userID, bookID); err != nil {
		return Result{}, err
	}

	conn, err := m.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer conn.Release()

	var title string
	err = m.inTx(ctx, conn, func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := m.findUser(ctx, tx, userID); err != nil {
			return err
		}
		book, err := m.findBook(ctx, tx, bookID)
		if err != nil {
			return err
		}
		title = book.Title

		// The quantity > 0 guard makes the decrement the only
		// serialization point between concurrent borrowers.
		decremented, err := m.exec(ctx, tx, m.dialect().Update("books").
			Set(goqu.Record{"quantity": goqu.L("quantity - 1")}).
			Where(goqu.C("id").Eq(bookID), goqu.C("quantity").Gt(0)).
			Prepared(true))
		if err != nil {
			return err
		}
		if decremented == 0 {
			return errs.Conflict("book is out of stock")
		}

		_, err = m.exec(ctx, tx, m.dialect().Insert("borrow_records").Rows(goqu.Record{
			"user_id":     userID,
			"book_id":     bookID,
			"borrow_date": m.now().UTC(),
		}).Prepared(true))
		if storage.IsUniqueViolation(err) {
			return errs.Conflict("book already borrowed by this user")
		}
		return err
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Message: fmt.Sprintf("Successfully borrowed '%s'", title)}, nil
}

// Return closes the open borrow of bookID by userID and puts the copy back.
func (m *Manager) Return(ctx context.Context, userID, bookID int64) (Result, error) {
	start := time.Now()
	res, err := m.returnBook(ctx, userID, bookID)
	m.observe("return", start, err, zap.Int64("user_id", userID), zap.Int64("book_id", bookID))
	return res, err
}

func (m *Manager) returnBook(ctx context.Context, userID, bookID int64) (Result, error) {
	if err := validateIDs(userID, bookID); err != nil {
		return Result{}, err
	}

	conn, err := m.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer conn.Release()

	title := unknownBookTitle
	err = m.inTx(ctx, conn, func(ctx context.Context, tx *sqlx.Tx) error {
		query, args, err := m.dialect().From("borrow_records").Select("id").
			Where(
				goqu.C("user_id").Eq(userID),
				goqu.C("book_id").Eq(bookID),
				goqu.C("return_date").IsNull(),
			).
			Limit(1).
			Prepared(true).
			ToSQL()
		if err != nil {
			return err
		}

		var recordID int64
		if err := tx.GetContext(ctx, &recordID, query, args...); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNoActiveRecord
			}
			return err
		}

		if book, err := m.findBook(ctx, tx, bookID); err == nil {
			title = book.Title
		} else if !errs.Is(err, errs.KindNotFound) {
			return err
		}

		if _, err := m.exec(ctx, tx, m.dialect().Update("books").
			Set(goqu.Record{"quantity": goqu.L("quantity + 1")}).
			Where(goqu.C("id").Eq(bookID)).
			Prepared(true)); err != nil {
			return err
		}

		closed, err := m.exec(ctx, tx, m.dialect().Update("borrow_records").
			Set(goqu.Record{"return_date": m.now().UTC()}).
			Where(goqu.C("id").Eq(recordID), goqu.C("return_date").IsNull()).
			Prepared(true))
		if err != nil {
			return err
		}
		if closed != 1 {
			return errs.Conflict("borrow record was already returned")
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Message: fmt.Sprintf("Successfully returned '%s'", title)}, nil
}

// History lists borrow records, newest first.
func (m *Manager) History(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	start := time.Now()
	entries, err := m.history(ctx, filter)
	m.observe("history", start, err, zap.Int64("user_id", filter.UserID))
	return entries, err
}

func (m *Manager) history(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	if filter.UserID < 0 {
		return nil, errs.Validation("user_id must be a positive integer")
	}
	limit := filter.Limit
	switch {
	case limit < 0:
		return nil, errs.Validation("limit must not be negative")
	case limit == 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}

	conn, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	qctx, cancel := context.WithTimeout(ctx, m.statementTimeout)
	defer cancel()

	if filter.UserID > 0 {
		if _, err := m.findUser(qctx, conn, filter.UserID); err != nil {
			return nil, storageError(err)
		}
	}

	ds := m.dialect().From(goqu.T("borrow_records").As("r")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("r.user_id")))).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("r.book_id")))).
		Select(
			goqu.I("r.id"),
			goqu.I("r.user_id"),
			goqu.I("r.book_id"),
			goqu.I("r.borrow_date"),
			goqu.I("r.return_date"),
			goqu.I("u.name").As("user_name"),
			goqu.I("b.title").As("book_title"),
		).
		Order(goqu.I("r.borrow_date").Desc(), goqu.I("r.id").Desc()).
		Limit(uint(limit))
	if filter.UserID > 0 {
		ds = ds.Where(goqu.I("r.user_id").Eq(filter.UserID))
	}
	if filter.ActiveOnly {
		ds = ds.Where(goqu.I("r.return_date").IsNull())
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, storageError(err)
	}

	entries := []HistoryEntry{}
	if err := conn.SelectContext(qctx, &entries, query, args...); err != nil {
		return nil, storageError(err)
	}
	return entries, nil
}

// ErrNoActiveRecord is returned by Return when the user holds no open borrow
// of the book. It keeps the 400 status clients already expect.
var ErrNoActiveRecord = errs.NotFound("no active borrow record found for this user and book").
	WithStatus(400)

type querier interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

func (m *Manager) findUser(ctx context.Context, q querier, id int64) (User, error) {
	query, args, err := m.dialect().From("users").Select("id", "name").
		Where(goqu.C("id").Eq(id)).Prepared(true).ToSQL()
	if err != nil {
		return User{}, err
	}

	var u User
	if err := q.GetContext(ctx, &u, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, errs.NotFound("user not found")
		}
		return User{}, err
	}
	return u, nil
}

func (m *Manager) findBook(ctx context.Context, q querier, id int64) (Book, error) {
	query, args, err := m.dialect().From("books").Select("id", "title", "author", "quantity").
		Where(goqu.C("id").Eq(id)).Prepared(true).ToSQL()
	if err != nil {
		return Book{}, err
	}

	var b Book
	if err := q.GetContext(ctx, &b, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Book{}, errs.NotFound("book not found")
		}
		return Book{}, err
	}
	return b, nil
}

// sqlBuilder is satisfied by goqu insert and update datasets.
type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

// exec runs a prepared INSERT or UPDATE and returns the affected row count.
func (m *Manager) exec(ctx context.Context, tx *sqlx.Tx, ds sqlBuilder) (int64, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// acquire checks a connection out through the database breaker.
func (m *Manager) acquire(ctx context.Context) (*storage.Conn, error) {
	conn, err := resilience.Do(ctx, m.breakers, resilience.Database, m.pool.Acquire)
	if err == nil {
		return conn, nil
	}

	switch {
	case errors.Is(err, resilience.ErrOpen):
		return nil, errs.Unavailable("storage is temporarily unavailable", err)
	case errors.Is(err, storage.ErrAcquireTimeout):
		return nil, errs.Unavailable("no storage connection available", err)
	default:
		return nil, errs.Unavailable("could not reach storage", err)
	}
}

// inTx runs fn in a transaction bounded by the statement timeout. Any error
// rolls back everything fn did; unclassified errors become storage errors.
func (m *Manager) inTx(ctx context.Context, conn *storage.Conn, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.statementTimeout)
	defer cancel()

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return storageError(err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			m.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return storageError(err)
	}

	if err := tx.Commit(); err != nil {
		return storageError(err)
	}
	return nil
}

// storageError leaves classified errors alone and wraps everything else.
func storageError(err error) error {
	var classified *errs.Error
	if errors.As(err, &classified) {
		return err
	}
	return errs.Storage("storage operation failed", err)
}

func (m *Manager) dialect() goqu.DialectWrapper {
	return m.pool.Dialect()
}

func (m *Manager) observe(op string, start time.Time, err error, fields ...zap.Field) {
	duration := time.Since(start)
	outcome := outcomeOf(err)

	if m.recorder != nil {
		m.recorder.RecordInventoryOperation(op, outcome, duration)
	}

	fields = append(fields, zap.String("op", op), zap.String("outcome", outcome), zap.Duration("duration", duration))
	switch outcome {
	case OutcomeSuccess:
		m.logger.Debug("inventory operation", fields...)
	case OutcomeError, OutcomeUnavailable:
		m.logger.Error("inventory operation failed", append(fields, zap.Error(err))...)
	default:
		m.logger.Info("inventory operation rejected", append(fields, zap.String("reason", errs.PublicMessage(err)))...)
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return OutcomeNotFound
	case errs.KindConflict:
		return OutcomeConflict
	case errs.KindValidation:
		return OutcomeInvalid
	case errs.KindUnavailable:
		return OutcomeUnavailable
	default:
		return OutcomeError
	}
}

func validateIDs(userID, bookID int64) error {
	if userID <= 0 || bookID <= 0 {
		return errs.Validation("user_id and book_id must be positive integers")
	}
	return nil
}
