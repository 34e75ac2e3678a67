package store

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/dydact/scrive-aci-sub002/internal"
)

// Postgres SQLSTATE codes that mean "another transaction won, try again".
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
	sqlStateLockNotAvailable     = "55P03"
)

type txKey struct{}

// txScope is what a transaction carries in its context.
type txScope struct {
	db          *gorm.DB
	afterCommit []func()
}

// Runner is what services depend on to group repository calls.
type Runner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Transactor runs units of work in a single database transaction. The
// transaction travels in the context so repositories pick it up through
// Conn without knowing they are inside one.
type Transactor struct {
	db       *gorm.DB
	executor failsafe.Executor[any]
	logger   *slog.Logger
	attempts atomic.Int64
}

func NewTransactor(db *gorm.DB, logger *slog.Logger) *Transactor {
	retry := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return errors.Is(err, internal.ErrConcurrencyConflict)
		}).
		WithMaxRetries(1).
		WithDelay(25 * time.Millisecond).
		ReturnLastFailure().
		Build()

	return &Transactor{
		db:       db,
		executor: failsafe.With[any](retry),
		logger:   logger,
	}
}

// WithinTx executes fn inside a transaction. A ConcurrencyConflict rolls the
// transaction back and the whole unit is retried once before the error is
// returned. Calls made while a transaction is already bound to ctx join it.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	attempt := 0
	_, err := t.executor.WithContext(ctx).Get(func() (any, error) {
		attempt++
		t.attempts.Add(1)
		if attempt > 1 {
			t.logger.Warn("retrying transaction after concurrency conflict", "attempt", attempt)
		}
		return nil, t.run(ctx, fn)
	})
	return err
}

// run executes one attempt. Hooks registered during a rolled back attempt
// are dropped with it.
func (t *Transactor) run(ctx context.Context, fn func(ctx context.Context) error) error {
	scope := &txScope{}
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope.db = tx
		return fn(context.WithValue(ctx, txKey{}, scope))
	})
	if err != nil {
		return Classify(err)
	}
	for _, hook := range scope.afterCommit {
		hook()
	}
	return nil
}

// Attempts reports how many transaction attempts have been started.
func (t *Transactor) Attempts() int64 {
	return t.attempts.Load()
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*txScope)
	return ok
}

// AfterCommit runs fn once the transaction bound to ctx commits, or at once
// when there is none. Side effects that live outside the database, such as
// audit rows on their own connection and events, go through here.
func AfterCommit(ctx context.Context, fn func()) {
	if scope, ok := ctx.Value(txKey{}).(*txScope); ok {
		scope.afterCommit = append(scope.afterCommit, fn)
		return
	}
	fn()
}

// Conn returns the transaction bound to ctx, or db when there is none.
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if scope, ok := ctx.Value(txKey{}).(*txScope); ok {
		return scope.db.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// Classify maps driver errors that signal a lost race to ConcurrencyConflict
// and leaves everything else untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, internal.ErrConcurrencyConflict) {
		return err
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return conflict(err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateUniqueViolation, sqlStateLockNotAvailable:
			return conflict(err)
		}
	}
	return err
}

func conflict(cause error) error {
	return internal.NewConflictError(internal.ErrConcurrencyConflict.Message, internal.ErrCodeConcurrencyConflict).WithCause(cause)
}

// IsNotFound reports whether err is GORM's record-not-found.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
