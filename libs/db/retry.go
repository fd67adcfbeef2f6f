package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrTransient marks a store failure that outlived the retry budget.
var ErrTransient = errors.New("transient store error")

// ErrCommitUnknown marks a commit whose outcome the server never confirmed.
var ErrCommitUnknown = errors.New("commit outcome unknown")

type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

// IsTransient reports whether err is a connectivity or contention failure worth retrying.
// Constraint violations and application errors are never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrCommitUnknown) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P01", "57P02", "57P03":
			return true
		}
		// Class 08: connection exception.
		return strings.HasPrefix(pgErr.Code, "08")
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Retry runs op until it succeeds, fails permanently, or the policy is exhausted.
// Exhausted transient failures are wrapped with ErrTransient.
func Retry(ctx context.Context, p RetryPolicy, op func() error) error {
	if p.MaxTries == 0 {
		p = DefaultRetryPolicy()
	}
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if IsTransient(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.MaxTries))
	if err != nil && IsTransient(err) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

// RetryTx runs fn in a transaction under Retry; fn must be safe to run more
// than once. A commit that fails without a server reply may have been applied,
// so it is reported as ErrTransient and ErrCommitUnknown and never re-run.
func RetryTx(ctx context.Context, conn Conn, p RetryPolicy, fn func(pgx.Tx) error) error {
	return Retry(ctx, p, func() error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) || pgconn.SafeToRetry(err) {
				return err
			}
			return fmt.Errorf("%w: %w: %v", ErrTransient, ErrCommitUnknown, err)
		}
		return nil
	})
}
