package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/lorrc/carenet-sync/internal/core/errors"
)

// classify maps driver errors onto the engine's error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrNetwork), errors.Is(err, apperrors.ErrUnknown):
		return err
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%w: %v", apperrors.ErrNotFound, err)
	case pgconn.Timeout(err), pgconn.SafeToRetry(err):
		return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		// connection_exception class, serialization_failure, deadlock_detected
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "08", pgErr.Code == "40001", pgErr.Code == "40P01":
			return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
		// foreign_key_violation: the referenced entity or user does not exist
		case pgErr.Code == "23503":
			return fmt.Errorf("%w: %v", apperrors.ErrNotFound, err)
		}
		return fmt.Errorf("%w: %v", apperrors.ErrUnknown, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}
	return fmt.Errorf("%w: %v", apperrors.ErrUnknown, err)
}

// withRetry runs op, retrying network failures with exponential backoff.
// Every other failure is returned at once, classified.
func withRetry(ctx context.Context, maxRetries int, op func() error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxRetries)),
		ctx,
	)

	return backoff.Retry(func() error {
		err := classify(op())
		if err == nil {
			return nil
		}
		if errors.Is(err, apperrors.ErrNetwork) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
