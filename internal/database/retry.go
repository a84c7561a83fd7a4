package database

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"perps-control-plane/internal/logging"
)

// errorKind classifies storage errors for retry purposes.
type errorKind int

const (
	errPermanent errorKind = iota
	errNetwork             // connection reset, closed socket, broken pipe
	errDeadlock            // serialization / deadlock SQLSTATEs
)

const maxAttempts = 3

// classifyError decides whether an error is worth retrying.
func classifyError(err error) errorKind {
	if err == nil {
		return errPermanent
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return errDeadlock
		}
		// 08xxx connection exceptions
		if strings.HasPrefix(pgErr.Code, "08") {
			return errNetwork
		}
		return errPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return errNetwork
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errNetwork
	}

	msg := err.Error()
	for _, s := range []string{"connection reset", "broken pipe", "conn closed", "connection refused", "unexpected EOF"} {
		if strings.Contains(msg, s) {
			return errNetwork
		}
	}
	return errPermanent
}

// withRetry runs op, retrying transient failures up to maxAttempts times.
// Network errors back off 500ms doubling; deadlocks back off 1s growing 1.5x.
func withRetry(ctx context.Context, op func() error) error {
	netBackoff := 500 * time.Millisecond
	deadlockBackoff := time.Second

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}

		kind := classifyError(err)
		if kind == errPermanent || attempt == maxAttempts {
			return err
		}

		var wait time.Duration
		switch kind {
		case errDeadlock:
			wait = deadlockBackoff
			deadlockBackoff = time.Duration(float64(deadlockBackoff) * 1.5)
		default:
			wait = netBackoff
			netBackoff *= 2
		}

		logging.WithComponent("database").Warn("Retrying storage operation",
			"attempt", attempt, "wait", wait.String(), "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

// withRetryValue is withRetry for operations that return a value.
func withRetryValue[T any](ctx context.Context, op func() (T, error)) (T, error) {
	var out T
	err := withRetry(ctx, func() error {
		var opErr error
		out, opErr = op()
		return opErr
	})
	return out, err
}
