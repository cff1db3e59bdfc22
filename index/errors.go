package index

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fabfab/hearings-ai/search"
)

// classify maps a PostgreSQL failure onto a search.BackendError. Cancellation
// by the caller is returned unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return search.NewBackendError(op, search.BackendTimeout, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "57014": // query_canceled, raised by statement_timeout
			return search.NewBackendError(op, search.BackendTimeout, err)
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			strings.HasPrefix(pgErr.Code, "53"), // insufficient resources
			pgErr.Code == "57P01",               // admin_shutdown
			pgErr.Code == "40001",               // serialization_failure
			pgErr.Code == "40P01":               // deadlock_detected
			return search.NewBackendError(op, search.BackendTransient, err)
		default:
			return search.NewBackendError(op, search.BackendTerminal, err)
		}
	}

	// Network failures without a server error code.
	return search.NewBackendError(op, search.BackendTransient, err)
}
