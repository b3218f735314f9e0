package shared

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates an operation on the wrong lifecycle state.
	ErrInvalidState = errors.New("invalid state for operation")
)

// UserSafeMessage returns a message safe to expose to API consumers. Driver
// and storage errors are masked; domain errors pass through unchanged.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return "internal storage error"
	}
	return err.Error()
}
