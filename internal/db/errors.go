package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the ledger reacts to.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeCheckViolation       = "23514"
)

// Classifier implements domain.ErrorClassifier for PostgreSQL-compatible stores.
// Serialization failures and deadlocks are transient; the whole unit of work
// can be re-executed from scratch.
type Classifier struct{}

// IsTransient reports whether err carries a transient contention SQLSTATE.
func (Classifier) IsTransient(err error) bool {
	code := sqlState(err)
	return code == codeSerializationFailure || code == codeDeadlockDetected
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isCheckViolation(err error) bool {
	return sqlState(err) == codeCheckViolation
}
