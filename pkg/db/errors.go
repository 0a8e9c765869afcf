package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation.
// A non-empty name must also match the constraint (Postgres) or appear in
// the message (sqlite names the column instead).
func IsUniqueViolation(err error, name string) bool {
	if err == nil {
		return false
	}
	if code, constraint, msg, ok := postgresError(err); ok {
		if code != pgUniqueViolation {
			return false
		}
		return name == "" || constraint == name || strings.Contains(msg, name)
	}

	msg := err.Error()
	unique := errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
	return unique && (name == "" || strings.Contains(msg, name))
}

// postgresError unpacks a server error from whichever driver produced it.
func postgresError(err error) (code, constraint, msg string, ok bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code, pgxErr.ConstraintName, pgxErr.Message, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, pqErr.Message, true
	}
	return "", "", "", false
}
