package postgres

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/vncsmyrnk/urna/internal/core/domain"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	classConnectionException = "08"
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case codeSerializationFailure, codeDeadlockDetected:
		return true
	}
	return pqErr.Code.Class() == classConnectionException
}

// isLockTimeout reports a statement cancelled by lock_timeout.
func isLockTimeout(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeLockNotAvailable
}

// storageErr wraps err with msg. A lock wait that ran out and a retryable
// failure (serialization, deadlock, dropped connection) get their own
// sentinels so callers can tell them from logical conflicts.
func storageErr(msg string, err error) error {
	switch {
	case isLockTimeout(err):
		return fmt.Errorf("%s: %w: %w", msg, domain.ErrRowLockTimeout, err)
	case isTransient(err):
		return fmt.Errorf("%s: %w: %w", msg, domain.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
