// Package repository persists the inventory ledger, reservations, sales,
// tickets, wristbands and the scan audit log in MySQL.  Methods return the
// domain errors from the model package (model.ErrNotFound and friends) so
// services and handlers never inspect driver errors themselves.
package repository

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/ticket-gate/internal/model"
)

// MySQL server error numbers the repositories react to.
const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
	errCheckViolated   = 3819
)

func mysqlErrNumber(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// isDuplicateKey reports a unique index violation, e.g. a second ACTIVE
// hold for the same session and ticket type.
func isDuplicateKey(err error) bool { return mysqlErrNumber(err) == errDuplicateEntry }

// isRetryable reports errors after which the whole transaction may be
// replayed.
func isRetryable(err error) bool {
	n := mysqlErrNumber(err)
	return n == errDeadlock || n == errLockWaitTimeout
}

// isCheckViolation reports a CHECK constraint failure.
func isCheckViolation(err error) bool { return mysqlErrNumber(err) == errCheckViolated }

// notFound maps sql.ErrNoRows to model.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}
