package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/lib/pq"
)

const (
	pqClassConnectionException = "08"
	pqSerializationFailure     = "40001"
	pqDeadlockDetected         = "40P01"
	pqTooManyConnections       = "53300"
	pqAdminShutdown            = "57P01"
	pqCannotConnectNow         = "57P03"
)

// IsTransient reports whether an error is worth retrying later: the database
// was unreachable, restarting, or aborted the statement for concurrency reasons.
// Constraint and syntax errors are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if string(pqErr.Code.Class()) == pqClassConnectionException {
			return true
		}
		switch string(pqErr.Code) {
		case pqSerializationFailure, pqDeadlockDetected, pqTooManyConnections, pqAdminShutdown, pqCannotConnectNow:
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
