package sqlitedb

import (
	"errors"
	"strings"
)

const (
	sqliteBusyCode             = 5
	sqliteLockedCode           = 6
	sqliteConstraintUniqueCode = 2067
	sqliteConstraintPKCode     = 1555
)

func errorCode(err error) (int, bool) {
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		return coder.Code(), true
	}
	return 0, false
}

// IsBusy reports whether err came from lock contention that outlasted the
// busy timeout.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := errorCode(err); ok {
		primary := code & 0xff
		return primary == sqliteBusyCode || primary == sqliteLockedCode
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// IsUniqueViolation reports a UNIQUE or PRIMARY KEY constraint failure.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := errorCode(err); ok {
		return code == sqliteConstraintUniqueCode || code == sqliteConstraintPKCode
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
