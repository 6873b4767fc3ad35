package db

import (
	"strings"

	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation.
// When constraintName is set the violation must reference that constraint.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if info, ok := pkgerrors.PG(err); ok {
		return info.Code == pgUniqueViolation &&
			(constraintName == "" || info.Constraint == constraintName)
	}

	msg := err.Error()
	// sqlite reports columns instead of the constraint name.
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return true
	}
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return strings.Contains(msg, "duplicate key value")
}
