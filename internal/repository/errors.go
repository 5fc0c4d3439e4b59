package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	apperrors "github.com/vaidashi/relay-freight-api/pkg/errors"
)

var (
	ErrNotFound  = fmt.Errorf("record %w", apperrors.ErrNotFound)
	ErrDatabase  = errors.New("database error")
	ErrDuplicate = errors.New("duplicate record")
)

const uniqueViolation = "23505"

// wrapErr maps driver errors onto the repository sentinels.
func wrapErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}

	return fmt.Errorf("%w: %v", ErrDatabase, err)
}
