package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// notFound maps sql.ErrNoRows to ErrNotFound and passes other errors through
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}
