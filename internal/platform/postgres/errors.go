package postgres

import (
	"database/sql"
	"errors"

	"github.com/clefnote/clefnote-api/internal/store"
)

// MapError translates driver-level errors into the store's error vocabulary.
// Row absence becomes store.ErrTaskNotFound; everything else passes through
// unchanged for the caller to wrap with context.
func MapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrTaskNotFound
	}
	return err
}
