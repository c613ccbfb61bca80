// Package store holds helpers shared by the persistent unit and alert
// stores.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/medidispatch/dispatch-core/core/model"
)

// WrapError maps driver errors to the domain sentinels: missing rows become
// model.ErrNotFound, anything else model.ErrStoreUnavailable.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %v: %w", op, err, model.ErrStoreUnavailable)
}
