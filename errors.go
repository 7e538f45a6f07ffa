package starrocks

import (
	"errors"
	"fmt"

	"github.com/amber-create/starrocks/blobstore"
	"github.com/amber-create/starrocks/scan"
	"github.com/amber-create/starrocks/segment"
	"github.com/amber-create/starrocks/types"
)

var (
	// ErrNotFound is returned when a segment blob does not exist.
	ErrNotFound = errors.New("segment not found")

	// ErrNoRows reports that predicates prove a scan returns nothing. It is
	// a cheap skip, not a failure: callers drop the scan unit and move on.
	ErrNoRows = errors.New("no rows match")

	// ErrCorrupt is returned when a segment file fails validation.
	ErrCorrupt = errors.New("corrupt segment")
)

// ErrSchemaMismatch indicates a segment whose stored column type conflicts
// with the tablet schema it was opened against.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrSchemaMismatch struct {
	Column     string
	FileType   types.LogicalType
	SchemaType types.LogicalType
	cause      error
}

func (e *ErrSchemaMismatch) Error() string {
	return fmt.Sprintf("schema mismatch on column %q: file has %s, schema has %s",
		e.Column, e.FileType, e.SchemaType)
}

func (e *ErrSchemaMismatch) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, scan.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNoRows, err)
	}
	if errors.Is(err, segment.ErrCorruptFooter) {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	var sm *segment.SchemaMismatchError
	if errors.As(err, &sm) {
		return &ErrSchemaMismatch{
			Column:     sm.Column,
			FileType:   sm.FileType,
			SchemaType: sm.SchemaType,
			cause:      err,
		}
	}

	return err
}
