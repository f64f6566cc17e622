package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoNetwork                = errors.New("network required but unavailable")
	ErrNotFound                 = errors.New("not found")
	ErrAuthRequired             = errors.New("authentication required")
	ErrAuthExpired              = errors.New("authentication expired or rejected")
	ErrInvalidURI               = errors.New("invalid download uri")
	ErrInvalidIdentity          = errors.New("invalid download identity")
	ErrMobileDownloadRestricted = errors.New("downloads over mobile data are disabled")
	ErrTransferIO               = errors.New("transfer i/o error")
	ErrSchemaMigration          = errors.New("schema migration failed")
	ErrInvalidState             = errors.New("invalid state for operation")
	ErrTransient                = errors.New("transient network failure")
	ErrRangeNotSatisfiable      = errors.New("requested range not satisfiable")
)

// SchemaMigrationError reports the migration step that could not be applied
type SchemaMigrationError struct {
	Version int
	Name    string
	Err     error
}

func (e *SchemaMigrationError) Error() string {
	return fmt.Sprintf("schema migration %d (%s): %v", e.Version, e.Name, e.Err)
}

func (e *SchemaMigrationError) Unwrap() []error {
	return []error{ErrSchemaMigration, e.Err}
}

// TransferError wraps an I/O failure during a transfer
func TransferError(err error) error {
	if err == nil || errors.Is(err, ErrTransferIO) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransferIO, err)
}

// StatusError is returned for HTTP responses outside the 2xx range
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response status: %s", e.Status)
}
