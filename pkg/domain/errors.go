package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRecordNotFound is returned by update-by-key and delete-by-key when no row
// matches the natural key.
var ErrRecordNotFound = errors.New("record not found")

// ValidationError reports a missing or out-of-range input. It blocks the
// operation and leaves the form as entered.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DuplicateKeyError reports products that already have a record for the
// selected organization and program.
type DuplicateKeyError struct {
	Organization string
	Program      string
	Products     []string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate entry detected: the product code(s) %s already exist for %s / %s",
		strings.Join(e.Products, ", "), e.Organization, e.Program)
}

// StoreError wraps a connectivity or query failure raised at the record store
// boundary.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err unless it is nil or already a StoreError.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStore reports whether err is (or wraps) a StoreError.
func IsStore(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
