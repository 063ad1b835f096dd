/*
errors.go - Error taxonomy for the record store

ERROR CATEGORIES:
  1. UnknownCollection - caller named a collection the registry does not know.
     Raised before any I/O.
  2. NotFound - Update targeted an id with no stored record.
  3. Conflict - Create was given an id that is already stored.
  4. Validation - a declared field failed its type check.
  5. Storage - the KV backend failed a write. Read and delete failures are
     logged and flattened to absence / false, so they never surface here.

USAGE:
  if record.IsNotFound(err) {
      ...
  }

  var ve *record.ValidationError
  if errors.As(err, &ve) {
      log.Printf("bad field %s", ve.Field)
  }
*/
package record

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnknownCollection is returned when a collection is absent from the registry.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrNotFound is returned when an update targets a missing record.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when Create targets an id that already exists.
	ErrConflict = errors.New("record already exists")

	// ErrValidation is returned when a field fails its declared type.
	ErrValidation = errors.New("validation failed")

	// ErrStorage is returned when the backing store fails a write.
	ErrStorage = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnknownCollectionError names the collection that was not registered.
type UnknownCollectionError struct {
	Collection string
}

func (e *UnknownCollectionError) Error() string {
	return fmt.Sprintf("unknown collection %q", e.Collection)
}

func (e *UnknownCollectionError) Unwrap() error { return ErrUnknownCollection }

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Collection, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError identifies the record Create refused to overwrite.
type ConflictError struct {
	Collection string
	ID         string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Collection, e.ID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ValidationError reports the first field that failed its type check.
type ValidationError struct {
	Collection string
	Field      string
	Expected   FieldType
	Got        any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s.%s: expected %s, got %T", e.Collection, e.Field, e.Expected, e.Got)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StorageError wraps a backend failure with the operation and key involved.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap exposes both the sentinel and the backend cause.
func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool          { return errors.Is(err, ErrConflict) }
func IsValidation(err error) bool        { return errors.Is(err, ErrValidation) }
func IsUnknownCollection(err error) bool { return errors.Is(err, ErrUnknownCollection) }
func IsStorage(err error) bool           { return errors.Is(err, ErrStorage) }
