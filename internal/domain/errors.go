package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNothingSelected is returned by batch operations called without any id.
var ErrNothingSelected = errors.New("please select at least one product")

// ValidationError is a single user-correctable problem with a field.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationFailure carries the field errors of a rejected create or edit
// together with what the caller needs to re-render its form.
type ValidationFailure struct {
	Errors     []ValidationError `json:"errors"`
	Categories []*Category       `json:"categories"`
	Draft      ProductFields     `json:"draft"`
}

func (e *ValidationFailure) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Error())
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// HasField reports whether field is among the failures.
func (e *ValidationFailure) HasField(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// NotFoundError means no product matched the requested id.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ID)
}

// AmbiguousMatchError means the store returned more than one product for an id.
// Ids are unique, so this always indicates a broken store.
type AmbiguousMatchError struct {
	ID      int64
	Matches int
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("product id %d matched %d records", e.ID, e.Matches)
}

// AssetWriteError wraps a failure to persist a new image.
type AssetWriteError struct {
	Path string
	Err  error
}

func (e *AssetWriteError) Error() string {
	return fmt.Sprintf("failed to write asset %s: %v", e.Path, e.Err)
}

func (e *AssetWriteError) Unwrap() error { return e.Err }

// AssetDeleteError wraps a failure to remove a stored image.
type AssetDeleteError struct {
	Path string
	Err  error
}

func (e *AssetDeleteError) Error() string {
	return fmt.Sprintf("failed to delete asset %s: %v", e.Path, e.Err)
}

func (e *AssetDeleteError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
