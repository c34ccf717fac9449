// Package errs defines the error taxonomy shared by the queue, the job queue
// and the HTTP layer.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError collects every failed input check of one request.
type ValidationError struct {
	Errors []error `json:"errors"`
}

func (v *ValidationError) Add(err error) {
	v.Errors = append(v.Errors, err)
}

func (v *ValidationError) Addf(format string, args ...any) {
	v.Add(fmt.Errorf(format, args...))
}

func (v *ValidationError) HasError() bool {
	return len(v.Errors) > 0
}

func (v *ValidationError) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	return fmt.Sprintf("validation failed: %v", errors.Join(v.Errors...))
}

// OrNil returns v as an error when it holds failures, nil otherwise.
func (v *ValidationError) OrNil() error {
	if v.HasError() {
		return v
	}
	return nil
}

// NotFoundError reports a missing or ineligible record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// StoreError wraps a failed persistence operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// Store wraps err as a StoreError unless it is nil or already typed.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	var nf *NotFoundError
	var se *StoreError
	if errors.As(err, &nf) || errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
