// Package apperr provides the coded error taxonomy shared by the planner.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents a non-domain error.
	CodeUnknown Code = "UNKNOWN"

	// Solve errors
	CodeInfeasible     Code = "INFEASIBLE"
	CodeEmptyInput     Code = "EMPTY_INPUT"
	CodeSolveCancelled Code = "SOLVE_CANCELLED"

	// Manual edit errors
	CodeCapacityExceeded      Code = "CAPACITY_EXCEEDED"
	CodeIneligibleBunk        Code = "INELIGIBLE_BUNK"
	CodeInconsistentLockGroup Code = "INCONSISTENT_LOCK_GROUP"

	// Generic errors
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInternal          Code = "INTERNAL"
)

// Constraint classes named by a Violation.
const (
	ConstraintCapacity      = "capacity"
	ConstraintEligibility   = "eligibility"
	ConstraintLockGroup     = "lock_group"
	ConstraintPin           = "pin"
	ConstraintLockedRequest = "locked_request"
)

// Violation describes one broken hard constraint and the entities involved.
type Violation struct {
	Constraint string   `json:"constraint"`
	Message    string   `json:"message"`
	Entities   []string `json:"entities,omitempty"`
	Amount     int      `json:"amount,omitempty"`
}

// Error is a domain error carrying a code and optional violations.
type Error struct {
	Code       Code
	Message    string
	Violations []Violation
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code, so sentinel-style comparisons work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// New creates an error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Infeasible builds an INFEASIBLE error from the violations found.
func Infeasible(violations ...Violation) *Error {
	msgs := make([]string, 0, len(violations))
	for _, v := range violations {
		msgs = append(msgs, v.Message)
	}
	return &Error{Code: CodeInfeasible, Message: strings.Join(msgs, "; "), Violations: violations}
}

// GetCode extracts the error code from any error.
// Returns CodeUnknown if the error is not a domain error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode checks if the error has the specified code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// Violations returns the violations attached to err, if any.
func Violations(err error) []Violation {
	var e *Error
	if errors.As(err, &e) {
		return e.Violations
	}
	return nil
}

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidInput, CodeEmptyInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInfeasible, CodeCapacityExceeded, CodeIneligibleBunk, CodeInvalidTransition:
		return http.StatusUnprocessableEntity
	case CodeSolveCancelled:
		return http.StatusConflict
	case CodeInconsistentLockGroup:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
