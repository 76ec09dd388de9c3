package autherrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/oauth2"
)

// Sentinels for the identity error taxonomy. Every typed error in this package
// matches ErrIdentity; the others identify the specific kind.
var (
	ErrIdentity       = errors.New("identity error")
	ErrInvalidGrant   = errors.New("invalid grant")
	ErrSchemaMismatch = errors.New("schema mismatch")
	ErrIssuerMismatch = errors.New("issuer mismatch")
	ErrInvalidConfig  = errors.New("invalid config")
)

const invalidGrantCode = "invalid_grant"

// Error is the generic identity failure. Callers can't recover from it locally.
type Error struct {
	Msg string
	Err error
}

func New(format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrIdentity }

// InvalidGrantError is returned when the provider rejects a refresh because the
// grant was revoked or expired. The session should be dropped.
type InvalidGrantError struct {
	Description string
	Err         error
}

func (e *InvalidGrantError) Error() string {
	return "Failed to refresh token: " + e.Description
}

func (e *InvalidGrantError) Unwrap() error { return e.Err }

func (e *InvalidGrantError) Is(target error) bool {
	return target == ErrInvalidGrant || target == ErrIdentity
}

// SchemaMismatchError is returned when stored data doesn't have exactly the
// keys the current schema expects.
type SchemaMismatchError struct {
	Expected []string
	Actual   []string
}

func NewSchemaMismatch(expected, actual []string) *SchemaMismatchError {
	return &SchemaMismatchError{Expected: sortedCopy(expected), Actual: sortedCopy(actual)}
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("Schema version mismatch: expected {%s}, got {%s}",
		strings.Join(e.Expected, ", "), strings.Join(e.Actual, ", "))
}

func (e *SchemaMismatchError) Is(target error) bool {
	return target == ErrSchemaMismatch || target == ErrIdentity
}

// IssuerMismatchError is returned when a stored session was written under a
// different issuer than the one currently configured.
type IssuerMismatchError struct {
	Expected string
	Actual   string
}

func (e *IssuerMismatchError) Error() string {
	return fmt.Sprintf("Issuer mismatch: expected %q, got %q", e.Expected, e.Actual)
}

func (e *IssuerMismatchError) Is(target error) bool {
	return target == ErrIssuerMismatch || target == ErrIdentity
}

// Violation is a single configuration validation failure.
type Violation struct {
	Path string
	Text string
}

func (v Violation) String() string {
	return v.Path + " " + v.Text
}

// InvalidConfigError lists every violation found while validating the configuration.
type InvalidConfigError struct {
	Violations []Violation
}

func (e *InvalidConfigError) Error() string {
	lines := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		lines = append(lines, "- "+v.String())
	}
	return "Invalid or incomplete Identity configuration:\n\n" + strings.Join(lines, "\n")
}

func (e *InvalidConfigError) Is(target error) bool {
	return target == ErrInvalidConfig || target == ErrIdentity
}

// IsRecoverable reports whether err means the stored session should be dropped
// and the request treated as unauthenticated.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrSchemaMismatch) ||
		errors.Is(err, ErrIssuerMismatch) ||
		errors.Is(err, ErrInvalidGrant)
}

// FromRefreshError classifies a failed token refresh. Provider responses whose
// body carries invalid_grant become InvalidGrantError, anything else is a generic Error.
func FromRefreshError(err error) error {
	if err == nil {
		return nil
	}

	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return &Error{Msg: "Failed to refresh token: " + err.Error(), Err: err}
	}

	invalidGrant := re.ErrorCode == invalidGrantCode
	description := re.ErrorDescription

	var body struct {
		Error            string `json:"error"`
		ErrorType        string `json:"error_type"`
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal(re.Body, &body) == nil {
		invalidGrant = invalidGrant || body.Error == invalidGrantCode || body.ErrorType == invalidGrantCode
		if description == "" {
			description = body.ErrorDescription
		}
	}
	if description == "" {
		description = err.Error()
	}

	if invalidGrant {
		return &InvalidGrantError{Description: description, Err: err}
	}
	return &Error{Msg: "Failed to refresh token: " + description, Err: err}
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func sortedCopy(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	return out
}
