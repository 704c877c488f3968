package pcl

import "errors"

// Kind is a stable category for programmatic error handling.
type Kind string

const (
	KindParse      Kind = "Parse"
	KindValidation Kind = "Validation"
	KindDigest     Kind = "Digest"
	KindInternal   Kind = "Internal"
)

// Error is the model's structured error type.
//
// RuleID names the violated rule (e.g. PCL-VAL-101); Field is the wire key
// involved, when there is one.
type Error struct {
	Kind    Kind
	RuleID  string
	Field   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newError(kind Kind, ruleID, field, msg string) error {
	return &Error{Kind: kind, RuleID: ruleID, Field: field, Message: msg}
}

func wrapError(kind Kind, ruleID, field, msg string, cause error) error {
	return &Error{Kind: kind, RuleID: ruleID, Field: field, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// RuleID returns the stable RuleID for a structured error, or "" if unknown.
func RuleID(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.RuleID
}
