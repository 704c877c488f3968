package sig

import (
	"errors"
	"fmt"
)

// SigningError is returned by Sign when no token can be produced for the key.
type SigningError struct {
	RuleID  string
	Message string
	Cause   error
}

func (e *SigningError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.RuleID, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.RuleID, e.Message)
}

func (e *SigningError) Unwrap() error { return e.Cause }

// TokenError describes a structurally invalid detached token.
type TokenError struct {
	RuleID  string
	Message string
	Cause   error
}

func (e *TokenError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.RuleID, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.RuleID, e.Message)
}

func (e *TokenError) Unwrap() error { return e.Cause }

func signingError(ruleID, msg string, cause error) error {
	return &SigningError{RuleID: ruleID, Message: msg, Cause: cause}
}

func tokenError(ruleID, msg string, cause error) error {
	return &TokenError{RuleID: ruleID, Message: msg, Cause: cause}
}

// IsSigningError reports whether err wraps a *SigningError.
func IsSigningError(err error) bool {
	var se *SigningError
	return errors.As(err, &se)
}
