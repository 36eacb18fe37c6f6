// Package invoker implements the Tool Invoker (C4): gate check, allow-list
// check, schema validation, timed attempt, and classified retry.
package invoker

import (
	"errors"
	"regexp"
	"strings"
)

// ErrorClass is the taxonomy of §4.4/§7, used to decide retry eligibility.
type ErrorClass string

const (
	ClassRetryable     ErrorClass = "RETRYABLE"
	ClassUser          ErrorClass = "USER"
	ClassProvider      ErrorClass = "PROVIDER"
	ClassInfra         ErrorClass = "INFRASTRUCTURE"
	ClassPolicyDenied  ErrorClass = "POLICY_DENIED"
	ClassApprovalReqd  ErrorClass = "APPROVAL_REQUIRED"
	ClassHandoffLimit  ErrorClass = "HANDOFF_LIMIT"
	ClassUnknown       ErrorClass = "UNKNOWN"
)

var (
	retryablePattern = regexp.MustCompile(`(?i)timeout|timed out|429|rate limit|503|service unavailable`)
	userPattern      = regexp.MustCompile(`(?i)validation|invalid .* format`)
	providerPattern  = regexp.MustCompile(`(?i)api key|unauthorized|401`)
	infraPattern     = regexp.MustCompile(`(?i)database|connection refused|econnrefused`)
)

// Classify maps an error's message onto the taxonomy, per §4.4's ordered
// word list.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	msg := err.Error()
	switch {
	case retryablePattern.MatchString(msg):
		return ClassRetryable
	case userPattern.MatchString(msg):
		return ClassUser
	case providerPattern.MatchString(msg):
		return ClassProvider
	case infraPattern.MatchString(msg):
		return ClassInfra
	default:
		return ClassUnknown
	}
}

// PolicyDeniedError is non-retryable: the tool is not on the turn's
// allowed-id set, or the gate denied it outright.
type PolicyDeniedError struct {
	ToolID string
}

func (e *PolicyDeniedError) Error() string {
	return "tool '" + e.ToolID + "' is not permitted for this turn"
}

// ValidationError wraps a schema-decode failure; non-retryable.
type ValidationError struct {
	ToolID string
	Err    error
}

func (e *ValidationError) Error() string {
	return "validation failed for tool '" + e.ToolID + "': " + e.Err.Error()
}
func (e *ValidationError) Unwrap() error { return e.Err }

// ToolTimeoutError is raised when a tool attempt exceeds its timeout budget.
type ToolTimeoutError struct {
	ToolID string
}

func (e *ToolTimeoutError) Error() string {
	return "tool '" + e.ToolID + "' timed out"
}

func IsTimeout(err error) bool {
	var t *ToolTimeoutError
	return errors.As(err, &t) || strings.Contains(strings.ToLower(errSafe(err)), "timed out")
}

func errSafe(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
