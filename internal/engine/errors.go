package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/grove/internal/ir"
)

// RuntimeError is an error detected by the runtime.
//
// Lifecycle errors (ALREADY_STARTED, INACTIVE, REENTRANT_WRITE) are
// returned from the public call that violated a precondition. Consistency
// errors (CYCLE_DETECTED, DANGLING_ROUTE, INCONSISTENT) roll back the
// offending write and are also reported to the error sink.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Node identifies the affected node, when there is one.
	Node ir.NodeID

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	ErrCodeAlreadyStarted RuntimeErrorCode = "ALREADY_STARTED"
	ErrCodeInactive       RuntimeErrorCode = "INACTIVE"
	ErrCodeReentrantWrite RuntimeErrorCode = "REENTRANT_WRITE"

	// ErrCodeCycleDetected means a node was re-evaluated more times than
	// allowed within one write.
	ErrCodeCycleDetected RuntimeErrorCode = "CYCLE_DETECTED"

	// ErrCodeDanglingRoute means a route record references a node with no
	// live scope.
	ErrCodeDanglingRoute RuntimeErrorCode = "DANGLING_ROUTE"

	// ErrCodeInconsistent covers every other scope/store disagreement found
	// by the consistency check.
	ErrCodeInconsistent RuntimeErrorCode = "INCONSISTENT"

	// ErrCodeUnknownField means a read or write named a field the node's
	// schema does not declare.
	ErrCodeUnknownField RuntimeErrorCode = "UNKNOWN_FIELD"

	// ErrCodeDeclaration means a node's schema or rules are malformed.
	ErrCodeDeclaration RuntimeErrorCode = "DECLARATION"

	// ErrCodeHandler wraps an error returned by an effect, intent or
	// behavior handler.
	ErrCodeHandler RuntimeErrorCode = "HANDLER"
)

// Sentinel errors for lifecycle checks. Match with errors.Is.
var (
	ErrAlreadyStarted = &RuntimeError{Code: ErrCodeAlreadyStarted, Message: "runtime already started"}
	ErrInactive       = &RuntimeError{Code: ErrCodeInactive, Message: "runtime is not active"}
	ErrReentrantWrite = &RuntimeError{Code: ErrCodeReentrantWrite, Message: "write issued from inside a write"}
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Node.Valid() {
		msg = fmt.Sprintf("%s (node=%s)", msg, e.Node)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error { return e.Err }

// Is matches on Code so errors.Is(err, ErrInactive) holds for any
// INACTIVE error.
func (e *RuntimeError) Is(target error) bool {
	t, ok := target.(*RuntimeError)
	return ok && t.Code == e.Code
}

// IsCycleError returns true if err is or wraps a cycle error.
func IsCycleError(err error) bool {
	return hasCode(err, ErrCodeCycleDetected)
}

// IsLifecycleError returns true if err reports a violated lifecycle
// precondition.
func IsLifecycleError(err error) bool {
	return hasCode(err, ErrCodeAlreadyStarted) || hasCode(err, ErrCodeInactive) ||
		hasCode(err, ErrCodeReentrantWrite)
}

// IsConsistencyError returns true for cycle, dangling-route and
// inconsistent-state errors.
func IsConsistencyError(err error) bool {
	return hasCode(err, ErrCodeCycleDetected) || hasCode(err, ErrCodeDanglingRoute) ||
		hasCode(err, ErrCodeInconsistent)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	for err != nil {
		if !errors.As(err, &re) {
			return false
		}
		if re.Code == code {
			return true
		}
		err = re.Err
	}
	return false
}

// NewCycleError creates a RuntimeError for an evaluation bound overrun.
func NewCycleError(node ir.NodeID, evaluations, limit int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeCycleDetected,
		Message: fmt.Sprintf("node evaluated %d times in one write (limit %d)", evaluations, limit),
		Node:    node,
		Details: map[string]string{
			"evaluations": fmt.Sprintf("%d", evaluations),
			"limit":       fmt.Sprintf("%d", limit),
		},
	}
}

func declarationError(node ir.NodeID, format string, args ...any) *RuntimeError {
	return &RuntimeError{Code: ErrCodeDeclaration, Message: fmt.Sprintf(format, args...), Node: node}
}

func unknownFieldError(node ir.NodeID, name string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownField,
		Message: fmt.Sprintf("no field named %q", name),
		Node:    node,
	}
}

func handlerError(node ir.NodeID, what string, err error) error {
	var re *RuntimeError
	if errors.As(err, &re) && re.Code != ErrCodeHandler {
		return err
	}
	return &RuntimeError{Code: ErrCodeHandler, Message: what + " failed", Node: node, Err: err}
}
