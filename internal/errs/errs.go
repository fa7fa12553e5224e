// Package errs defines the failure taxonomy of the remediation engine.
package errs

import (
	"errors"
	"fmt"

	"github.com/ortelius/pdvd-remediation/model"
)

// Kind classifies an error for propagation and retry decisions.
type Kind int

// Error kinds.
const (
	KindUnknown Kind = iota
	KindRiskDataIncomplete
	KindApprovalTimeout
	KindSnapshotCreationFailed
	KindSandboxFailure
	KindStageHealthBreach
	KindRollbackFailure
	KindExecutionTimeout
	KindTransientInfra
	KindCancelled
	KindNotFound
	KindConflict
	KindInvalid
	KindUnauthorized
)

var kindNames = map[Kind]string{
	KindUnknown:                "Unknown",
	KindRiskDataIncomplete:     "RiskDataIncomplete",
	KindApprovalTimeout:        "ApprovalTimeout",
	KindSnapshotCreationFailed: "SnapshotCreationFailed",
	KindSandboxFailure:         "SandboxFailure",
	KindStageHealthBreach:      "StageHealthBreach",
	KindRollbackFailure:        "RollbackFailure",
	KindExecutionTimeout:       "ExecutionTimeout",
	KindTransientInfra:         "TransientInfraError",
	KindCancelled:              "Cancelled",
	KindNotFound:               "NotFound",
	KindConflict:               "Conflict",
	KindInvalid:                "Invalid",
	KindUnauthorized:           "Unauthorized",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Severity is the audit severity recorded when an error of this kind ends an execution.
func (k Kind) Severity() model.Severity {
	switch k {
	case KindRollbackFailure:
		return model.SeverityCritical
	case KindStageHealthBreach, KindExecutionTimeout, KindSnapshotCreationFailed, KindSandboxFailure, KindRiskDataIncomplete:
		return model.SeverityError
	case KindTransientInfra, KindApprovalTimeout, KindCancelled:
		return model.SeverityWarning
	}
	return model.SeverityError
}

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrRiskDataIncomplete     = &Error{Kind: KindRiskDataIncomplete}
	ErrApprovalTimeout        = &Error{Kind: KindApprovalTimeout}
	ErrSnapshotCreationFailed = &Error{Kind: KindSnapshotCreationFailed}
	ErrSandboxFailure         = &Error{Kind: KindSandboxFailure}
	ErrStageHealthBreach      = &Error{Kind: KindStageHealthBreach}
	ErrRollbackFailure        = &Error{Kind: KindRollbackFailure}
	ErrExecutionTimeout       = &Error{Kind: KindExecutionTimeout}
	ErrTransientInfra         = &Error{Kind: KindTransientInfra}
	ErrCancelled              = &Error{Kind: KindCancelled}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrConflict               = &Error{Kind: KindConflict}
	ErrInvalid                = &Error{Kind: KindInvalid}
	ErrUnauthorized           = &Error{Kind: KindUnauthorized}
)

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return KindUnknown
		}
		if e.Kind != KindUnknown {
			return e.Kind
		}
		err = e.Err
	}
	return KindUnknown
}

// IsTransient reports whether err may be retried automatically.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransientInfra
}
