package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCaseNotFound            = errors.New("aftersale case not found")
	ErrReferenceExists         = errors.New("aftersale case with this reference already exists")
	ErrAmountCapExceeded       = errors.New("actual refund amount exceeds the original refund amount")
	ErrModificationCapExceeded = errors.New("modification limit reached, case needs human intervention")
	ErrConcurrentModification  = errors.New("case was modified concurrently")
	ErrTransient               = errors.New("transient persistence failure")
	ErrTerminalCase            = errors.New("case is in a terminal state")
	ErrSatelliteMismatch       = errors.New("satellite process does not apply to this case type")
	ErrSatelliteNotFound       = errors.New("satellite process record not found")
	ErrRefundNotRetryable      = errors.New("refund execution cannot be retried")
	ErrRefundInProgress        = errors.New("refund execution already in progress")
	ErrSnapshotImmutable       = errors.New("product snapshot is immutable once set")
)

// Violation 是单个字段的约束违反
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError 汇总所有约束违反，校验失败时不会有任何部分写入
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewValidationError 没有违反项时返回 nil
func NewValidationError(violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

// IllegalTransitionError 表示当前状态下不允许执行该动作
type IllegalTransitionError struct {
	State  State
	Action Action
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("action %s is not allowed in state %s", e.Action, e.State)
}

// ReconciliationError 携带 OMS 单号和根因
type ReconciliationError struct {
	ReferenceNo string
	Op          OMSOperation
	Err         error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile %s for reference %s: %v", e.Op, e.ReferenceNo, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// IsTransient 判断调用方是否可以重试
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConcurrentModification)
}
