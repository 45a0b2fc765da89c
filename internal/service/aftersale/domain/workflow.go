// internal/service/aftersale/domain/workflow.go
package domain

import (
	"errors"
	"time"
)

// Action 是对售后单发起的操作
type Action string

const (
	ActionApprove           Action = "APPROVE"
	ActionReject            Action = "REJECT"
	ActionCancel            Action = "CANCEL"
	ActionResubmit          Action = "RESUBMIT"
	ActionRequestReturn     Action = "REQUEST_RETURN"
	ActionRequestRefund     Action = "REQUEST_REFUND"
	ActionSubmitReturn      Action = "SUBMIT_RETURN"
	ActionConfirmReceipt    Action = "CONFIRM_RECEIPT"
	ActionRefund            Action = "REFUND"
	ActionModifyAmount      Action = "MODIFY_AMOUNT"
	ActionModifyApplication Action = "MODIFY_APPLICATION"
	ActionAnnotate          Action = "ANNOTATE"
)

// ErrActionNeedsPayload 这些动作不改变状态，需要走专门的用例
var ErrActionNeedsPayload = errors.New("action requires a dedicated request")

// legalActions 是 状态 -> 允许动作 的合法操作表
var legalActions = map[State][]Action{
	StatePendingApproval: {ActionApprove, ActionReject, ActionCancel, ActionModifyAmount, ActionModifyApplication, ActionAnnotate},
	StateApproved:        {ActionRequestReturn, ActionRequestRefund, ActionAnnotate},
	StateRejected:        {ActionResubmit, ActionCancel, ActionAnnotate},
	StatePendingReturn:   {ActionSubmitReturn, ActionCancel, ActionAnnotate},
	StatePendingReceive:  {ActionConfirmReceipt, ActionReject, ActionAnnotate},
	StatePendingRefund:   {ActionRefund, ActionAnnotate},
	StateCompleted:       {ActionAnnotate},
	StateCancelled:       {ActionAnnotate},
}

// AllowedActions 返回某状态下该售后类型可执行的动作，供调用方渲染可用操作
func AllowedActions(state State, t CaseType) []Action {
	base := legalActions[state]
	out := make([]Action, 0, len(base))
	for _, a := range base {
		switch a {
		case ActionRequestReturn, ActionSubmitReturn:
			if !t.RequiresShipment() {
				continue
			}
		case ActionRequestRefund:
			if t != TypeRefundOnly {
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

// AllowedActions 在状态表基础上去掉修改次数用尽后必然失败的自助动作
func (c *Case) AllowedActions() []Action {
	actions := AllowedActions(c.State, c.Type)
	if !c.NeedsIntervention() {
		return actions
	}
	out := actions[:0]
	for _, a := range actions {
		if a == ActionResubmit || a == ActionModifyApplication {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Can 只看状态表，修改次数上限由各动作自己报告
func (c *Case) Can(action Action) bool {
	for _, a := range AllowedActions(c.State, c.Type) {
		if a == action {
			return true
		}
	}
	return false
}

// ProjectStage 由状态推导阶段
func ProjectStage(state State, t CaseType) Stage {
	switch state {
	case StatePendingApproval:
		return StageApply
	case StateApproved, StateRejected:
		return StageAudit
	case StatePendingReturn:
		return StageReturn
	case StatePendingReceive:
		return StageReceive
	case StatePendingRefund:
		if t.RequiresShipment() {
			return StageReceive
		}
		return StageAudit
	default:
		return StageComplete
	}
}

// Transition 记录一次状态流转
type Transition struct {
	Action    Action
	From      State
	To        State
	FromStage Stage
	ToStage   Stage
}

func (t Transition) Changed() bool {
	return t.From != t.To || t.FromStage != t.ToStage
}

// Apply 是状态流转的唯一入口: 校验动作合法性并计算目标状态。
// 任何错误都不会修改售后单。
func (c *Case) Apply(action Action, deadlines DeadlinePolicy, now time.Time) (Transition, error) {
	if !c.Can(action) {
		return Transition{}, &IllegalTransitionError{State: c.State, Action: action}
	}

	var next State
	switch action {
	case ActionApprove:
		next = StateApproved
	case ActionReject:
		next = StateRejected
	case ActionCancel:
		next = StateCancelled
	case ActionResubmit:
		if c.NeedsIntervention() {
			return Transition{}, ErrModificationCapExceeded
		}
		next = StatePendingApproval
	case ActionRequestReturn:
		next = StatePendingReturn
	case ActionRequestRefund:
		next = StatePendingRefund
	case ActionSubmitReturn:
		next = StatePendingReceive
	case ActionConfirmReceipt:
		if c.Type == TypeExchange {
			next = StateCompleted
		} else {
			next = StatePendingRefund
		}
	case ActionRefund:
		next = StateCompleted
	default:
		return Transition{}, ErrActionNeedsPayload
	}

	tr := Transition{Action: action, From: c.State, To: next, FromStage: c.Stage}

	switch action {
	case ActionApprove:
		c.ApprovedAmount = c.ActualAmount
	case ActionResubmit:
		c.ModificationCount++
	}

	c.State = next
	if projected := ProjectStage(next, c.Type); c.Stage.Before(projected) {
		c.Stage = projected
	}
	c.DeadlineAt = deadlines.DeadlineFor(next, c.Type, now)
	c.NeedsReview = false
	c.UpdatedAt = now

	tr.ToStage = c.Stage
	return tr, nil
}

// ForceState 由 OMS 权威状态直接覆盖，绕过合法操作表
func (c *Case) ForceState(state State, stage Stage, deadlines DeadlinePolicy, now time.Time) Transition {
	tr := Transition{From: c.State, To: state, FromStage: c.Stage, ToStage: stage}
	if state != c.State {
		c.DeadlineAt = deadlines.DeadlineFor(state, c.Type, now)
		c.NeedsReview = false
	}
	if state == StateApproved && c.ApprovedAmount.IsZero() {
		c.ApprovedAmount = c.ActualAmount
	}
	c.State = state
	c.Stage = stage
	c.UpdatedAt = now
	return tr
}

// FlagForReview 超时策略为标记时使用: 不改变状态，只清除时限
func (c *Case) FlagForReview(now time.Time) {
	c.NeedsReview = true
	c.DeadlineAt = nil
	c.UpdatedAt = now
}
