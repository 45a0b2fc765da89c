package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActorType 操作人分类
type ActorType string

const (
	ActorSystem   ActorType = "SYSTEM"
	ActorUser     ActorType = "USER"
	ActorOperator ActorType = "OPERATOR"
)

type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id"`
}

var (
	SystemActor  = Actor{Type: ActorSystem, ID: "system"}
	TimeoutActor = Actor{Type: ActorSystem, ID: "timeout-sweeper"}
	OMSActor     = Actor{Type: ActorSystem, ID: "oms-sync"}
)

// AuditAction 审计日志记录的动作
type AuditAction string

const (
	AuditCaseCreated         AuditAction = "CASE_CREATED"
	AuditStateTransition     AuditAction = "STATE_TRANSITION"
	AuditAutoApproved        AuditAction = "AUTO_APPROVED"
	AuditTimeoutTransition   AuditAction = "TIMEOUT_TRANSITION"
	AuditTimeoutFlagged      AuditAction = "TIMEOUT_FLAGGED"
	AuditAmountModified      AuditAction = "AMOUNT_MODIFIED"
	AuditApplicationModified AuditAction = "APPLICATION_MODIFIED"
	AuditAnnotated           AuditAction = "ANNOTATED"
	AuditShipmentUpdated     AuditAction = "SHIPMENT_UPDATED"
	AuditRefundAttempted     AuditAction = "REFUND_ATTEMPTED"
	AuditOMSCreated          AuditAction = "OMS_SYNC_CREATED"
	AuditOMSStatusChanged    AuditAction = "OMS_STATUS_CHANGED"
	AuditOMSInfoUpdated      AuditAction = "OMS_INFO_UPDATED"
	AuditUserAssociated      AuditAction = "USER_ASSOCIATED"
)

// AuditEntry 是一次变更的不可变记录，只追加，只能被保留策略清理
type AuditEntry struct {
	ID          string
	CaseID      string
	ReferenceNo string
	Actor       Actor
	Action      AuditAction
	FromState   *State
	ToState     *State
	Context     map[string]any
	CreatedAt   time.Time
}

func NewAuditEntry(c *Case, actor Actor, action AuditAction, now time.Time) *AuditEntry {
	return &AuditEntry{
		ID:          uuid.New().String(),
		CaseID:      c.ID,
		ReferenceNo: c.ReferenceNo,
		Actor:       actor,
		Action:      action,
		Context:     map[string]any{},
		CreatedAt:   now,
	}
}

// WithTransition 只有真正发生状态变化时才记录前后状态
func (e *AuditEntry) WithTransition(tr Transition) *AuditEntry {
	if tr.From != tr.To {
		from, to := tr.From, tr.To
		e.FromState = &from
		e.ToState = &to
	}
	if tr.Action != "" {
		e.Context["action"] = string(tr.Action)
	}
	if tr.FromStage != tr.ToStage {
		e.Context["fromStage"] = string(tr.FromStage)
		e.Context["toStage"] = string(tr.ToStage)
	}
	return e
}

func (e *AuditEntry) With(key string, value any) *AuditEntry {
	e.Context[key] = value
	return e
}
