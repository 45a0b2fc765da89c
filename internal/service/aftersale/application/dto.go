package application

import (
	"time"

	"aftersale/internal/service/aftersale/domain"

	"github.com/shopspring/decimal"
)

// CreateCaseRequest 是用户提交售后申请的请求体
type CreateCaseRequest struct {
	OrderNo         string            `json:"order_no"`
	OrderLineNo     string            `json:"order_line_no"`
	UserID          string            `json:"user_id"`
	ContactName     string            `json:"contact_name"`
	ContactPhone    string            `json:"contact_phone"`
	Type            domain.CaseType   `json:"type"`
	Reason          domain.ReasonCode `json:"reason"`
	Description     string            `json:"description"`
	Quantity        int               `json:"quantity"`
	RequestedAmount decimal.Decimal   `json:"requested_amount"`
}

// ActionRequest 是对售后单执行流转动作的请求体
type ActionRequest struct {
	Action domain.Action `json:"action"`
	Note   string        `json:"note"`
}

type ModifyAmountRequest struct {
	ActualAmount decimal.Decimal `json:"actual_amount"`
	Reason       string          `json:"reason"`
}

// ModifyApplicationRequest 未出现的字段保持不变
type ModifyApplicationRequest struct {
	Reason          *domain.ReasonCode `json:"reason,omitempty"`
	Description     *string            `json:"description,omitempty"`
	RequestedAmount *decimal.Decimal   `json:"requested_amount,omitempty"`
	Quantity        *int               `json:"quantity,omitempty"`
}

type AnnotateRequest struct {
	Note string `json:"note"`
	// Service 为 true 时写客服备注，否则写审核备注
	Service bool `json:"service"`
}

type ShipmentRequest struct {
	Carrier    string `json:"carrier"`
	TrackingNo string `json:"tracking_no"`
}

// CaseView 是售后单对外展示的结构
type CaseView struct {
	ID                string                  `json:"id"`
	ReferenceNo       string                  `json:"reference_no"`
	OrderNo           string                  `json:"order_no"`
	OrderLineNo       string                  `json:"order_line_no,omitempty"`
	UserID            string                  `json:"user_id,omitempty"`
	Type              domain.CaseType         `json:"type"`
	Reason            domain.ReasonCode       `json:"reason"`
	Description       string                  `json:"description,omitempty"`
	Quantity          int                     `json:"quantity"`
	State             domain.State            `json:"state"`
	Stage             domain.Stage            `json:"stage"`
	RequestedAmount   decimal.Decimal         `json:"requested_amount"`
	ApprovedAmount    decimal.Decimal         `json:"approved_amount"`
	ActualAmount      decimal.Decimal         `json:"actual_amount"`
	AmountModified    bool                    `json:"amount_modified"`
	ModificationCount int                     `json:"modification_count"`
	NeedsIntervention bool                    `json:"needs_intervention"`
	NeedsReview       bool                    `json:"needs_review"`
	DeadlineAt        *time.Time              `json:"deadline_at,omitempty"`
	AuditNote         string                  `json:"audit_note,omitempty"`
	ServiceNote       string                  `json:"service_note,omitempty"`
	Product           *domain.ProductSnapshot `json:"product,omitempty"`
	Source            domain.Source           `json:"source"`
	AllowedActions    []domain.Action         `json:"allowed_actions"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

func NewCaseView(c *domain.Case) CaseView {
	v := CaseView{
		ID:                c.ID,
		ReferenceNo:       c.ReferenceNo,
		OrderNo:           c.OrderNo,
		OrderLineNo:       c.OrderLineNo,
		UserID:            c.UserID,
		Type:              c.Type,
		Reason:            c.Reason,
		Description:       c.Description,
		Quantity:          c.Quantity,
		State:             c.State,
		Stage:             c.Stage,
		RequestedAmount:   c.RequestedAmount,
		ApprovedAmount:    c.ApprovedAmount,
		ActualAmount:      c.ActualAmount,
		AmountModified:    c.AmountModified,
		ModificationCount: c.ModificationCount,
		NeedsIntervention: c.NeedsIntervention(),
		NeedsReview:       c.NeedsReview,
		DeadlineAt:        c.DeadlineAt,
		AuditNote:         c.AuditNote,
		ServiceNote:       c.ServiceNote,
		Source:            c.Source,
		AllowedActions:    c.AllowedActions(),
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
	if c.HasSnapshot() {
		snap := c.Snapshot
		v.Product = &snap
	}
	return v
}

// AuditEntryView 是审计日志对外展示的结构
type AuditEntryView struct {
	ID        string           `json:"id"`
	ActorType domain.ActorType `json:"actor_type"`
	ActorID   string           `json:"actor_id"`
	Action    string           `json:"action"`
	FromState *domain.State    `json:"from_state,omitempty"`
	ToState   *domain.State    `json:"to_state,omitempty"`
	Context   map[string]any   `json:"context,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

func NewAuditEntryViews(entries []*domain.AuditEntry) []AuditEntryView {
	out := make([]AuditEntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryView{
			ID:        e.ID,
			ActorType: e.Actor.Type,
			ActorID:   e.Actor.ID,
			Action:    string(e.Action),
			FromState: e.FromState,
			ToState:   e.ToState,
			Context:   e.Context,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}

// RefundView 是退款执行的结果
type RefundView struct {
	Status       domain.RefundStatus `json:"status"`
	Amount       decimal.Decimal     `json:"amount"`
	RetryCount   int                 `json:"retry_count"`
	CanRetry     bool                `json:"can_retry"`
	GatewayTxnID string              `json:"gateway_txn_id,omitempty"`
	LastError    string              `json:"last_error,omitempty"`
}

func NewRefundView(r *domain.RefundExecution) RefundView {
	return RefundView{
		Status:       r.Status,
		Amount:       r.Amount,
		RetryCount:   r.RetryCount,
		CanRetry:     r.CanRetry(),
		GatewayTxnID: r.GatewayTxnID,
		LastError:    r.LastError,
	}
}

// SweepReport 是一次超时扫描的统计
type SweepReport struct {
	Candidates  int `json:"candidates"`
	Transitions int `json:"transitions"`
	Flagged     int `json:"flagged"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}
