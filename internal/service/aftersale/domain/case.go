// internal/service/aftersale/domain/case.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxModifications 自助修改次数上限，达到后需要人工介入
const MaxModifications = 3

// ProductSnapshot 是申请时的商品/价格快照，写入后不可变
type ProductSnapshot struct {
	SkuID       string          `json:"skuId"`
	ProductName string          `json:"productName"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	PaidAmount  decimal.Decimal `json:"paidAmount"` // 订单行实付金额，退款金额不能超过它
}

func (p ProductSnapshot) IsZero() bool {
	return p.SkuID == "" && p.PaidAmount.IsZero()
}

func (p ProductSnapshot) Equal(o ProductSnapshot) bool {
	return p.SkuID == o.SkuID && p.ProductName == o.ProductName && p.ImageURL == o.ImageURL &&
		p.UnitPrice.Equal(o.UnitPrice) && p.PaidAmount.Equal(o.PaidAmount)
}

// Case 是售后单聚合的根实体
type Case struct {
	ID           string
	ReferenceNo  string `validate:"required,max=64"`
	OrderNo      string `validate:"required,max=64"`
	OrderLineNo  string `validate:"max=64"`
	UserID       string
	ContactName  string `validate:"max=64"`
	ContactPhone string `validate:"omitempty,max=32"`

	Type        CaseType   `validate:"required,oneof=REFUND_ONLY RETURN_REFUND EXCHANGE"`
	Reason      ReasonCode `validate:"required,max=32"`
	Description string     `validate:"max=1024"`
	Quantity    int        `validate:"min=1"`

	State State
	Stage Stage

	// RequestedAmount 即原始申请退款金额
	RequestedAmount decimal.Decimal `validate:"gte=0"`
	ApprovedAmount  decimal.Decimal `validate:"gte=0"`
	ActualAmount    decimal.Decimal `validate:"gte=0"`
	AmountModified  bool

	ModificationCount int `validate:"gte=0"`
	NeedsReview       bool
	DeadlineAt        *time.Time

	AuditNote   string `validate:"max=1024"`
	ServiceNote string `validate:"max=1024"`

	Snapshot ProductSnapshot
	Source   Source
	Version  int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CaseDraft 是创建售后单所需的输入
type CaseDraft struct {
	ReferenceNo     string
	OrderNo         string
	OrderLineNo     string
	UserID          string
	ContactName     string
	ContactPhone    string
	Type            CaseType
	Reason          ReasonCode
	Description     string
	Quantity        int
	RequestedAmount decimal.Decimal
	Snapshot        ProductSnapshot
	Source          Source
}

// NewCase 工厂函数，新单总是从 待审核/申请 开始
func NewCase(d CaseDraft, deadlines DeadlinePolicy, now time.Time) *Case {
	c := &Case{
		ID:              uuid.New().String(),
		ReferenceNo:     d.ReferenceNo,
		OrderNo:         d.OrderNo,
		OrderLineNo:     d.OrderLineNo,
		UserID:          d.UserID,
		ContactName:     d.ContactName,
		ContactPhone:    d.ContactPhone,
		Type:            d.Type,
		Reason:          d.Reason,
		Description:     d.Description,
		Quantity:        d.Quantity,
		State:           StatePendingApproval,
		Stage:           StageApply,
		RequestedAmount: d.RequestedAmount,
		ActualAmount:    d.RequestedAmount,
		Snapshot:        d.Snapshot,
		Source:          d.Source,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if c.Source == "" {
		c.Source = SourceLocal
	}
	if c.Quantity == 0 {
		c.Quantity = 1
	}
	c.DeadlineAt = deadlines.DeadlineFor(c.State, c.Type, now)
	return c
}

// Check 校验跨字段的领域不变量，字段级约束由校验引擎负责
func (c *Case) Check() []Violation {
	var vs []Violation
	if !c.State.Valid() {
		vs = append(vs, Violation{Field: "State", Rule: "state", Message: "unknown state " + string(c.State)})
	}
	if !c.Stage.Valid() {
		vs = append(vs, Violation{Field: "Stage", Rule: "stage", Message: "unknown stage " + string(c.Stage)})
	}
	if c.ActualAmount.GreaterThan(c.RequestedAmount) {
		vs = append(vs, Violation{Field: "ActualAmount", Rule: "lte_requested", Message: "must not exceed requested amount"})
	}
	if c.Type.RefundsMoney() && !c.RequestedAmount.IsPositive() {
		vs = append(vs, Violation{Field: "RequestedAmount", Rule: "gt_zero", Message: "refund cases need a positive amount"})
	}
	if c.Snapshot.PaidAmount.IsPositive() && c.RequestedAmount.GreaterThan(c.Snapshot.PaidAmount) {
		vs = append(vs, Violation{Field: "RequestedAmount", Rule: "lte_paid", Message: "must not exceed the paid amount of the order line"})
	}
	return vs
}

// NeedsIntervention 修改次数达到上限后只能人工处理
func (c *Case) NeedsIntervention() bool {
	return c.ModificationCount >= MaxModifications
}

func (c *Case) HasSnapshot() bool {
	return !c.Snapshot.IsZero()
}

// AttachSnapshot 快照一旦写入就不允许改变
func (c *Case) AttachSnapshot(s ProductSnapshot) error {
	if c.HasSnapshot() && !c.Snapshot.Equal(s) {
		return ErrSnapshotImmutable
	}
	c.Snapshot = s
	return nil
}

// ModifyAmount 客服调整实际退款金额，仅限待审核状态
func (c *Case) ModifyAmount(actual decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if !c.Can(ActionModifyAmount) {
		return decimal.Zero, &IllegalTransitionError{State: c.State, Action: ActionModifyAmount}
	}
	if actual.IsNegative() {
		return decimal.Zero, NewValidationError([]Violation{{Field: "ActualAmount", Rule: "gte", Message: "must not be negative"}})
	}
	if actual.GreaterThan(c.RequestedAmount) {
		return decimal.Zero, ErrAmountCapExceeded
	}
	old := c.ActualAmount
	c.ActualAmount = actual
	c.AmountModified = true
	c.UpdatedAt = now
	return old, nil
}

// ApplicationChange 是用户自助修改申请的内容，nil 表示不修改
type ApplicationChange struct {
	Reason          *ReasonCode
	Description     *string
	RequestedAmount *decimal.Decimal
	Quantity        *int
}

// ModifyApplication 用户修改申请，计入修改次数。返回实际发生变化的字段
func (c *Case) ModifyApplication(ch ApplicationChange, now time.Time) ([]string, error) {
	if !c.Can(ActionModifyApplication) {
		return nil, &IllegalTransitionError{State: c.State, Action: ActionModifyApplication}
	}
	if c.NeedsIntervention() {
		return nil, ErrModificationCapExceeded
	}
	var changed []string
	if ch.Reason != nil && *ch.Reason != c.Reason {
		c.Reason = *ch.Reason
		changed = append(changed, "reason")
	}
	if ch.Description != nil && *ch.Description != c.Description {
		c.Description = *ch.Description
		changed = append(changed, "description")
	}
	if ch.Quantity != nil && *ch.Quantity != c.Quantity {
		c.Quantity = *ch.Quantity
		changed = append(changed, "quantity")
	}
	if ch.RequestedAmount != nil && !ch.RequestedAmount.Equal(c.RequestedAmount) {
		c.SetRequestedAmount(*ch.RequestedAmount)
		changed = append(changed, "requestedAmount")
	}
	if len(changed) == 0 {
		return nil, nil
	}
	c.ModificationCount++
	c.UpdatedAt = now
	return changed, nil
}

// SetRequestedAmount 修改原始金额，实际金额随之重置
func (c *Case) SetRequestedAmount(amount decimal.Decimal) {
	c.RequestedAmount = amount
	c.ActualAmount = amount
	c.AmountModified = false
}

func (c *Case) Annotate(note string, now time.Time) {
	if c.AuditNote == "" {
		c.AuditNote = note
	} else {
		c.AuditNote = c.AuditNote + "\n" + note
	}
	c.UpdatedAt = now
}

// DeadlineElapsed 判断当前状态是否已超时
func (c *Case) DeadlineElapsed(now time.Time) bool {
	return c.DeadlineAt != nil && !c.DeadlineAt.After(now)
}

// Clone 返回深拷贝，内存仓储和测试使用
func (c *Case) Clone() *Case {
	cp := *c
	if c.DeadlineAt != nil {
		d := *c.DeadlineAt
		cp.DeadlineAt = &d
	}
	return &cp
}
