// internal/service/aftersale/domain/state.go
package domain

// State 定义了售后单的生命周期状态
type State string

const (
	StatePendingApproval State = "PENDING_APPROVAL" // 待审核
	StateApproved        State = "APPROVED"         // 审核通过
	StateRejected        State = "REJECTED"         // 审核驳回
	StatePendingReturn   State = "PENDING_RETURN"   // 待买家寄回
	StatePendingReceive  State = "PENDING_RECEIVE"  // 待商家收货
	StatePendingRefund   State = "PENDING_REFUND"   // 待退款
	StateCompleted       State = "COMPLETED"        // 已完成
	StateCancelled       State = "CANCELLED"        // 已取消 (用户主动或系统超时)
)

// IsTerminal 终态不再接受状态流转，只允许追加备注
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

func (s State) Valid() bool {
	switch s {
	case StatePendingApproval, StateApproved, StateRejected, StatePendingReturn,
		StatePendingReceive, StatePendingRefund, StateCompleted, StateCancelled:
		return true
	}
	return false
}

// Stage 是状态的粗粒度投影，只能向前推进
type Stage string

const (
	StageApply    Stage = "APPLY"
	StageAudit    Stage = "AUDIT"
	StageReturn   Stage = "RETURN"
	StageReceive  Stage = "RECEIVE"
	StageComplete Stage = "COMPLETE"
)

var stageOrder = map[Stage]int{
	StageApply:    0,
	StageAudit:    1,
	StageReturn:   2,
	StageReceive:  3,
	StageComplete: 4,
}

// Before 判断 s 是否排在 other 之前
func (s Stage) Before(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}

func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// CaseType 售后类型
type CaseType string

const (
	TypeRefundOnly   CaseType = "REFUND_ONLY"   // 仅退款
	TypeReturnRefund CaseType = "RETURN_REFUND" // 退货退款
	TypeExchange     CaseType = "EXCHANGE"      // 换货
)

// RequiresShipment 退货退款和换货需要买家寄回商品
func (t CaseType) RequiresShipment() bool {
	return t == TypeReturnRefund || t == TypeExchange
}

// RefundsMoney 换货不涉及退款
func (t CaseType) RefundsMoney() bool {
	return t == TypeRefundOnly || t == TypeReturnRefund
}

func (t CaseType) Valid() bool {
	switch t {
	case TypeRefundOnly, TypeReturnRefund, TypeExchange:
		return true
	}
	return false
}

// ReasonCode 售后原因
type ReasonCode string

const (
	ReasonQualityIssue     ReasonCode = "QUALITY_ISSUE"
	ReasonWrongItem        ReasonCode = "WRONG_ITEM"
	ReasonDamagedInTransit ReasonCode = "DAMAGED_IN_TRANSIT"
	ReasonNotAsDescribed   ReasonCode = "NOT_AS_DESCRIBED"
	ReasonMissingParts     ReasonCode = "MISSING_PARTS"
	ReasonNoLongerWanted   ReasonCode = "NO_LONGER_WANTED"
	ReasonBoughtByMistake  ReasonCode = "BOUGHT_BY_MISTAKE"
	ReasonOther            ReasonCode = "OTHER"
)

// ReasonCategory 用于自动审核规则
type ReasonCategory string

const (
	CategoryMerchantResponsibility ReasonCategory = "MERCHANT_RESPONSIBILITY"
	CategoryNoLongerWanted         ReasonCategory = "NO_LONGER_WANTED"
	CategoryOther                  ReasonCategory = "OTHER"
)

func (r ReasonCode) Category() ReasonCategory {
	switch r {
	case ReasonQualityIssue, ReasonWrongItem, ReasonDamagedInTransit, ReasonNotAsDescribed, ReasonMissingParts:
		return CategoryMerchantResponsibility
	case ReasonNoLongerWanted, ReasonBoughtByMistake:
		return CategoryNoLongerWanted
	default:
		return CategoryOther
	}
}

// Source 标识售后单的来源
type Source string

const (
	SourceLocal Source = "LOCAL" // 用户/客服在本系统提交
	SourceOMS   Source = "OMS"   // OMS 同步创建
)
