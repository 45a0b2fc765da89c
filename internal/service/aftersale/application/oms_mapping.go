// internal/service/aftersale/application/oms_mapping.go
package application

import (
	"fmt"
	"strings"

	"aftersale/internal/service/aftersale/domain"
)

// StatusMapping 是外部状态码对应的内部状态和阶段
type StatusMapping struct {
	State domain.State `yaml:"state"`
	Stage domain.Stage `yaml:"stage"`
}

// UnmappedStatus 未知状态码一律回到初始状态
var UnmappedStatus = StatusMapping{State: domain.StatePendingApproval, Stage: domain.StageApply}

// OMSDictionary 是 OMS 编码到内部枚举的字典，键不区分大小写
type OMSDictionary struct {
	Statuses map[string]StatusMapping     `yaml:"statuses"`
	Types    map[string]domain.CaseType   `yaml:"types"`
	Reasons  map[string]domain.ReasonCode `yaml:"reasons"`
}

func DefaultOMSDictionary() OMSDictionary {
	return OMSDictionary{
		Statuses: map[string]StatusMapping{
			"pending":         {domain.StatePendingApproval, domain.StageApply},
			"applied":         {domain.StatePendingApproval, domain.StageApply},
			"approved":        {domain.StateApproved, domain.StageAudit},
			"rejected":        {domain.StateRejected, domain.StageAudit},
			"waiting_return":  {domain.StatePendingReturn, domain.StageReturn},
			"returning":       {domain.StatePendingReceive, domain.StageReceive},
			"waiting_receive": {domain.StatePendingReceive, domain.StageReceive},
			"refunding":       {domain.StatePendingRefund, domain.StageReceive},
			"waiting_refund":  {domain.StatePendingRefund, domain.StageReceive},
			"completed":       {domain.StateCompleted, domain.StageComplete},
			"cancelled":       {domain.StateCancelled, domain.StageComplete},
		},
		Types: map[string]domain.CaseType{
			"refund_only":   domain.TypeRefundOnly,
			"only_refund":   domain.TypeRefundOnly,
			"return_refund": domain.TypeReturnRefund,
			"exchange":      domain.TypeExchange,
		},
		Reasons: map[string]domain.ReasonCode{
			"quality":          domain.ReasonQualityIssue,
			"quality_issue":    domain.ReasonQualityIssue,
			"wrong_item":       domain.ReasonWrongItem,
			"damaged":          domain.ReasonDamagedInTransit,
			"not_as_described": domain.ReasonNotAsDescribed,
			"missing_parts":    domain.ReasonMissingParts,
			"no_longer_wanted": domain.ReasonNoLongerWanted,
			"no_reason":        domain.ReasonNoLongerWanted,
			"mistake":          domain.ReasonBoughtByMistake,
			"other":            domain.ReasonOther,
		},
	}
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// MapStatus 未映射的状态码返回 UnmappedStatus 和 false，调用方不应因此失败
func (d OMSDictionary) MapStatus(code string) (StatusMapping, bool) {
	if m, ok := d.Statuses[normalizeCode(code)]; ok {
		return m, true
	}
	return UnmappedStatus, false
}

// MapType 也接受内部枚举名本身
func (d OMSDictionary) MapType(code string) (domain.CaseType, bool) {
	if t, ok := d.Types[normalizeCode(code)]; ok {
		return t, true
	}
	if t := domain.CaseType(strings.ToUpper(strings.TrimSpace(code))); t.Valid() {
		return t, true
	}
	return "", false
}

// MapReason 未知原因归为 OTHER
func (d OMSDictionary) MapReason(code string) domain.ReasonCode {
	if r, ok := d.Reasons[normalizeCode(code)]; ok {
		return r
	}
	if code == "" {
		return domain.ReasonOther
	}
	r := domain.ReasonCode(strings.ToUpper(strings.TrimSpace(code)))
	switch r {
	case domain.ReasonQualityIssue, domain.ReasonWrongItem, domain.ReasonDamagedInTransit, domain.ReasonNotAsDescribed,
		domain.ReasonMissingParts, domain.ReasonNoLongerWanted, domain.ReasonBoughtByMistake:
		return r
	}
	return domain.ReasonOther
}

func (d OMSDictionary) Validate() error {
	for code, m := range d.Statuses {
		if !m.State.Valid() || !m.Stage.Valid() {
			return fmt.Errorf("oms status %q maps to invalid state/stage %s/%s", code, m.State, m.Stage)
		}
	}
	for code, t := range d.Types {
		if !t.Valid() {
			return fmt.Errorf("oms type %q maps to invalid case type %s", code, t)
		}
	}
	return nil
}
