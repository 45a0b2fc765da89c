// internal/service/aftersale/application/auto_approval.go
package application

import (
	"context"
	"time"

	"aftersale/internal/pkg/logger"
	"aftersale/internal/service/aftersale/domain"

	"github.com/shopspring/decimal"
)

// ApprovalInput 是自动审核规则可见的变量
type ApprovalInput struct {
	Reason         domain.ReasonCode
	ReasonCategory domain.ReasonCategory
	CaseType       domain.CaseType
	Amount         decimal.Decimal
	Threshold      decimal.Decimal
}

// ApprovalRule 由基础设施层实现，例如 CEL 表达式
type ApprovalRule interface {
	Evaluate(ctx context.Context, in ApprovalInput) (bool, error)
}

type autoApprover struct {
	rule      ApprovalRule
	enabled   bool
	threshold decimal.Decimal
}

func newAutoApprover(rule ApprovalRule, p AutoApprovalPolicy) *autoApprover {
	return &autoApprover{
		rule:      rule,
		enabled:   p.Enabled && rule != nil,
		threshold: decimal.NewFromFloat(p.Threshold),
	}
}

// shouldApprove 只对待审核的单生效。规则执行出错时不自动通过，交给人工
func (a *autoApprover) shouldApprove(ctx context.Context, c *domain.Case) bool {
	if !a.enabled || c.State != domain.StatePendingApproval {
		return false
	}
	ok, err := a.rule.Evaluate(ctx, ApprovalInput{
		Reason:         c.Reason,
		ReasonCategory: c.Reason.Category(),
		CaseType:       c.Type,
		Amount:         c.ActualAmount,
		Threshold:      a.threshold,
	})
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("case_id", c.ID).Msg("⚠️ Auto approval rule failed, leaving case for manual review")
		return false
	}
	return ok
}

// autoApprove 规则命中时在同一单元内执行 APPROVE 并写审计
func (a *autoApprover) autoApprove(ctx context.Context, c *domain.Case, deadlines domain.DeadlinePolicy, now time.Time) (*domain.AuditEntry, []domain.CaseEvent, error) {
	if !a.shouldApprove(ctx, c) {
		return nil, nil, nil
	}
	tr, err := c.Apply(domain.ActionApprove, deadlines, now)
	if err != nil {
		return nil, nil, err
	}
	entry := domain.NewAuditEntry(c, domain.SystemActor, domain.AuditAutoApproved, now).
		WithTransition(tr).
		With("reasonCategory", string(c.Reason.Category())).
		With("amount", c.ActualAmount.String()).
		With("threshold", a.threshold.String())
	return entry, domain.TransitionEvents(c, tr, now), nil
}
