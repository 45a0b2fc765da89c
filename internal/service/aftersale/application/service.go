// internal/service/aftersale/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aftersale/internal/pkg/logger"
	"aftersale/internal/pkg/metrics"
	"aftersale/internal/service/aftersale/domain"
	"aftersale/internal/service/aftersale/domain/port"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ReferenceGenerator 生成本地申请的售后单号
type ReferenceGenerator interface {
	Next() string
}

// Dependencies 是售后应用服务的全部出站依赖，Catalog/Users/Refunds 可以为 nil
type Dependencies struct {
	Store      domain.Store
	Catalog    port.CatalogSnapshotProvider
	Users      port.UserDirectory
	Validator  port.Validator
	Publisher  port.EventPublisher
	Refunds    port.RefundGateway
	Approval   ApprovalRule
	References ReferenceGenerator
	Tracer     trace.Tracer
	Clock      func() time.Time
}

func (d *Dependencies) defaults() {
	if d.Tracer == nil {
		d.Tracer = noop.NewTracerProvider().Tracer("aftersale")
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
}

// CaseService 编排用户和客服对售后单的操作。
// 每个写操作都是一个原子单元，事务外不做任何修改。
type CaseService struct {
	store     domain.Store
	units     *unitRunner
	policy    Policy
	approver  *autoApprover
	catalog   port.CatalogSnapshotProvider
	validator port.Validator
	refunds   port.RefundGateway
	refNos    ReferenceGenerator
	tracer    trace.Tracer
	now       func() time.Time
}

func NewCaseService(deps Dependencies, policy Policy) *CaseService {
	deps.defaults()
	return &CaseService{
		store:     deps.Store,
		units:     newUnitRunner(deps.Store, deps.Publisher, policy.Unit),
		policy:    policy,
		approver:  newAutoApprover(deps.Approval, policy.AutoApproval),
		catalog:   deps.Catalog,
		validator: deps.Validator,
		refunds:   deps.Refunds,
		refNos:    deps.References,
		tracer:    deps.Tracer,
		now:       deps.Clock,
	}
}

// validateCase 合并字段级校验和跨字段不变量，返回聚合后的 ValidationError
func validateCase(ctx context.Context, v port.Validator, c *domain.Case) error {
	var vs []domain.Violation
	if v != nil {
		vs = append(vs, v.Validate(ctx, c)...)
	}
	vs = append(vs, c.Check()...)
	return domain.NewValidationError(vs)
}

func (s *CaseService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "app.aftersale."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Create 提交一个新的售后申请。商品快照在事务外获取，命中自动审核规则时直接通过
func (s *CaseService) Create(ctx context.Context, req *CreateCaseRequest, actor domain.Actor) (c *domain.Case, err error) {
	ctx, span := s.startSpan(ctx, "Create", attribute.String("order_no", req.OrderNo))
	defer func() { endSpan(span, err) }()

	draft := domain.CaseDraft{
		OrderNo:         req.OrderNo,
		OrderLineNo:     req.OrderLineNo,
		UserID:          req.UserID,
		ContactName:     req.ContactName,
		ContactPhone:    req.ContactPhone,
		Type:            req.Type,
		Reason:          req.Reason,
		Description:     req.Description,
		Quantity:        req.Quantity,
		RequestedAmount: req.RequestedAmount,
		Source:          domain.SourceLocal,
	}
	if s.refNos != nil {
		draft.ReferenceNo = s.refNos.Next()
	}
	if s.catalog != nil {
		snap, err := s.catalog.Snapshot(ctx, req.OrderNo, req.OrderLineNo)
		if err != nil {
			return nil, fmt.Errorf("load product snapshot for order %s: %w", req.OrderNo, err)
		}
		draft.Snapshot = snap
	}

	err = s.units.run(ctx, "create", func(ctx context.Context, tx domain.Tx, fx *effects) error {
		now := s.now()
		c = domain.NewCase(draft, s.policy.Deadlines, now)
		if err := validateCase(ctx, s.validator, c); err != nil {
			return err
		}
		created := domain.NewAuditEntry(c, actor, domain.AuditCaseCreated, now).
			With("type", string(c.Type)).
			With("requestedAmount", c.RequestedAmount.String())
		fx.publish(domain.CreatedEvent(c, now))

		approved, events, err := s.approver.autoApprove(ctx, c, s.policy.Deadlines, now)
		if err != nil {
			return err
		}
		if err := tx.Cases().Create(ctx, c); err != nil {
			return err
		}
		if err := tx.Audit().Append(ctx, created); err != nil {
			return err
		}
		if approved != nil {
			if err := tx.Audit().Append(ctx, approved); err != nil {
				return err
			}
			fx.publish(events...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("case_id", c.ID).Str("reference_no", c.ReferenceNo).Str("state", string(c.State)).Msg("✅ Aftersale case created")
	return c, nil
}

func (s *CaseService) Get(ctx context.Context, id string) (*domain.Case, error) {
	return s.store.Cases().Get(ctx, id)
}

func (s *CaseService) GetByReference(ctx context.Context, referenceNo string) (*domain.Case, error) {
	return s.store.Cases().GetByReference(ctx, referenceNo)
}

// AllowedActions 返回售后单当前可执行的动作
func (s *CaseService) AllowedActions(ctx context.Context, id string) ([]domain.Action, error) {
	c, err := s.store.Cases().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.AllowedActions(), nil
}

// History 按时间顺序返回审计日志
func (s *CaseService) History(ctx context.Context, id string) ([]*domain.AuditEntry, error) {
	if _, err := s.store.Cases().Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Audit().ListByCase(ctx, id)
}

// Perform 执行不需要额外载荷的流转动作
func (s *CaseService) Perform(ctx context.Context, id string, action domain.Action, note string, actor domain.Actor) (c *domain.Case, err error) {
	ctx, span := s.startSpan(ctx, "Perform", attribute.String("case_id", id), attribute.String("action", string(action)))
	defer func() { endSpan(span, err) }()

	switch action {
	case domain.ActionSubmitReturn, domain.ActionRefund:
		return nil, fmt.Errorf("%s: %w", action, domain.ErrActionNeedsPayload)
	}

	var tr domain.Transition
	err = s.units.run(ctx, "perform", func(ctx context.Context, tx domain.Tx, fx *effects) error {
		now := s.now()
		var err error
		if c, err = tx.Cases().Get(ctx, id); err != nil {
			return err
		}
		if tr, err = c.Apply(action, s.policy.Deadlines, now); err != nil {
			return err
		}
		if action == domain.ActionConfirmReceipt {
			if err := markReceived(ctx, tx, c, now); err != nil {
				return err
			}
		}
		var approved *domain.AuditEntry
		var approvedEvents []domain.CaseEvent
		if action == domain.ActionResubmit {
			if approved, approvedEvents, err = s.approver.autoApprove(ctx, c, s.policy.Deadlines, now); err != nil {
				return err
			}
		}
		if err := validateCase(ctx, s.validator, c); err != nil {
			return err
		}
		if err := tx.Cases().Update(ctx, c); err != nil {
			return err
		}
		entry := domain.NewAuditEntry(c, actor, domain.AuditStateTransition, now).WithTransition(tr)
		if note != "" {
			entry.With("note", note)
		}
		if err := tx.Audit().Append(ctx, entry); err != nil {
			return err
		}
		fx.publish(domain.TransitionEvents(c, tr, now)...)
		if approved != nil {
			if err := tx.Audit().Append(ctx, approved); err != nil {
				return err
			}
			fx.publish(approvedEvents...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.TransitionsTotal.WithLabelValues(string(action), string(tr.From), string(tr.To)).Inc()
	logger.Ctx(ctx).Info().Str("case_id", id).Str("action", string(action)).
		Str("from", string(tr.From)).Str("to", string(c.State)).Msg("✅ Case transitioned")
	return c, nil
}

// markReceived 确认收货时同步推进寄回物流子流程
func markReceived(ctx context.Context, tx domain.Tx, c *domain.Case, now time.Time) error {
	switch c.Type {
	case domain.TypeReturnRefund:
		rs, err := tx.Satellites().GetReturnShipment(ctx, c.ID)
		if errors.Is(err, domain.ErrSatelliteNotFound) {
			if rs, err = domain.NewReturnShipment(c, now); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		rs.MarkReceived(now)
		return tx.Satellites().SaveReturnShipment(ctx, rs)
	case domain.TypeExchange:
		es, err := tx.Satellites().GetExchangeShipment(ctx, c.ID)
		if errors.Is(err, domain.ErrSatelliteNotFound) {
			if es, err = domain.NewExchangeShipment(c, now); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		es.MarkReturnReceived(now)
		return tx.Satellites().SaveExchangeShipment(ctx, es)
	}
	return nil
}

// ModifyAmount 客服调整实际退款金额，不能超过原始申请金额
func (s *CaseService) ModifyAmount(ctx context.Context, id string, req *ModifyAmountRequest, actor domain.Actor) (c *domain.Case, err error) {
	ctx, span := s.startSpan(ctx, "ModifyAmount", attribute.String("case_id", id))
	defer func() { endSpan(span, err) }()

	err = s.units.run(ctx, "modify_amount", func(ctx context.Context, tx domain.Tx, fx *effects) error {
		now := s.now()
		var err error
		if c, err = tx.Cases().Get(ctx, id); err != nil {
			return err
		}
		old, err := c.ModifyAmount(req.ActualAmount, now)
		if err != nil {
			return err
		}
		if err := validateCase(ctx, s.validator, c); err != nil {
			return err
		}
		if err := tx.Cases().Update(ctx, c); err != nil {
			return err
		}
		return tx.Audit().Append(ctx, domain.NewAuditEntry(c, actor, domain.AuditAmountModified, now).
			With("oldAmount", old.String()).
			With("newAmount", c.ActualAmount.String()).
			With("reason", req.Reason))
	})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("case_id", id).Str("actual_amount", c.ActualAmount.String()).Msg("✅ Refund amount modified")
	return c, nil
}

// ModifyApplication 用户自助修改申请，计入修改次数并重新执行自动审核
func (s *CaseService) ModifyApplication(ctx context.Context, id string, req *ModifyApplicationRequest, actor domain.Actor) (c *domain.Case, err error) {
	ctx, span := s.startSpan(ctx, "ModifyApplication", attribute.String("case_id", id))
	defer func() { endSpan(span, err) }()

	change := domain.ApplicationChange{
		Reason:          req.Reason,
		Description:     req.Description,
		RequestedAmount: req.RequestedAmount,
		Quantity:        req.Quantity,
	}
	err = s.units.run(ctx, "modify_application", func(ctx context.Context, tx domain.Tx, fx *effects) error {
		now := s.now()
		var err error
		if c, err = tx.Cases().Get(ctx, id); err != nil {
			return err
		}
		changed, err := c.ModifyApplication(change, now)
		if err != nil || len(changed) == 0 {
			return err
		}
		if err := validateCase(ctx, s.validator, c); err != nil {
			return err
		}
		approved, events, err := s.approver.autoApprove(ctx, c, s.policy.Deadlines, now)
		if err != nil {
			return err
		}
		if err := tx.Cases().Update(ctx, c); err != nil {
			return err
		}
		entry := domain.NewAuditEntry(c, actor, domain.AuditApplicationModified, now).
			With("fields", changed).
			With("modificationCount", c.ModificationCount)
		if err := tx.Audit().Append(ctx, entry); err != nil {
			return err
		}
		if approved != nil {
			if err := tx.Audit().Append(ctx, approved); err != nil {
				return err
			}
			fx.publish(events...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Annotate 追加备注，任何状态都允许，不改变状态
func (s *CaseService) Annotate(ctx context.Context, id string, req *AnnotateRequest, actor domain.Actor) (c *domain.Case, err error) {
	ctx, span := s.startSpan(ctx, "Annotate", attribute.String("case_id", id))
	defer func() { endSpan(span, err) }()

	if req.Note == "" {
		return nil, domain.NewValidationError([]domain.Violation{{Field: "note", Rule: "required", Message: "note must not be empty"}})
	}
	err = s.units.run(ctx, "annotate", func(ctx context.Context, tx domain.Tx, fx *effects) error {
		now := s.now()
		var err error
		if c, err = tx.Cases().Get(ctx, id); err != nil {
			return err
		}
		if !c.Can(domain.ActionAnnotate) {
			return &domain.IllegalTransitionError{State: c.State, Action: domain.ActionAnnotate}
		}
		if req.Service {
			if c.ServiceNote != "" {
				c.ServiceNote += "\n"
			}
			c.ServiceNote += req.Note
			c.UpdatedAt = now
		} else {
			c.Annotate(req.Note, now)
		}
		if err := validateCase(ctx, s.validator, c); err != nil {
			return err
		}
		if err := tx.Cases().Update(ctx, c); err != nil {
			return err
		}
		return tx.Audit().Append(ctx, domain.NewAuditEntry(c, actor, domain.AuditAnnotated, now).
			With("note", req.Note).
			With("service", req.Service))
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SubmitReturnShipment 买家提交寄回物流，售后单进入待收货
func (s *CaseService) SubmitReturnShipment(ctx context.Context, id string, req *ShipmentRequest, actor domain.Actor) (c *domain.Case, err error) {
	ctx, span := s.startSpan(ctx, "SubmitReturnShipment", attribute.String("case_id", id))
	defer func() { endSpan(span, err) }()

	if vs := shipmentViolations(req); len(vs) > 0 {
		return nil, domain.NewValidationError(vs)
	}
	var tr domain.Transition
	err = s.units.run(ctx, "submit_return", func(ctx context.Context, tx domain.Tx, fx *effects) error {
		now := s.now()
		var err error
		if c, err = tx.Cases().Get(ctx, id); err != nil {
			return err
		}
		if tr, err = c.Apply(domain.ActionSubmitReturn, s.policy.Deadlines, now); err != nil {
			return err
		}
		switch c.Type {
		case domain.TypeReturnRefund:
			rs, err := tx.Satellites().GetReturnShipment(ctx, c.ID)
			if errors.Is(err, domain.ErrSatelliteNotFound) {
				rs, err = domain.NewReturnShipment(c, now)
			}
			if err != nil {
				return err
			}
			if err := rs.MarkShipped(req.Carrier, req.TrackingNo, now); err != nil {
				return err
			}
			if err := tx.Satellites().SaveReturnShipment(ctx, rs); err != nil {
				return err
			}
		case domain.TypeExchange:
			es, err := tx.Satellites().GetExchangeShipment(ctx, c.ID)
			if errors.Is(err, domain.ErrSatelliteNotFound) {
				es, err = domain.NewExchangeShipment(c, now)
			}
			if err != nil {
				return err
			}
			if err := es.MarkReturnShipped(req.Carrier, req.TrackingNo, now); err != nil {
				return err
			}
			if err := tx.Satellites().SaveExchangeShipment(ctx, es); err != nil {
				return err
			}
		}
		if err := tx.Cases().Update(ctx, c); err != nil {
			return err
		}
		entry := domain.NewAuditEntry(c, actor, domain.AuditStateTransition, now).
			WithTransition(tr).
			With("carrier", req.Carrier).
			With("trackingNo", req.TrackingNo)
		if err := tx.Audit().Append(ctx, entry); err != nil {
			return err
		}
		fx.publish(domain.TransitionEvents(c, tr, now)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.TransitionsTotal.WithLabelValues(string(tr.Action), string(tr.From), string(tr.To)).Inc()
	return c, nil
}

// ShipReplacement 换货完成后商家补发新商品，只更新换货物流子流程
func (s *CaseService) ShipReplacement(ctx context.Context, id string, req *ShipmentRequest, actor domain.Actor) (es *domain.ExchangeShipment, err error) {
	ctx, span := s.startSpan(ctx, "ShipReplacement", attribute.String("case_id", id))
	defer func() { endSpan(span, err) }()

	if vs := shipmentViolations(req); len(vs) > 0 {
		return nil, domain.NewValidationError(vs)
	}
	err = s.units.run(ctx, "ship_replacement", func(ctx context.Context, tx domain.Tx, fx *effects) error {
		now := s.now()
		c, err := tx.Cases().Get(ctx, id)
		if err != nil {
			return err
		}
		if c.Type != domain.TypeExchange {
			return fmt.Errorf("%w: replacement shipment on %s", domain.ErrSatelliteMismatch, c.Type)
		}
		if es, err = tx.Satellites().GetExchangeShipment(ctx, c.ID); err != nil {
			return err
		}
		if err := es.MarkReshipped(req.Carrier, req.TrackingNo, now); err != nil {
			return &domain.ValidationError{Violations: []domain.Violation{{Field: "status", Rule: "exchange_status", Message: err.Error()}}}
		}
		if err := tx.Satellites().SaveExchangeShipment(ctx, es); err != nil {
			return err
		}
		// 更新版本号，让并发的单据操作串行化
		c.UpdatedAt = now
		if err := tx.Cases().Update(ctx, c); err != nil {
			return err
		}
		return tx.Audit().Append(ctx, domain.NewAuditEntry(c, actor, domain.AuditShipmentUpdated, now).
			With("shipment", "exchange").
			With("status", string(es.Status)).
			With("carrier", req.Carrier).
			With("trackingNo", req.TrackingNo))
	})
	if err != nil {
		return nil, err
	}
	return es, nil
}

func shipmentViolations(req *ShipmentRequest) []domain.Violation {
	var vs []domain.Violation
	if req.Carrier == "" {
		vs = append(vs, domain.Violation{Field: "carrier", Rule: "required", Message: "carrier is required"})
	}
	if req.TrackingNo == "" {
		vs = append(vs, domain.Violation{Field: "tracking_no", Rule: "required", Message: "tracking number is required"})
	}
	return vs
}

// ExecuteRefund 分三步: 认领(PROCESSING) -> 事务外调用支付网关 -> 记录结果。
// 网关失败会被记录并返回 FAILED 状态，不视为错误。
func (s *CaseService) ExecuteRefund(ctx context.Context, id string, actor domain.Actor) (exec *domain.RefundExecution, err error) {
	ctx, span := s.startSpan(ctx, "ExecuteRefund", attribute.String("case_id", id))
	defer func() { endSpan(span, err) }()

	if s.refunds == nil {
		return nil, errors.New("refund gateway is not configured")
	}

	var req port.RefundRequest
	err = s.units.run(ctx, "refund_claim", func(ctx context.Context, tx domain.Tx, fx *effects) error {
		now := s.now()
		c, err := tx.Cases().Get(ctx, id)
		if err != nil {
			return err
		}
		if !c.Can(domain.ActionRefund) {
			return &domain.IllegalTransitionError{State: c.State, Action: domain.ActionRefund}
		}
		exec, err = tx.Satellites().GetRefund(ctx, c.ID)
		if errors.Is(err, domain.ErrSatelliteNotFound) {
			exec, err = domain.NewRefundExecution(c, now)
		}
		if err != nil {
			return err
		}
		if err := exec.MarkProcessing(c.ActualAmount, now); err != nil {
			return err
		}
		if err := tx.Satellites().SaveRefund(ctx, exec); err != nil {
			return err
		}
		c.UpdatedAt = now
		if err := tx.Cases().Update(ctx, c); err != nil {
			return err
		}
		req = port.RefundRequest{
			CaseID:         c.ID,
			ReferenceNo:    c.ReferenceNo,
			OrderNo:        c.OrderNo,
			Amount:         exec.Amount,
			IdempotencyKey: fmt.Sprintf("%s-%d", exec.ID, exec.RetryCount),
		}
		return tx.Audit().Append(ctx, domain.NewAuditEntry(c, actor, domain.AuditRefundAttempted, now).
			With("status", string(exec.Status)).
			With("attempt", exec.RetryCount+1).
			With("amount", exec.Amount.String()))
	})
	if err != nil {
		return nil, err
	}

	result, gwErr := s.refunds.Refund(ctx, req)
	if gwErr != nil {
		result = port.RefundResult{Success: false, Message: gwErr.Error()}
		logger.Ctx(ctx).Error().Err(gwErr).Str("case_id", id).Msg("❌ Refund gateway call failed")
	}
	outcome := "failed"
	if result.Success {
		outcome = "success"
	}
	metrics.RefundAttemptsTotal.WithLabelValues(outcome).Inc()

	err = s.units.run(ctx, "refund_result", func(ctx context.Context, tx domain.Tx, fx *effects) error {
		now := s.now()
		c, err := tx.Cases().Get(ctx, id)
		if err != nil {
			return err
		}
		if exec, err = tx.Satellites().GetRefund(ctx, c.ID); err != nil {
			return err
		}
		if !result.Success {
			if err := exec.MarkFailed(result.Message, now); err != nil {
				return err
			}
			if err := tx.Satellites().SaveRefund(ctx, exec); err != nil {
				return err
			}
			c.UpdatedAt = now
			if err := tx.Cases().Update(ctx, c); err != nil {
				return err
			}
			return tx.Audit().Append(ctx, domain.NewAuditEntry(c, actor, domain.AuditRefundAttempted, now).
				With("status", string(exec.Status)).
				With("retryCount", exec.RetryCount).
				With("canRetry", exec.CanRetry()).
				With("error", result.Message))
		}

		if err := exec.MarkSuccess(result.TxnID, now); err != nil {
			return err
		}
		if err := tx.Satellites().SaveRefund(ctx, exec); err != nil {
			return err
		}
		// OMS 可能已经把单据推进到终态，这时只记录退款结果
		tr := domain.Transition{Action: domain.ActionRefund, From: c.State, To: c.State, FromStage: c.Stage, ToStage: c.Stage}
		if c.Can(domain.ActionRefund) {
			if tr, err = c.Apply(domain.ActionRefund, s.policy.Deadlines, now); err != nil {
				return err
			}
		} else {
			c.UpdatedAt = now
		}
		if err := tx.Cases().Update(ctx, c); err != nil {
			return err
		}
		entry := domain.NewAuditEntry(c, actor, domain.AuditStateTransition, now).
			WithTransition(tr).
			With("gatewayTxnId", result.TxnID).
			With("amount", exec.Amount.String())
		if err := tx.Audit().Append(ctx, entry); err != nil {
			return err
		}
		fx.publish(domain.TransitionEvents(c, tr, now)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("case_id", id).Str("status", string(exec.Status)).Int("retry_count", exec.RetryCount).Msg("💸 Refund attempt recorded")
	return exec, nil
}

// PurgeAudit 删除早于保留期的审计日志
func (s *CaseService) PurgeAudit(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-retention)
	n, err := s.store.Audit().PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit entries before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	logger.Ctx(ctx).Info().Int64("purged", n).Time("cutoff", cutoff).Msg("🧹 Audit entries purged")
	return n, nil
}
