// internal/service/aftersale/application/reconcile.go
package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"aftersale/internal/pkg/logger"
	"aftersale/internal/pkg/metrics"
	"aftersale/internal/service/aftersale/domain"
	"aftersale/internal/service/aftersale/domain/port"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Reconciler 以 OMS 单号为键同步外部推送的 创建/状态/信息 变更。
// 每个操作是一个原子单元，失败时返回携带单号的 ReconciliationError。
type Reconciler struct {
	units     *unitRunner
	users     port.UserDirectory
	validator port.Validator
	dict      OMSDictionary
	deadlines domain.DeadlinePolicy
	tracer    trace.Tracer
	now       func() time.Time
}

func NewReconciler(deps Dependencies, policy Policy) *Reconciler {
	deps.defaults()
	return &Reconciler{
		units:     newUnitRunner(deps.Store, deps.Publisher, policy.Unit),
		users:     deps.Users,
		validator: deps.Validator,
		dict:      policy.OMS,
		deadlines: policy.Deadlines,
		tracer:    deps.Tracer,
		now:       deps.Clock,
	}
}

// Handle 按操作类型分发，返回同步后的售后单
func (r *Reconciler) Handle(ctx context.Context, ev *domain.OMSEvent) (c *domain.Case, err error) {
	ctx, span := r.tracer.Start(ctx, "app.aftersale.Reconcile",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("oms.reference_no", ev.ReferenceNo), attribute.String("oms.op", string(ev.Op))))
	defer func() { endSpan(span, err) }()

	if ev.ReferenceNo == "" {
		err = domain.NewValidationError([]domain.Violation{{Field: "referenceNo", Rule: "required", Message: "reference number is required"}})
	} else {
		switch ev.Op {
		case domain.OMSCreate:
			c, err = r.create(ctx, ev)
		case domain.OMSUpdateStatus:
			c, err = r.updateStatus(ctx, ev)
		case domain.OMSUpdateInfo:
			c, err = r.updateInfo(ctx, ev)
		default:
			err = domain.NewValidationError([]domain.Violation{{Field: "op", Rule: "oneof", Message: fmt.Sprintf("unknown operation %q", ev.Op)}})
		}
	}

	if err != nil {
		metrics.OMSEventsTotal.WithLabelValues(string(ev.Op), "error").Inc()
		logger.Ctx(ctx).Error().Err(err).Str("reference_no", ev.ReferenceNo).Str("op", string(ev.Op)).Msg("❌ OMS reconciliation failed")
		return nil, &domain.ReconciliationError{ReferenceNo: ev.ReferenceNo, Op: ev.Op, Err: err}
	}
	metrics.OMSEventsTotal.WithLabelValues(string(ev.Op), "ok").Inc()
	return c, nil
}

func (r *Reconciler) create(ctx context.Context, ev *domain.OMSEvent) (c *domain.Case, err error) {
	caseType, ok := r.dict.MapType(ev.Type)
	if !ok {
		return nil, domain.NewValidationError([]domain.Violation{{Field: "type", Rule: "dictionary", Message: fmt.Sprintf("unknown case type %q", ev.Type)}})
	}
	status, mapped := r.dict.MapStatus(ev.Status)
	if !mapped {
		logger.Ctx(ctx).Warn().Str("reference_no", ev.ReferenceNo).Str("status", ev.Status).Msg("⚠️ Unmapped OMS status, using initial state")
	}

	err = r.units.run(ctx, "oms_create", func(ctx context.Context, tx domain.Tx, fx *effects) error {
		now := r.now()
		_, err := tx.Cases().GetByReference(ctx, ev.ReferenceNo)
		if err == nil {
			return domain.ErrReferenceExists
		}
		if !errors.Is(err, domain.ErrCaseNotFound) {
			return err
		}

		draft := domain.CaseDraft{
			ReferenceNo:     ev.ReferenceNo,
			OrderNo:         ev.OrderNo,
			OrderLineNo:     ev.OrderLineNo,
			ContactName:     ev.ContactName,
			ContactPhone:    ev.ContactPhone,
			Type:            caseType,
			Reason:          r.dict.MapReason(ev.Reason),
			Description:     ev.Description,
			Quantity:        ev.Quantity,
			RequestedAmount: ev.RequestedAmount,
			Source:          domain.SourceOMS,
		}
		if ev.Snapshot != nil {
			draft.Snapshot = *ev.Snapshot
		}
		c = domain.NewCase(draft, r.deadlines, now)
		if ev.Has(domain.OMSFieldActualAmount) {
			c.ActualAmount = ev.ActualAmount
		}
		c.AuditNote = ev.AuditNote
		c.ServiceNote = ev.ServiceNote
		c.ForceState(status.State, status.Stage, r.deadlines, now)

		if err := validateCase(ctx, r.validator, c); err != nil {
			return err
		}
		if err := tx.Cases().Create(ctx, c); err != nil {
			return err
		}
		shipment, err := r.mergeShipment(ctx, tx, c, ev, now)
		if err != nil {
			return err
		}
		entry := domain.NewAuditEntry(c, domain.OMSActor, domain.AuditOMSCreated, now).
			With("externalStatus", ev.Status).
			With("state", string(c.State)).
			With("stage", string(c.Stage)).
			With("statusMapped", mapped)
		if ev.EventID != "" {
			entry.With("eventId", ev.EventID)
		}
		if shipment != nil {
			entry.With("shipment", shipment)
		}
		if err := tx.Audit().Append(ctx, entry); err != nil {
			return err
		}
		fx.publish(domain.CreatedEvent(c, now))
		r.scheduleUserAssociation(fx, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("case_id", c.ID).Str("reference_no", c.ReferenceNo).Str("state", string(c.State)).Msg("✅ OMS case created")
	return c, nil
}

func (r *Reconciler) updateStatus(ctx context.Context, ev *domain.OMSEvent) (c *domain.Case, err error) {
	status, mapped := r.dict.MapStatus(ev.Status)
	if !mapped {
		logger.Ctx(ctx).Warn().Str("reference_no", ev.ReferenceNo).Str("status", ev.Status).Msg("⚠️ Unmapped OMS status, using initial state")
	}

	err = r.units.run(ctx, "oms_update_status", func(ctx context.Context, tx domain.Tx, fx *effects) error {
		now := r.now()
		var err error
		if c, err = tx.Cases().GetByReference(ctx, ev.ReferenceNo); err != nil {
			return err
		}
		moved := c.State != status.State || c.Stage != status.Stage
		if moved && c.State.IsTerminal() && c.State != status.State {
			return fmt.Errorf("%w: %s cannot move to %s", domain.ErrTerminalCase, c.State, status.State)
		}
		var tr domain.Transition
		if moved {
			tr = c.ForceState(status.State, status.Stage, r.deadlines, now)
			if tr.From != tr.To && !ev.OccurredAt.IsZero() && ev.OccurredAt.Before(now) {
				// 时限从 OMS 发生状态变化的时刻起算
				c.DeadlineAt = r.deadlines.DeadlineFor(c.State, c.Type, ev.OccurredAt)
			}
		}
		shipment, err := r.mergeShipment(ctx, tx, c, ev, now)
		if err != nil {
			return err
		}
		// 重放同一状态和同样的物流信息不产生任何写入
		if !moved && shipment == nil {
			return nil
		}
		c.UpdatedAt = now
		if err := validateCase(ctx, r.validator, c); err != nil {
			return err
		}
		if err := tx.Cases().Update(ctx, c); err != nil {
			return err
		}
		entry := domain.NewAuditEntry(c, domain.OMSActor, domain.AuditOMSStatusChanged, now).
			With("externalStatus", ev.Status)
		if moved {
			entry.WithTransition(tr).
				With("oldStatus", string(tr.From)).
				With("newStatus", string(tr.To))
		}
		if shipment != nil {
			entry.With("shipment", shipment)
		}
		if err := tx.Audit().Append(ctx, entry); err != nil {
			return err
		}
		if moved {
			fx.publish(domain.TransitionEvents(c, tr, now)...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// mergeShipment 把推送中携带的物流和地址合并到子流程记录，没有变化时返回 nil。
// 返回值是写入审计上下文的变更摘要。
func (r *Reconciler) mergeShipment(ctx context.Context, tx domain.Tx, c *domain.Case, ev *domain.OMSEvent, now time.Time) (map[string]any, error) {
	if !ev.HasShipment() {
		return nil, nil
	}
	switch c.Type {
	case domain.TypeReturnRefund:
		return mergeReturnShipment(ctx, tx, c, ev, now)
	case domain.TypeExchange:
		return mergeExchangeShipment(ctx, tx, c, ev, now)
	}
	return nil, domain.NewValidationError([]domain.Violation{{Field: "shipment", Rule: "case_type", Message: fmt.Sprintf("%s case has no shipment records", c.Type)}})
}

func shipmentViolation(field, msg string) error {
	return domain.NewValidationError([]domain.Violation{{Field: field, Rule: "shipment", Message: msg}})
}

func mergeReturnShipment(ctx context.Context, tx domain.Tx, c *domain.Case, ev *domain.OMSEvent, now time.Time) (map[string]any, error) {
	for _, f := range []string{domain.OMSFieldReshipCarrier, domain.OMSFieldReshipTrackingNo, domain.OMSFieldShippingAddress} {
		if ev.Has(f) {
			return nil, shipmentViolation(f, "return refund cases have no replacement shipment")
		}
	}
	rs, err := tx.Satellites().GetReturnShipment(ctx, c.ID)
	if errors.Is(err, domain.ErrSatelliteNotFound) {
		if rs, err = domain.NewReturnShipment(c, now); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	var changed []string
	carrier, trackingNo := pick(ev, domain.OMSFieldCarrier, ev.Carrier, rs.Carrier), pick(ev, domain.OMSFieldTrackingNo, ev.TrackingNo, rs.TrackingNo)
	if carrier != rs.Carrier || trackingNo != rs.TrackingNo {
		if err := rs.MarkShipped(carrier, trackingNo, now); err != nil {
			return nil, shipmentViolation(domain.OMSFieldTrackingNo, err.Error())
		}
		changed = append(changed, domain.OMSFieldCarrier, domain.OMSFieldTrackingNo)
	}
	if ev.Has(domain.OMSFieldReturnAddress) && ev.ReturnAddress != rs.ReturnAddress {
		rs.ReturnAddress = ev.ReturnAddress
		rs.UpdatedAt = now
		changed = append(changed, domain.OMSFieldReturnAddress)
	}
	if len(changed) == 0 {
		return nil, nil
	}
	if err := tx.Satellites().SaveReturnShipment(ctx, rs); err != nil {
		return nil, err
	}
	return map[string]any{"record": "return_shipment", "status": string(rs.Status), "fields": changed}, nil
}

func mergeExchangeShipment(ctx context.Context, tx domain.Tx, c *domain.Case, ev *domain.OMSEvent, now time.Time) (map[string]any, error) {
	if ev.Has(domain.OMSFieldReturnAddress) {
		return nil, shipmentViolation(domain.OMSFieldReturnAddress, "exchange cases record only the shipping address")
	}
	es, err := tx.Satellites().GetExchangeShipment(ctx, c.ID)
	if errors.Is(err, domain.ErrSatelliteNotFound) {
		if es, err = domain.NewExchangeShipment(c, now); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	var changed []string
	carrier, trackingNo := pick(ev, domain.OMSFieldCarrier, ev.Carrier, es.ReturnCarrier), pick(ev, domain.OMSFieldTrackingNo, ev.TrackingNo, es.ReturnTrackingNo)
	if carrier != es.ReturnCarrier || trackingNo != es.ReturnTrackingNo {
		if err := es.MarkReturnShipped(carrier, trackingNo, now); err != nil {
			return nil, shipmentViolation(domain.OMSFieldTrackingNo, err.Error())
		}
		changed = append(changed, domain.OMSFieldCarrier, domain.OMSFieldTrackingNo)
	}
	reshipCarrier, reshipTrackingNo := pick(ev, domain.OMSFieldReshipCarrier, ev.ReshipCarrier, es.ReshipCarrier), pick(ev, domain.OMSFieldReshipTrackingNo, ev.ReshipTrackingNo, es.ReshipTrackingNo)
	if reshipCarrier != es.ReshipCarrier || reshipTrackingNo != es.ReshipTrackingNo {
		// OMS 已补发说明寄回的商品已经签收
		if es.Status == domain.ExchangeAwaitingReturn || es.Status == domain.ExchangeReturnShipped {
			es.MarkReturnReceived(now)
		}
		if err := es.MarkReshipped(reshipCarrier, reshipTrackingNo, now); err != nil {
			return nil, shipmentViolation(domain.OMSFieldReshipTrackingNo, err.Error())
		}
		changed = append(changed, domain.OMSFieldReshipCarrier, domain.OMSFieldReshipTrackingNo)
	}
	if ev.Has(domain.OMSFieldShippingAddress) && ev.ShippingAddress != es.ShippingAddress {
		es.ShippingAddress = ev.ShippingAddress
		es.UpdatedAt = now
		changed = append(changed, domain.OMSFieldShippingAddress)
	}
	if len(changed) == 0 {
		return nil, nil
	}
	if err := tx.Satellites().SaveExchangeShipment(ctx, es); err != nil {
		return nil, err
	}
	return map[string]any{"record": "exchange_shipment", "status": string(es.Status), "fields": changed}, nil
}

// pick 字段出现时取推送值，否则沿用当前值
func pick(ev *domain.OMSEvent, field, incoming, current string) string {
	if ev.Has(field) {
		return incoming
	}
	return current
}

func (r *Reconciler) updateInfo(ctx context.Context, ev *domain.OMSEvent) (c *domain.Case, err error) {
	err = r.units.run(ctx, "oms_update_info", func(ctx context.Context, tx domain.Tx, fx *effects) error {
		now := r.now()
		var err error
		if c, err = tx.Cases().GetByReference(ctx, ev.ReferenceNo); err != nil {
			return err
		}
		changed, err := r.applyInfo(c, ev)
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			return nil
		}
		c.ModificationCount++
		c.UpdatedAt = now
		if err := validateCase(ctx, r.validator, c); err != nil {
			return err
		}
		if err := tx.Cases().Update(ctx, c); err != nil {
			return err
		}
		entry := domain.NewAuditEntry(c, domain.OMSActor, domain.AuditOMSInfoUpdated, now).
			With("fields", changed)
		if err := tx.Audit().Append(ctx, entry); err != nil {
			return err
		}
		if c.UserID == "" && slices.Contains(changed, domain.OMSFieldContactPhone) {
			r.scheduleUserAssociation(fx, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// applyInfo 只比较载荷中出现的字段，返回实际变化的字段名
func (r *Reconciler) applyInfo(c *domain.Case, ev *domain.OMSEvent) ([]string, error) {
	var changed []string
	setString := func(field string, dst *string, v string) {
		if ev.Has(field) && *dst != v {
			*dst = v
			changed = append(changed, field)
		}
	}
	setString(domain.OMSFieldOrderNo, &c.OrderNo, ev.OrderNo)
	setString(domain.OMSFieldOrderLineNo, &c.OrderLineNo, ev.OrderLineNo)
	setString(domain.OMSFieldContactName, &c.ContactName, ev.ContactName)
	setString(domain.OMSFieldContactPhone, &c.ContactPhone, ev.ContactPhone)
	setString(domain.OMSFieldDescription, &c.Description, ev.Description)
	setString(domain.OMSFieldAuditNote, &c.AuditNote, ev.AuditNote)
	setString(domain.OMSFieldServiceNote, &c.ServiceNote, ev.ServiceNote)

	if ev.Has(domain.OMSFieldType) {
		t, ok := r.dict.MapType(ev.Type)
		if !ok {
			return nil, domain.NewValidationError([]domain.Violation{{Field: "type", Rule: "dictionary", Message: fmt.Sprintf("unknown case type %q", ev.Type)}})
		}
		if t != c.Type {
			c.Type = t
			changed = append(changed, domain.OMSFieldType)
		}
	}
	if ev.Has(domain.OMSFieldReason) {
		if reason := r.dict.MapReason(ev.Reason); reason != c.Reason {
			c.Reason = reason
			changed = append(changed, domain.OMSFieldReason)
		}
	}
	if ev.Has(domain.OMSFieldQuantity) && ev.Quantity != c.Quantity {
		c.Quantity = ev.Quantity
		changed = append(changed, domain.OMSFieldQuantity)
	}
	if ev.Has(domain.OMSFieldRequestedAmount) && !ev.RequestedAmount.Equal(c.RequestedAmount) {
		c.RequestedAmount = ev.RequestedAmount
		if c.ActualAmount.GreaterThan(c.RequestedAmount) {
			c.ActualAmount = c.RequestedAmount
		}
		changed = append(changed, domain.OMSFieldRequestedAmount)
	}
	if ev.Has(domain.OMSFieldActualAmount) && !ev.ActualAmount.Equal(c.ActualAmount) {
		c.ActualAmount = ev.ActualAmount
		c.AmountModified = true
		changed = append(changed, domain.OMSFieldActualAmount)
	}
	if ev.Has(domain.OMSFieldSnapshot) && ev.Snapshot != nil && !c.Snapshot.Equal(*ev.Snapshot) {
		if err := c.AttachSnapshot(*ev.Snapshot); err != nil {
			return nil, err
		}
		changed = append(changed, domain.OMSFieldSnapshot)
	}
	return changed, nil
}

// scheduleUserAssociation 提交后按联系电话关联用户，失败只记录日志
func (r *Reconciler) scheduleUserAssociation(fx *effects, c *domain.Case) {
	if r.users == nil || c.ContactPhone == "" || c.UserID != "" {
		return
	}
	caseID, phone := c.ID, c.ContactPhone
	fx.afterCommit(func(ctx context.Context) {
		userID, err := r.users.FindByPhone(ctx, phone)
		if err != nil {
			if errors.Is(err, port.ErrUserNotFound) {
				logger.Ctx(ctx).Info().Str("case_id", caseID).Msg("ℹ️ No user matches contact phone")
			} else {
				logger.Ctx(ctx).Warn().Err(err).Str("case_id", caseID).Msg("⚠️ User lookup failed, case stays unassociated")
			}
			return
		}
		err = r.units.run(ctx, "oms_associate_user", func(ctx context.Context, tx domain.Tx, fx *effects) error {
			c, err := tx.Cases().Get(ctx, caseID)
			if err != nil {
				return err
			}
			if c.UserID != "" || c.ContactPhone != phone {
				return nil
			}
			now := r.now()
			c.UserID = userID
			c.UpdatedAt = now
			if err := tx.Cases().Update(ctx, c); err != nil {
				return err
			}
			return tx.Audit().Append(ctx, domain.NewAuditEntry(c, domain.OMSActor, domain.AuditUserAssociated, now).
				With("userId", userID))
		})
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("case_id", caseID).Msg("⚠️ Failed to associate user with case")
			return
		}
		logger.Ctx(ctx).Info().Str("case_id", caseID).Str("user_id", userID).Msg("🔗 Case associated with user")
	})
}
