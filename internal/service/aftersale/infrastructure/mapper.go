package infrastructure

import (
	"aftersale/internal/service/aftersale/domain"

	"gorm.io/datatypes"
)

// toDomainCase 将数据库模型转换为领域模型
func toDomainCase(m *CaseModel) *domain.Case {
	return &domain.Case{
		ID:                m.ID,
		ReferenceNo:       m.ReferenceNo,
		OrderNo:           m.OrderNo,
		OrderLineNo:       m.OrderLineNo,
		UserID:            m.UserID,
		ContactName:       m.ContactName,
		ContactPhone:      m.ContactPhone,
		Type:              domain.CaseType(m.Type),
		Reason:            domain.ReasonCode(m.Reason),
		Description:       m.Description,
		Quantity:          m.Quantity,
		State:             domain.State(m.State),
		Stage:             domain.Stage(m.Stage),
		RequestedAmount:   m.RequestedAmount,
		ApprovedAmount:    m.ApprovedAmount,
		ActualAmount:      m.ActualAmount,
		AmountModified:    m.AmountModified,
		ModificationCount: m.ModificationCount,
		NeedsReview:       m.NeedsReview,
		DeadlineAt:        m.DeadlineAt,
		AuditNote:         m.AuditNote,
		ServiceNote:       m.ServiceNote,
		Snapshot:          m.Snapshot.Data(),
		Source:            domain.Source(m.Source),
		Version:           m.Version,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func fromDomainCase(c *domain.Case) *CaseModel {
	return &CaseModel{
		ID:                c.ID,
		ReferenceNo:       c.ReferenceNo,
		OrderNo:           c.OrderNo,
		OrderLineNo:       c.OrderLineNo,
		UserID:            c.UserID,
		ContactName:       c.ContactName,
		ContactPhone:      c.ContactPhone,
		Type:              string(c.Type),
		Reason:            string(c.Reason),
		Description:       c.Description,
		Quantity:          c.Quantity,
		State:             string(c.State),
		Stage:             string(c.Stage),
		RequestedAmount:   c.RequestedAmount,
		ApprovedAmount:    c.ApprovedAmount,
		ActualAmount:      c.ActualAmount,
		AmountModified:    c.AmountModified,
		ModificationCount: c.ModificationCount,
		NeedsReview:       c.NeedsReview,
		DeadlineAt:        c.DeadlineAt,
		AuditNote:         c.AuditNote,
		ServiceNote:       c.ServiceNote,
		Snapshot:          datatypes.NewJSONType(c.Snapshot),
		Source:            string(c.Source),
		Version:           c.Version,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

// caseColumns 是乐观更新时写入的列，version 由调用方给出新值
func caseColumns(c *domain.Case, version int64) map[string]interface{} {
	m := fromDomainCase(c)
	return map[string]interface{}{
		"order_no":           m.OrderNo,
		"order_line_no":      m.OrderLineNo,
		"user_id":            m.UserID,
		"contact_name":       m.ContactName,
		"contact_phone":      m.ContactPhone,
		"type":               m.Type,
		"reason":             m.Reason,
		"description":        m.Description,
		"quantity":           m.Quantity,
		"state":              m.State,
		"stage":              m.Stage,
		"requested_amount":   m.RequestedAmount,
		"approved_amount":    m.ApprovedAmount,
		"actual_amount":      m.ActualAmount,
		"amount_modified":    m.AmountModified,
		"modification_count": m.ModificationCount,
		"needs_review":       m.NeedsReview,
		"deadline_at":        m.DeadlineAt,
		"audit_note":         m.AuditNote,
		"service_note":       m.ServiceNote,
		"snapshot":           m.Snapshot,
		"version":            version,
		"updated_at":         m.UpdatedAt,
	}
}

func toDomainRefund(m *RefundExecutionModel) *domain.RefundExecution {
	return &domain.RefundExecution{
		ID:           m.ID,
		CaseID:       m.CaseID,
		Status:       domain.RefundStatus(m.Status),
		Amount:       m.Amount,
		RetryCount:   m.RetryCount,
		GatewayTxnID: m.GatewayTxnID,
		LastError:    m.LastError,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func fromDomainRefund(r *domain.RefundExecution) *RefundExecutionModel {
	return &RefundExecutionModel{
		ID:           r.ID,
		CaseID:       r.CaseID,
		Status:       string(r.Status),
		Amount:       r.Amount,
		RetryCount:   r.RetryCount,
		GatewayTxnID: r.GatewayTxnID,
		LastError:    r.LastError,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func toDomainReturnShipment(m *ReturnShipmentModel) *domain.ReturnShipment {
	return &domain.ReturnShipment{
		ID:            m.ID,
		CaseID:        m.CaseID,
		Status:        domain.ReturnShipmentStatus(m.Status),
		Carrier:       m.Carrier,
		TrackingNo:    m.TrackingNo,
		ReturnAddress: m.ReturnAddress,
		ShippedAt:     m.ShippedAt,
		ReceivedAt:    m.ReceivedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func fromDomainReturnShipment(s *domain.ReturnShipment) *ReturnShipmentModel {
	return &ReturnShipmentModel{
		ID:            s.ID,
		CaseID:        s.CaseID,
		Status:        string(s.Status),
		Carrier:       s.Carrier,
		TrackingNo:    s.TrackingNo,
		ReturnAddress: s.ReturnAddress,
		ShippedAt:     s.ShippedAt,
		ReceivedAt:    s.ReceivedAt,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func toDomainExchangeShipment(m *ExchangeShipmentModel) *domain.ExchangeShipment {
	return &domain.ExchangeShipment{
		ID:               m.ID,
		CaseID:           m.CaseID,
		Status:           domain.ExchangeShipmentStatus(m.Status),
		ReturnCarrier:    m.ReturnCarrier,
		ReturnTrackingNo: m.ReturnTrackingNo,
		ReshipCarrier:    m.ReshipCarrier,
		ReshipTrackingNo: m.ReshipTrackingNo,
		ShippingAddress:  m.ShippingAddress,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func fromDomainExchangeShipment(s *domain.ExchangeShipment) *ExchangeShipmentModel {
	return &ExchangeShipmentModel{
		ID:               s.ID,
		CaseID:           s.CaseID,
		Status:           string(s.Status),
		ReturnCarrier:    s.ReturnCarrier,
		ReturnTrackingNo: s.ReturnTrackingNo,
		ReshipCarrier:    s.ReshipCarrier,
		ReshipTrackingNo: s.ReshipTrackingNo,
		ShippingAddress:  s.ShippingAddress,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func toDomainAudit(m *AuditEntryModel) *domain.AuditEntry {
	e := &domain.AuditEntry{
		ID:          m.ID,
		CaseID:      m.CaseID,
		ReferenceNo: m.ReferenceNo,
		Actor:       domain.Actor{Type: domain.ActorType(m.ActorType), ID: m.ActorID},
		Action:      domain.AuditAction(m.Action),
		Context:     map[string]any(m.Context),
		CreatedAt:   m.CreatedAt,
	}
	if m.FromState != nil {
		s := domain.State(*m.FromState)
		e.FromState = &s
	}
	if m.ToState != nil {
		s := domain.State(*m.ToState)
		e.ToState = &s
	}
	if e.Context == nil {
		e.Context = map[string]any{}
	}
	return e
}

func fromDomainAudit(e *domain.AuditEntry) *AuditEntryModel {
	m := &AuditEntryModel{
		ID:          e.ID,
		CaseID:      e.CaseID,
		ReferenceNo: e.ReferenceNo,
		ActorType:   string(e.Actor.Type),
		ActorID:     e.Actor.ID,
		Action:      string(e.Action),
		Context:     datatypes.JSONMap(e.Context),
		CreatedAt:   e.CreatedAt,
	}
	if e.FromState != nil {
		s := string(*e.FromState)
		m.FromState = &s
	}
	if e.ToState != nil {
		s := string(*e.ToState)
		m.ToState = &s
	}
	return m
}
