// internal/service/aftersale/domain/satellite.go
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxRefundRetries 退款执行失败后最多允许的重试次数
const MaxRefundRetries = 3

type RefundStatus string

const (
	RefundPending    RefundStatus = "PENDING"
	RefundProcessing RefundStatus = "PROCESSING"
	RefundSuccess    RefundStatus = "SUCCESS"
	RefundFailed     RefundStatus = "FAILED"
)

// RefundExecution 是退款执行子流程，每个售后单最多一条
type RefundExecution struct {
	ID           string
	CaseID       string
	Status       RefundStatus
	Amount       decimal.Decimal
	RetryCount   int
	GatewayTxnID string
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewRefundExecution 只有涉及退款的售后类型才能创建
func NewRefundExecution(c *Case, now time.Time) (*RefundExecution, error) {
	if !c.Type.RefundsMoney() {
		return nil, fmt.Errorf("%w: refund execution on %s", ErrSatelliteMismatch, c.Type)
	}
	return &RefundExecution{
		ID:        uuid.New().String(),
		CaseID:    c.ID,
		Status:    RefundPending,
		Amount:    c.ActualAmount,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CanRetry 仅在失败且重试次数未用完时为 true
func (r *RefundExecution) CanRetry() bool {
	return r.Status == RefundFailed && r.RetryCount < MaxRefundRetries
}

func (r *RefundExecution) MarkProcessing(amount decimal.Decimal, now time.Time) error {
	switch {
	case r.Status == RefundProcessing:
		return ErrRefundInProgress
	case r.Status == RefundPending, r.CanRetry():
	default:
		return ErrRefundNotRetryable
	}
	r.Status = RefundProcessing
	r.Amount = amount
	r.UpdatedAt = now
	return nil
}

func (r *RefundExecution) MarkSuccess(txnID string, now time.Time) error {
	if r.Status != RefundProcessing {
		return errors.New("refund execution is not processing")
	}
	r.Status = RefundSuccess
	r.GatewayTxnID = txnID
	r.LastError = ""
	r.UpdatedAt = now
	return nil
}

// MarkFailed 每次失败都会消耗一次重试额度
func (r *RefundExecution) MarkFailed(reason string, now time.Time) error {
	if r.Status != RefundProcessing {
		return errors.New("refund execution is not processing")
	}
	r.Status = RefundFailed
	r.RetryCount++
	r.LastError = reason
	r.UpdatedAt = now
	return nil
}

type ReturnShipmentStatus string

const (
	ReturnAwaitingShipment ReturnShipmentStatus = "AWAITING_SHIPMENT"
	ReturnShipped          ReturnShipmentStatus = "SHIPPED"
	ReturnReceived         ReturnShipmentStatus = "RECEIVED"
)

// ReturnShipment 是退货退款的买家寄回物流
type ReturnShipment struct {
	ID            string
	CaseID        string
	Status        ReturnShipmentStatus
	Carrier       string
	TrackingNo    string
	ReturnAddress string
	ShippedAt     *time.Time
	ReceivedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewReturnShipment(c *Case, now time.Time) (*ReturnShipment, error) {
	if c.Type != TypeReturnRefund {
		return nil, fmt.Errorf("%w: return shipment on %s", ErrSatelliteMismatch, c.Type)
	}
	return &ReturnShipment{
		ID:        uuid.New().String(),
		CaseID:    c.ID,
		Status:    ReturnAwaitingShipment,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *ReturnShipment) MarkShipped(carrier, trackingNo string, now time.Time) error {
	if s.Status == ReturnReceived {
		return errors.New("return shipment already received")
	}
	s.Status = ReturnShipped
	s.Carrier = carrier
	s.TrackingNo = trackingNo
	s.ShippedAt = &now
	s.UpdatedAt = now
	return nil
}

func (s *ReturnShipment) MarkReceived(now time.Time) {
	s.Status = ReturnReceived
	s.ReceivedAt = &now
	s.UpdatedAt = now
}

type ExchangeShipmentStatus string

const (
	ExchangeAwaitingReturn ExchangeShipmentStatus = "AWAITING_RETURN"
	ExchangeReturnShipped  ExchangeShipmentStatus = "RETURN_SHIPPED"
	ExchangeReturnReceived ExchangeShipmentStatus = "RETURN_RECEIVED"
	ExchangeReshipped      ExchangeShipmentStatus = "RESHIPPED"
)

// ExchangeShipment 记录换货的寄回和补发两段物流
type ExchangeShipment struct {
	ID               string
	CaseID           string
	Status           ExchangeShipmentStatus
	ReturnCarrier    string
	ReturnTrackingNo string
	ReshipCarrier    string
	ReshipTrackingNo string
	ShippingAddress  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func NewExchangeShipment(c *Case, now time.Time) (*ExchangeShipment, error) {
	if c.Type != TypeExchange {
		return nil, fmt.Errorf("%w: exchange shipment on %s", ErrSatelliteMismatch, c.Type)
	}
	return &ExchangeShipment{
		ID:        uuid.New().String(),
		CaseID:    c.ID,
		Status:    ExchangeAwaitingReturn,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *ExchangeShipment) MarkReturnShipped(carrier, trackingNo string, now time.Time) error {
	if s.Status != ExchangeAwaitingReturn && s.Status != ExchangeReturnShipped {
		return fmt.Errorf("exchange shipment in %s cannot accept return tracking", s.Status)
	}
	s.Status = ExchangeReturnShipped
	s.ReturnCarrier = carrier
	s.ReturnTrackingNo = trackingNo
	s.UpdatedAt = now
	return nil
}

func (s *ExchangeShipment) MarkReturnReceived(now time.Time) {
	s.Status = ExchangeReturnReceived
	s.UpdatedAt = now
}

// MarkReshipped 商家补发新商品，必须先收到寄回的商品
func (s *ExchangeShipment) MarkReshipped(carrier, trackingNo string, now time.Time) error {
	if s.Status != ExchangeReturnReceived && s.Status != ExchangeReshipped {
		return fmt.Errorf("exchange shipment in %s cannot be reshipped", s.Status)
	}
	s.Status = ExchangeReshipped
	s.ReshipCarrier = carrier
	s.ReshipTrackingNo = trackingNo
	s.UpdatedAt = now
	return nil
}
