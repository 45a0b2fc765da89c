package port

import (
	"context"

	"github.com/shopspring/decimal"
)

// RefundRequest 是发往支付网关的退款指令
type RefundRequest struct {
	CaseID      string          `json:"caseId"`
	ReferenceNo string          `json:"referenceNo"`
	OrderNo     string          `json:"orderNo"`
	Amount      decimal.Decimal `json:"amount"`
	// IdempotencyKey 每次尝试唯一，网关据此去重
	IdempotencyKey string `json:"idempotencyKey"`
}

// RefundResult 网关的同步执行结果
type RefundResult struct {
	Success bool   `json:"success"`
	TxnID   string `json:"txnId"`
	Message string `json:"message"`
}

// RefundGateway 是支付网关的出站端口。
// 超时和重试策略属于网关本身，这里只记录结果。
type RefundGateway interface {
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}
