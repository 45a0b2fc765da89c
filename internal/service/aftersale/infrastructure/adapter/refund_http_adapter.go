package adapter

import (
	"context"
	"errors"
	"net/http"

	"aftersale/internal/pkg/httpclient"
	"aftersale/internal/service/aftersale/domain/port"
)

const (
	PaymentService    = "payment-service"
	paymentRefundPath = "/api/v1/refunds"
)

// RefundHTTPAdapter 实现了 port.RefundGateway 接口，调用支付服务执行退款
type RefundHTTPAdapter struct {
	client *httpclient.Client
}

func NewRefundHTTPAdapter(client *httpclient.Client) *RefundHTTPAdapter {
	return &RefundHTTPAdapter{client: client}
}

// Refund 网关明确拒绝(4xx)时返回失败结果，网络错误和 5xx 作为错误返回
func (a *RefundHTTPAdapter) Refund(ctx context.Context, req port.RefundRequest) (port.RefundResult, error) {
	var result port.RefundResult
	err := a.client.PostJSON(ctx, PaymentService, paymentRefundPath, req, &result)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.StatusCode >= http.StatusBadRequest && se.StatusCode < http.StatusInternalServerError {
			return port.RefundResult{Success: false, Message: se.Body}, nil
		}
		return port.RefundResult{}, err
	}
	return result, nil
}
