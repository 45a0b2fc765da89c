package adapter

import (
	"context"
	"fmt"
	"net/url"

	"aftersale/internal/pkg/httpclient"
	"aftersale/internal/service/aftersale/domain"
)

const (
	CatalogService      = "catalog-service"
	catalogSnapshotPath = "/api/v1/order-lines/snapshot"
)

// CatalogHTTPAdapter 实现了 port.CatalogSnapshotProvider 接口
type CatalogHTTPAdapter struct {
	client *httpclient.Client
}

func NewCatalogHTTPAdapter(client *httpclient.Client) *CatalogHTTPAdapter {
	return &CatalogHTTPAdapter{client: client}
}

// Snapshot 查询订单行的商品和实付金额
func (a *CatalogHTTPAdapter) Snapshot(ctx context.Context, orderNo, orderLineNo string) (domain.ProductSnapshot, error) {
	params := url.Values{}
	params.Set("order_no", orderNo)
	if orderLineNo != "" {
		params.Set("order_line_no", orderLineNo)
	}
	var snapshot domain.ProductSnapshot
	if err := a.client.GetJSON(ctx, CatalogService, catalogSnapshotPath, params, &snapshot); err != nil {
		return domain.ProductSnapshot{}, fmt.Errorf("failed to fetch snapshot for order %s: %w", orderNo, err)
	}
	return snapshot, nil
}
