// internal/service/aftersale/domain/port/collaborators.go
package port

import (
	"context"
	"errors"

	"aftersale/internal/service/aftersale/domain"
)

// ErrUserNotFound 用户目录中没有匹配的用户
var ErrUserNotFound = errors.New("user not found")

// CatalogSnapshotProvider 是商品目录服务的出站端口。
// 它在售后单创建时提供不可变的商品/价格快照。
type CatalogSnapshotProvider interface {
	Snapshot(ctx context.Context, orderNo, orderLineNo string) (domain.ProductSnapshot, error)
}

// UserDirectory 是用户中心的出站端口。
type UserDirectory interface {
	// FindByPhone 按联系电话查找用户 ID，找不到时返回 ErrUserNotFound。
	FindByPhone(ctx context.Context, phone string) (string, error)
}

// Validator 是校验引擎的出站端口，没有违反时返回空列表。
type Validator interface {
	Validate(ctx context.Context, v any) []domain.Violation
}
