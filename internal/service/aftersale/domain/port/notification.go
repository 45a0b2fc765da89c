package port

import (
	"context"

	"aftersale/internal/service/aftersale/domain"
)

// EventPublisher 把领域事件发布给下游。
// 发布在事务提交之后进行，失败只记录日志。
type EventPublisher interface {
	Publish(ctx context.Context, events ...domain.CaseEvent) error
}
