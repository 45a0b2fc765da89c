package adapter

import (
	"context"
	"errors"

	"aftersale/internal/service/aftersale/domain"
	"aftersale/internal/service/aftersale/domain/port"
)

// MultiPublisher 把事件依次交给每个发布器，单个失败不影响其他发布器
type MultiPublisher []port.EventPublisher

func (m MultiPublisher) Publish(ctx context.Context, events ...domain.CaseEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
