package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"aftersale/internal/pkg/mq"
	"aftersale/internal/service/aftersale/domain"
)

// CaseEventTopic 售后单领域事件的下游 topic
const CaseEventTopic = "aftersale-case-events"

// CaseEventKafkaAdapter 实现了 port.EventPublisher 接口。
// 以售后单 ID 作为消息 key，保证同一单的事件有序。
type CaseEventKafkaAdapter struct {
	writer mq.MessageWriter
}

// NewCaseEventKafkaAdapter 创建一个新的事件生产者适配器。
func NewCaseEventKafkaAdapter(writer mq.MessageWriter) *CaseEventKafkaAdapter {
	return &CaseEventKafkaAdapter{writer: writer}
}

func (a *CaseEventKafkaAdapter) Publish(ctx context.Context, events ...domain.CaseEvent) error {
	var errs []error
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to marshal case event %s: %w", ev.EventID, err))
			continue
		}
		// 调用通用的 mq.ProduceMessage，它会自动处理追踪上下文注入
		if err := mq.ProduceMessage(ctx, a.writer, []byte(ev.CaseID), payload); err != nil {
			errs = append(errs, fmt.Errorf("failed to produce case event %s: %w", ev.EventID, err))
		}
	}
	return errors.Join(errs...)
}
