// internal/service/aftersale/interfaces/oms_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"aftersale/internal/pkg/logger"
	"aftersale/internal/pkg/mq"
	"aftersale/internal/service/aftersale/domain"

	"github.com/segmentio/kafka-go"
)

const (
	OMSEventTopic    = "oms-aftersale-events"
	OMSEventDLTTopic = "oms-aftersale-events-dlt"
	OMSConsumerGroup = "aftersale-oms-sync"
)

// MessageReader 是 *kafka.Reader 的最小接口，便于测试替换
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OMSHandler 由 application.Reconciler 实现
type OMSHandler interface {
	Handle(ctx context.Context, ev *domain.OMSEvent) (*domain.Case, error)
}

// OMSConsumerAdapter 是一个驱动适配器，它监听 OMS 推送的 Kafka 消息并驱动对账服务。
// 同一单号的消息在同一分区内按序处理，处理完成(或进入死信)后才提交 offset。
type OMSConsumerAdapter struct {
	reader   MessageReader
	handler  OMSHandler
	failures *mq.FailureHandler
	hold     time.Duration // 死信也写不进去时，重新处理同一条消息前的等待
	wg       sync.WaitGroup
	stopped  atomic.Bool
}

func NewOMSConsumerAdapter(reader MessageReader, handler OMSHandler, failures *mq.FailureHandler) *OMSConsumerAdapter {
	return &OMSConsumerAdapter{reader: reader, handler: handler, failures: failures, hold: 5 * time.Second}
}

// OMSRetryPolicy 只有瞬时错误值得在进程内重试，其余直接进入死信
func OMSRetryPolicy() mq.RetryPolicy {
	return mq.RetryPolicy{
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
		Retryable:   domain.IsTransient,
	}
}

// Run 阻塞消费直到 ctx 取消
func (a *OMSConsumerAdapter) Run(ctx context.Context) error {
	a.wg.Add(1)
	defer a.wg.Done()
	logger.Ctx(ctx).Info().Str("topic", OMSEventTopic).Msg("✅ OMS Consumer Adapter started.")
	for {
		if a.stopped.Load() {
			return nil
		}
		// 我们使用FetchMessage而不是ReadMessage，以便更好地控制提交时机
		msg, err := a.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("🛑 OMS Consumer Adapter shutting down.")
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("❌ Could not fetch OMS message, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
		if err := a.settle(msgCtx, msg); err != nil {
			// 只有停机会走到这里，不提交 offset，重启后重新投递
			logger.Ctx(ctx).Warn().Err(err).Int64("offset", msg.Offset).Msg("🛑 OMS message left uncommitted on shutdown")
			return nil
		}
		if err := a.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("❌ Failed to commit OMS message")
		}
	}
}

// Stop 优雅地停止消费者
func (a *OMSConsumerAdapter) Stop(ctx context.Context) {
	a.stopped.Store(true)
	_ = a.reader.Close()
	a.wg.Wait()
	logger.Ctx(ctx).Info().Msg("✅ OMS Consumer Adapter stopped.")
}

// settle 直到消息处理成功或进入死信才返回 nil。
// 两者都失败时保留 offset，等待后从头重新处理同一条消息。
func (a *OMSConsumerAdapter) settle(ctx context.Context, msg kafka.Message) error {
	err := a.process(ctx, msg)
	for err != nil {
		herr := a.failures.Handle(ctx, msg, err, a.process)
		if herr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Ctx(ctx).Error().Err(herr).Int64("offset", msg.Offset).Dur("hold", a.hold).
			Msg("🚨 OMS message neither reconciled nor dead-lettered, holding offset")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.hold):
		}
		err = a.process(ctx, msg)
	}
	return nil
}

func (a *OMSConsumerAdapter) process(ctx context.Context, msg kafka.Message) error {
	ev, err := DecodeOMSEvent(msg.Value)
	if err != nil {
		return err
	}
	c, err := a.handler.Handle(ctx, ev)
	if err != nil {
		return err
	}
	if c != nil {
		logger.Ctx(ctx).Info().Str("reference_no", ev.ReferenceNo).Str("op", string(ev.Op)).
			Str("state", string(c.State)).Msg("📥 OMS event reconciled")
	}
	return nil
}

// DecodeOMSEvent 解析消息体，未知操作在进入对账前拒绝
func DecodeOMSEvent(data []byte) (*domain.OMSEvent, error) {
	var ev domain.OMSEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, domain.NewValidationError([]domain.Violation{{Field: "body", Rule: "json", Message: err.Error()}})
	}
	if !ev.Op.Valid() {
		return nil, domain.NewValidationError([]domain.Violation{{Field: "op", Rule: "oneof", Message: fmt.Sprintf("unknown operation %q", ev.Op)}})
	}
	return &ev, nil
}
