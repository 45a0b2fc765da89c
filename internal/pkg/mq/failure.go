// internal/pkg/mq/failure.go
package mq

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"aftersale/internal/pkg/logger"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// 死信消息头，记录原始位置和失败原因
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionFqcn     = "x-exception-fqcn"
	HeaderExceptionMessage  = "x-exception-message"
	HeaderRetryCount        = "x-retry-count"
)

// RetryPolicy 决定处理失败后是否在进程内重试
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Retryable   func(err error) bool
}

// FailureHandler 处理消费失败的消息: 可重试错误先在进程内重试，仍失败则投递到死信主题
type FailureHandler struct {
	dltWriter MessageWriter
	dltTopic  string
	policy    RetryPolicy
}

func NewFailureHandler(dltWriter MessageWriter, dltTopic string, policy RetryPolicy) *FailureHandler {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &FailureHandler{dltWriter: dltWriter, dltTopic: dltTopic, policy: policy}
}

// ErrNoDeadLetter 未配置死信主题时，失败消息无处安放
var ErrNoDeadLetter = errors.New("no dead letter topic configured")

// Handle 在 process 首次失败后调用，err 为首次失败的错误。
// 返回 nil 表示消息已处理成功或已进入死信，可以提交 offset；
// 返回错误时消息既未处理也未进入死信，调用方不能提交。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, err error, process func(context.Context, kafka.Message) error) error {
	attempt := 1
	for h.policy.Retryable != nil && h.policy.Retryable(err) && attempt < h.policy.MaxAttempts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.policy.Backoff * time.Duration(attempt)):
		}
		attempt++
		logger.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Int64("offset", msg.Offset).Msg("🔁 Retrying message")
		if err = process(ctx, msg); err == nil {
			return nil
		}
	}

	if h.dltWriter == nil {
		logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("❌ Message failed and no dead letter topic is configured")
		return errors.Wrapf(ErrNoDeadLetter, "offset %d: %v", msg.Offset, err)
	}
	dlt := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(append([]kafka.Header{}, msg.Headers...),
			kafka.Header{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
			kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
			kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
			kafka.Header{Key: HeaderExceptionFqcn, Value: []byte(fmt.Sprintf("%T", errors.Cause(err)))},
			kafka.Header{Key: HeaderExceptionMessage, Value: []byte(err.Error())},
			kafka.Header{Key: HeaderRetryCount, Value: []byte(strconv.Itoa(attempt))},
		),
		Time: time.Now(),
	}
	if writeErr := h.dltWriter.WriteMessages(ctx, dlt); writeErr != nil {
		logger.Ctx(ctx).Error().Err(writeErr).Str("dlt_topic", h.dltTopic).Int64("offset", msg.Offset).Msg("🚨 Failed to publish message to dead letter topic")
		return errors.Wrapf(writeErr, "dead letter offset %d to %s", msg.Offset, h.dltTopic)
	}
	logger.Ctx(ctx).Warn().Err(err).Str("dlt_topic", h.dltTopic).Int64("offset", msg.Offset).Msg("📮 Message moved to dead letter topic")
	return nil
}
