// internal/service/aftersale/application/unit.go
package application

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"aftersale/internal/pkg/logger"
	"aftersale/internal/pkg/metrics"
	"aftersale/internal/service/aftersale/domain"
	"aftersale/internal/service/aftersale/domain/port"
)

// effects 收集一个原子单元提交后才执行的副作用
type effects struct {
	events []domain.CaseEvent
	after  []func(ctx context.Context)
}

func (e *effects) publish(events ...domain.CaseEvent) {
	e.events = append(e.events, events...)
}

// afterCommit 注册提交成功后的尽力而为操作，失败不会影响已提交的数据
func (e *effects) afterCommit(fn func(ctx context.Context)) {
	e.after = append(e.after, fn)
}

type unitFunc func(ctx context.Context, tx domain.Tx, fx *effects) error

// unitRunner 执行 读取->校验->修改->审计->提交 的原子单元。
// 版本冲突和瞬时错误会整体回滚并重试。
type unitRunner struct {
	uow       domain.UnitOfWork
	publisher port.EventPublisher
	attempts  int
	backoff   time.Duration
}

func newUnitRunner(uow domain.UnitOfWork, publisher port.EventPublisher, p UnitPolicy) *unitRunner {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	return &unitRunner{uow: uow, publisher: publisher, attempts: p.MaxAttempts, backoff: p.Backoff}
}

func (r *unitRunner) run(ctx context.Context, name string, fn unitFunc) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		fx := &effects{}
		err = r.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
			return fn(ctx, tx, fx)
		})
		if err == nil {
			r.commit(ctx, fx)
			return nil
		}
		if !domain.IsTransient(err) || attempt == r.attempts {
			break
		}
		metrics.UnitRetriesTotal.WithLabelValues(name).Inc()
		logger.Ctx(ctx).Warn().Err(err).Str("unit", name).Int("attempt", attempt).Msg("🔁 Unit of work conflicted, retrying")
		if waitErr := sleepJitter(ctx, r.backoff, attempt); waitErr != nil {
			return waitErr
		}
	}
	return err
}

func (r *unitRunner) commit(ctx context.Context, fx *effects) {
	if len(fx.events) > 0 && r.publisher != nil {
		if err := r.publisher.Publish(ctx, fx.events...); err != nil {
			logger.Ctx(ctx).Error().Err(err).Int("events", len(fx.events)).Msg("⚠️ Failed to publish case events")
		}
	}
	for _, fn := range fx.after {
		fn(ctx)
	}
}

// sleepJitter 线性退避加随机抖动，避免冲突方同时重试
func sleepJitter(ctx context.Context, base time.Duration, attempt int) error {
	if base <= 0 {
		return nil
	}
	d := base*time.Duration(attempt) + rand.N(base)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("unit retry aborted: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
