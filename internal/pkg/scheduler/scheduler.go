// internal/pkg/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"time"

	"aftersale/internal/pkg/logger"

	"github.com/robfig/cron/v3"
)

// Task 是一个周期性任务
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

// TaskFunc 把普通函数适配为 Task
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context) error
}

func (t TaskFunc) Name() string                  { return t.TaskName }
func (t TaskFunc) Run(ctx context.Context) error { return t.Fn(ctx) }

// Scheduler 基于 cron 调度任务，同一任务上一次未结束时跳过本次
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

// New timeout 为单次执行的上限，0 表示不限制
func New(timeout time.Duration) *Scheduler {
	l := cronLogger{}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cron: c, ctx: ctx, cancel: cancel, timeout: timeout}
}

// AddTask spec 支持标准 cron 表达式和 @every 1m 这类描述符
func (s *Scheduler) AddTask(spec string, task Task) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx := s.ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		start := time.Now()
		if err := task.Run(ctx); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("task", task.Name()).Msg("❌ Scheduled task failed")
			return
		}
		logger.Ctx(ctx).Info().Str("task", task.Name()).Dur("elapsed", time.Since(start)).Msg("⏰ Scheduled task finished")
	})
	if err != nil {
		return fmt.Errorf("failed to schedule task %s with spec %q: %w", task.Name(), spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info().Int("tasks", len(s.cron.Entries())).Msg("✅ Scheduler started")
}

// Stop 取消正在运行的任务并等待它们退出
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	logger.Info().Msg("🛑 Scheduler stopped")
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
