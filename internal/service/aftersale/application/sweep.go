// internal/service/aftersale/application/sweep.go
package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aftersale/internal/pkg/logger"
	"aftersale/internal/pkg/metrics"
	"aftersale/internal/service/aftersale/domain"
	"aftersale/internal/service/aftersale/domain/port"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type sweepOutcome string

const (
	outcomeTransitioned sweepOutcome = "transitioned"
	outcomeFlagged      sweepOutcome = "flagged"
	outcomeSkipped      sweepOutcome = "skipped"
	outcomeFailed       sweepOutcome = "failed"
)

// Sweeper 扫描已超时的售后单，通过同一个流转入口强制推进。
// 多实例并发时先认领再在单元内复查状态和截止时间，保证每单只流转一次。
type Sweeper struct {
	store   domain.Store
	units   *unitRunner
	claimer port.CaseClaimer
	policy  Policy
	tracer  trace.Tracer
	now     func() time.Time
}

func NewSweeper(deps Dependencies, claimer port.CaseClaimer, policy Policy) *Sweeper {
	deps.defaults()
	return &Sweeper{
		store:   deps.Store,
		units:   newUnitRunner(deps.Store, deps.Publisher, policy.Unit),
		claimer: claimer,
		policy:  policy,
		tracer:  deps.Tracer,
		now:     deps.Clock,
	}
}

// Name 实现 scheduler.Task
func (s *Sweeper) Name() string { return "timeout-sweep" }

// Run 实现 scheduler.Task
func (s *Sweeper) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}

// Sweep 处理一批超时候选，单个失败不影响其他售后单
func (s *Sweeper) Sweep(ctx context.Context) (report SweepReport, err error) {
	ctx, span := s.tracer.Start(ctx, "app.aftersale.Sweep")
	defer func() { endSpan(span, err) }()
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	candidates, err := s.store.Cases().ListExpired(ctx, domain.TimedStates, s.now(), s.policy.Sweep.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list expired cases: %w", err)
	}
	report.Candidates = len(candidates)
	span.SetAttributes(attribute.Int("sweep.candidates", len(candidates)))
	if len(candidates) == 0 {
		return report, nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.policy.Sweep.Concurrency)
	for _, candidate := range candidates {
		id, state := candidate.ID, candidate.State
		g.Go(func() error {
			outcome, err := s.sweepOne(gctx, id)
			metrics.SweepCasesTotal.WithLabelValues(string(state), string(outcome)).Inc()
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeTransitioned:
				report.Transitions++
			case outcomeFlagged:
				report.Flagged++
			case outcomeSkipped:
				report.Skipped++
			case outcomeFailed:
				report.Failed++
				errs = append(errs, fmt.Errorf("case %s: %w", id, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Ctx(ctx).Info().Int("candidates", report.Candidates).Int("transitions", report.Transitions).
		Int("flagged", report.Flagged).Int("skipped", report.Skipped).Int("failed", report.Failed).
		Msg("⏰ Timeout sweep finished")
	return report, errors.Join(errs...)
}

func (s *Sweeper) sweepOne(ctx context.Context, id string) (sweepOutcome, error) {
	if s.claimer != nil {
		release, ok, err := s.claimer.Claim(ctx, id, s.policy.Sweep.ClaimTTL)
		if err != nil {
			return outcomeFailed, fmt.Errorf("claim: %w", err)
		}
		if !ok {
			return outcomeSkipped, nil
		}
		defer release(context.WithoutCancel(ctx))
	}

	outcome := outcomeSkipped
	err := s.units.run(ctx, "sweep", func(ctx context.Context, tx domain.Tx, fx *effects) error {
		outcome = outcomeSkipped
		now := s.now()
		c, err := tx.Cases().Get(ctx, id)
		if err != nil {
			return err
		}
		// 认领前可能已被其他操作推进，复查后再决定
		if !c.DeadlineElapsed(now) {
			return nil
		}

		var action domain.Action
		switch c.State {
		case domain.StatePendingApproval:
			if s.policy.Timeout.ApprovalPolicy == ApprovalTimeoutFlag {
				c.FlagForReview(now)
				if err := tx.Cases().Update(ctx, c); err != nil {
					return err
				}
				outcome = outcomeFlagged
				return tx.Audit().Append(ctx, domain.NewAuditEntry(c, domain.TimeoutActor, domain.AuditTimeoutFlagged, now).
					With("state", string(c.State)))
			}
			action = domain.ActionApprove
		case domain.StatePendingReturn:
			action = domain.ActionCancel
		case domain.StatePendingReceive:
			action = domain.ActionConfirmReceipt
		default:
			return nil
		}

		tr, err := c.Apply(action, s.policy.Deadlines, now)
		if err != nil {
			var illegal *domain.IllegalTransitionError
			if errors.As(err, &illegal) {
				return nil
			}
			return err
		}
		if action == domain.ActionConfirmReceipt {
			if err := markReceived(ctx, tx, c, now); err != nil {
				return err
			}
		}
		if err := tx.Cases().Update(ctx, c); err != nil {
			return err
		}
		entry := domain.NewAuditEntry(c, domain.TimeoutActor, domain.AuditTimeoutTransition, now).WithTransition(tr)
		if err := tx.Audit().Append(ctx, entry); err != nil {
			return err
		}
		fx.publish(domain.TransitionEvents(c, tr, now)...)
		fx.afterCommit(func(context.Context) {
			metrics.TransitionsTotal.WithLabelValues(string(tr.Action), string(tr.From), string(tr.To)).Inc()
		})
		outcome = outcomeTransitioned
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrCaseNotFound) {
			return outcomeSkipped, nil
		}
		logger.Ctx(ctx).Error().Err(err).Str("case_id", id).Msg("❌ Timeout sweep failed for case")
		return outcomeFailed, err
	}
	return outcome, nil
}
