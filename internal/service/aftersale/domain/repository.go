// internal/service/aftersale/domain/repository.go
package domain

import (
	"context"
	"time"
)

// CaseRepository 定义了售后单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type CaseRepository interface {
	// Create 插入新单，单号冲突时返回 ErrReferenceExists。
	Create(ctx context.Context, c *Case) error

	// Get 根据 ID 查找，不存在时返回 ErrCaseNotFound。
	Get(ctx context.Context, id string) (*Case, error)

	// GetByReference 根据外部单号查找，不存在时返回 ErrCaseNotFound。
	GetByReference(ctx context.Context, referenceNo string) (*Case, error)

	// Update 基于版本号的乐观更新，成功后 c.Version 加一。
	// 版本不匹配时返回 ErrConcurrentModification。
	Update(ctx context.Context, c *Case) error

	// ListExpired 返回处于 states 且截止时间不晚于 now 的单，按截止时间升序。
	ListExpired(ctx context.Context, states []State, now time.Time, limit int) ([]*Case, error)
}

// SatelliteRepository 管理三类子流程记录，每个售后单每类最多一条。
type SatelliteRepository interface {
	GetRefund(ctx context.Context, caseID string) (*RefundExecution, error)
	SaveRefund(ctx context.Context, r *RefundExecution) error

	GetReturnShipment(ctx context.Context, caseID string) (*ReturnShipment, error)
	SaveReturnShipment(ctx context.Context, s *ReturnShipment) error

	GetExchangeShipment(ctx context.Context, caseID string) (*ExchangeShipment, error)
	SaveExchangeShipment(ctx context.Context, s *ExchangeShipment) error
}

// AuditRepository 审计日志只追加，只有保留策略可以清理。
type AuditRepository interface {
	Append(ctx context.Context, e *AuditEntry) error
	ListByCase(ctx context.Context, caseID string) ([]*AuditEntry, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Tx 是一个原子单元内可见的仓储集合
type Tx interface {
	Cases() CaseRepository
	Satellites() SatelliteRepository
	Audit() AuditRepository
}

// UnitOfWork 在一个事务中执行 fn，fn 返回错误时整体回滚
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store 同时提供事务和事务外的只读访问
type Store interface {
	UnitOfWork
	Tx
}
