package infrastructure

import (
	"context"
	"database/sql/driver"
	"time"

	"aftersale/internal/service/aftersale/domain"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MySQL 错误码
const (
	mysqlDuplicateEntry   = 1062
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlockDetected = 1213
)

// GormStore 是 domain.Store 的 GORM 实现
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建一个新的 GORM 仓储实例
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Do 在一个数据库事务中执行 fn，死锁和锁等待超时归类为可重试错误
func (s *GormStore) Do(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(ctx, gormTx{db: db})
	})
	return classify(err)
}

func (s *GormStore) Cases() domain.CaseRepository           { return gormTx{db: s.db}.Cases() }
func (s *GormStore) Satellites() domain.SatelliteRepository { return gormTx{db: s.db}.Satellites() }
func (s *GormStore) Audit() domain.AuditRepository          { return gormTx{db: s.db}.Audit() }

type gormTx struct {
	db *gorm.DB
}

func (t gormTx) Cases() domain.CaseRepository           { return &gormCaseRepository{db: t.db} }
func (t gormTx) Satellites() domain.SatelliteRepository { return &gormSatelliteRepository{db: t.db} }
func (t gormTx) Audit() domain.AuditRepository          { return &gormAuditRepository{db: t.db} }

// classify 把驱动错误映射为领域错误，领域错误原样返回
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.WithMessage(domain.ErrReferenceExists, err.Error())
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDuplicateEntry:
			return errors.WithMessage(domain.ErrReferenceExists, me.Message)
		case mysqlDeadlockDetected, mysqlLockWaitTimeout:
			return errors.WithMessage(domain.ErrTransient, me.Message)
		}
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return errors.WithMessage(domain.ErrTransient, err.Error())
	}
	return err
}

type gormCaseRepository struct {
	db *gorm.DB
}

func (r *gormCaseRepository) Create(ctx context.Context, c *domain.Case) error {
	m := fromDomainCase(c)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return classify(errors.Wrapf(err, "insert case %s", c.ReferenceNo))
	}
	return nil
}

func (r *gormCaseRepository) Get(ctx context.Context, id string) (*domain.Case, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *gormCaseRepository) GetByReference(ctx context.Context, referenceNo string) (*domain.Case, error) {
	return r.first(ctx, "reference_no = ?", referenceNo)
}

func (r *gormCaseRepository) first(ctx context.Context, query string, arg any) (*domain.Case, error) {
	var m CaseModel
	err := r.db.WithContext(ctx).Where(query, arg).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCaseNotFound
		}
		return nil, classify(errors.Wrap(err, "query case"))
	}
	return toDomainCase(&m), nil
}

// Update 以 version 作为条件更新，影响行数为 0 说明已被其他单元修改
func (r *gormCaseRepository) Update(ctx context.Context, c *domain.Case) error {
	res := r.db.WithContext(ctx).Model(&CaseModel{}).
		Where("id = ? AND version = ?", c.ID, c.Version).
		Updates(caseColumns(c, c.Version+1))
	if res.Error != nil {
		return classify(errors.Wrapf(res.Error, "update case %s", c.ID))
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := r.db.WithContext(ctx).Model(&CaseModel{}).Where("id = ?", c.ID).Count(&n).Error; err != nil {
			return classify(errors.Wrap(err, "count case"))
		}
		if n == 0 {
			return domain.ErrCaseNotFound
		}
		return domain.ErrConcurrentModification
	}
	c.Version++
	return nil
}

func (r *gormCaseRepository) ListExpired(ctx context.Context, states []domain.State, now time.Time, limit int) ([]*domain.Case, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	q := r.db.WithContext(ctx).
		Where("state IN ? AND deadline_at IS NOT NULL AND deadline_at <= ?", names, now).
		Order("deadline_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []*CaseModel
	err := q.Find(&models).Error
	if err != nil {
		return nil, classify(errors.Wrap(err, "list expired cases"))
	}
	cases := make([]*domain.Case, len(models))
	for i, m := range models {
		cases[i] = toDomainCase(m)
	}
	return cases, nil
}

type gormSatelliteRepository struct {
	db *gorm.DB
}

// upsert 以主键冲突时整行覆盖
func (r *gormSatelliteRepository) upsert(ctx context.Context, model any) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(model).Error
	return classify(err)
}

func (r *gormSatelliteRepository) find(ctx context.Context, caseID string, out any) error {
	err := r.db.WithContext(ctx).Where("case_id = ?", caseID).First(out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrSatelliteNotFound
	}
	return classify(err)
}

func (r *gormSatelliteRepository) GetRefund(ctx context.Context, caseID string) (*domain.RefundExecution, error) {
	var m RefundExecutionModel
	if err := r.find(ctx, caseID, &m); err != nil {
		return nil, err
	}
	return toDomainRefund(&m), nil
}

func (r *gormSatelliteRepository) SaveRefund(ctx context.Context, e *domain.RefundExecution) error {
	return r.upsert(ctx, fromDomainRefund(e))
}

func (r *gormSatelliteRepository) GetReturnShipment(ctx context.Context, caseID string) (*domain.ReturnShipment, error) {
	var m ReturnShipmentModel
	if err := r.find(ctx, caseID, &m); err != nil {
		return nil, err
	}
	return toDomainReturnShipment(&m), nil
}

func (r *gormSatelliteRepository) SaveReturnShipment(ctx context.Context, s *domain.ReturnShipment) error {
	return r.upsert(ctx, fromDomainReturnShipment(s))
}

func (r *gormSatelliteRepository) GetExchangeShipment(ctx context.Context, caseID string) (*domain.ExchangeShipment, error) {
	var m ExchangeShipmentModel
	if err := r.find(ctx, caseID, &m); err != nil {
		return nil, err
	}
	return toDomainExchangeShipment(&m), nil
}

func (r *gormSatelliteRepository) SaveExchangeShipment(ctx context.Context, s *domain.ExchangeShipment) error {
	return r.upsert(ctx, fromDomainExchangeShipment(s))
}

type gormAuditRepository struct {
	db *gorm.DB
}

func (r *gormAuditRepository) Append(ctx context.Context, e *domain.AuditEntry) error {
	if err := r.db.WithContext(ctx).Create(fromDomainAudit(e)).Error; err != nil {
		return classify(errors.Wrap(err, "append audit entry"))
	}
	return nil
}

func (r *gormAuditRepository) ListByCase(ctx context.Context, caseID string) ([]*domain.AuditEntry, error) {
	var models []*AuditEntryModel
	err := r.db.WithContext(ctx).Where("case_id = ?", caseID).Order("created_at ASC").Find(&models).Error
	if err != nil {
		return nil, classify(errors.Wrap(err, "list audit entries"))
	}
	entries := make([]*domain.AuditEntry, len(models))
	for i, m := range models {
		entries[i] = toDomainAudit(m)
	}
	return entries, nil
}

// PurgeBefore 保留策略是审计日志唯一的删除入口
func (r *gormAuditRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&AuditEntryModel{})
	if res.Error != nil {
		return 0, classify(errors.Wrap(res.Error, "purge audit entries"))
	}
	return res.RowsAffected, nil
}
