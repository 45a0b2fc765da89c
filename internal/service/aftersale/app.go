// internal/service/aftersale/app.go
package aftersale

import (
	"context"
	"fmt"
	"time"

	"aftersale/internal/pkg/bootstrap"
	"aftersale/internal/pkg/httpclient"
	"aftersale/internal/pkg/idgen"
	"aftersale/internal/pkg/logger"
	"aftersale/internal/pkg/mq"
	"aftersale/internal/pkg/redis"
	"aftersale/internal/pkg/scheduler"
	"aftersale/internal/service/aftersale/application"
	"aftersale/internal/service/aftersale/domain"
	"aftersale/internal/service/aftersale/domain/port"
	"aftersale/internal/service/aftersale/infrastructure"
	"aftersale/internal/service/aftersale/infrastructure/adapter"
	"aftersale/internal/service/aftersale/infrastructure/rule"
	"aftersale/internal/service/aftersale/interfaces"
	"aftersale/internal/zookeeper"

	"gorm.io/gorm"
)

// referencePrefix 本地申请的售后单号前缀
const referencePrefix = "AS"

// ServiceConfig 是配置文件 service 节点的结构
type ServiceConfig struct {
	application.Policy `yaml:",inline"`
	// Endpoints 未启用 Nacos 时下游服务的固定地址
	Endpoints map[string]string `yaml:"endpoints"`
}

// LoadServiceConfig 在默认策略之上叠加配置文件，并在启动前校验
func LoadServiceConfig(cfg *bootstrap.Config) (ServiceConfig, error) {
	sc := ServiceConfig{
		Policy: application.DefaultPolicy(),
		Endpoints: map[string]string{
			adapter.CatalogService: "http://localhost:8091",
			adapter.UserService:    "http://localhost:8092",
			adapter.PaymentService: "http://localhost:8093",
		},
	}
	if err := cfg.DecodeService(&sc); err != nil {
		return sc, err
	}
	if err := sc.Policy.Validate(); err != nil {
		return sc, fmt.Errorf("invalid aftersale policy: %w", err)
	}
	return sc, nil
}

// Options 决定组装哪些可选组件
type Options struct {
	KafkaEvents bool // 领域事件发布到 Kafka
	EventStream bool // WebSocket 推送
	Claimer     bool // 超时扫描的多实例认领
}

// Components 是组装好的售后服务组件
type Components struct {
	Config     ServiceConfig
	DB         *gorm.DB
	Store      domain.Store
	Service    *application.CaseService
	Reconciler *application.Reconciler
	Sweeper    *application.Sweeper
	Stream     *interfaces.EventStream

	closers []func()
}

// Build 是售后服务的组装根: 创建并连接所有依赖项
func Build(ctx context.Context, rt *bootstrap.Runtime, opts Options) (*Components, error) {
	sc, err := LoadServiceConfig(rt.Config)
	if err != nil {
		return nil, err
	}
	c := &Components{Config: sc}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	infra := rt.Config.Infra
	if c.DB, err = infrastructure.OpenMySQL(ctx, infra.MySQL); err != nil {
		return nil, err
	}
	if sqlDB, err := c.DB.DB(); err == nil {
		c.closers = append(c.closers, func() { _ = sqlDB.Close() })
	}
	c.Store = infrastructure.NewGormStore(c.DB)

	var resolver httpclient.Resolver = httpclient.StaticResolver(sc.Endpoints)
	if rt.Nacos != nil {
		resolver = httpclient.DiscoveryResolver{Discoverer: rt.Nacos, Fallback: sc.Endpoints}
	}
	client := httpclient.NewClient(rt.Tracer, resolver)

	var publishers adapter.MultiPublisher
	if opts.KafkaEvents {
		writer := mq.NewKafkaWriter(infra.Kafka.Brokers, adapter.CaseEventTopic)
		c.closers = append(c.closers, func() { _ = writer.Close() })
		publishers = append(publishers, adapter.NewCaseEventKafkaAdapter(writer))
	}
	if opts.EventStream {
		c.Stream = interfaces.NewEventStream()
		publishers = append(publishers, c.Stream)
	}

	var approval application.ApprovalRule
	if sc.AutoApproval.Enabled {
		if approval, err = rule.NewCELApprovalRule(sc.AutoApproval.Expression); err != nil {
			return nil, err
		}
	}

	nodeID := rt.Config.App.NodeID
	if nodeID < 0 {
		nodeID = idgen.NodeIDFromHost()
	}
	refs, err := idgen.New(referencePrefix, nodeID)
	if err != nil {
		return nil, err
	}

	deps := application.Dependencies{
		Store:      c.Store,
		Catalog:    adapter.NewCatalogHTTPAdapter(client),
		Users:      adapter.NewUserHTTPAdapter(client),
		Validator:  adapter.NewPlaygroundValidator(),
		Publisher:  publishers,
		Refunds:    adapter.NewRefundHTTPAdapter(client),
		Approval:   approval,
		References: refs,
		Tracer:     rt.Tracer,
	}
	c.Service = application.NewCaseService(deps, sc.Policy)
	c.Reconciler = application.NewReconciler(deps, sc.Policy)

	var claimer port.CaseClaimer = adapter.NopClaimer{}
	if opts.Claimer {
		if claimer, err = c.buildClaimer(infra, sc.Sweep.Claimer); err != nil {
			return nil, err
		}
	}
	c.Sweeper = application.NewSweeper(deps, claimer, sc.Policy)

	ok = true
	return c, nil
}

func (c *Components) buildClaimer(infra bootstrap.InfraConfig, kind string) (port.CaseClaimer, error) {
	switch kind {
	case "redis":
		rc, err := redis.NewClient(infra.Redis.Addrs)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { _ = rc.Close() })
		return adapter.NewClaimRedisAdapter(rc)
	case "zookeeper":
		conn, err := zookeeper.Connect(infra.Zookeeper.Servers, 10*time.Second)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, conn.Close)
		return adapter.NewClaimZKAdapter(conn, zookeeper.DefaultLockRoot), nil
	case "none", "":
		return adapter.NopClaimer{}, nil
	}
	return nil, fmt.Errorf("unknown sweep claimer %q", kind)
}

// RunScheduler 按配置定时执行超时扫描和审计日志清理，ctx 取消后返回
func (c *Components) RunScheduler(ctx context.Context) error {
	s := scheduler.New(5 * time.Minute)
	if err := s.AddTask(c.Config.Sweep.Spec, c.Sweeper); err != nil {
		return err
	}
	if c.Config.AuditRetention.Retention > 0 && c.Config.AuditRetention.Spec != "" {
		purge := scheduler.TaskFunc{TaskName: "audit-retention", Fn: func(ctx context.Context) error {
			_, err := c.Service.PurgeAudit(ctx, c.Config.AuditRetention.Retention)
			return err
		}}
		if err := s.AddTask(c.Config.AuditRetention.Spec, purge); err != nil {
			return err
		}
	}
	s.Start()
	<-ctx.Done()
	s.Stop()
	return nil
}

// Close 按创建的逆序释放资源
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
	logger.Info().Msg("✅ Aftersale components closed")
}
