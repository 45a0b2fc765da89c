// internal/service/aftersale/application/policy.go
package application

import (
	"fmt"
	"time"

	"aftersale/internal/service/aftersale/domain"
)

// ApprovalTimeoutPolicy 待审核超时后的处理方式
type ApprovalTimeoutPolicy string

const (
	ApprovalTimeoutApprove ApprovalTimeoutPolicy = "approve" // 超时自动通过
	ApprovalTimeoutFlag    ApprovalTimeoutPolicy = "flag"    // 只标记待人工复核
)

// DefaultApprovalExpression 商家责任直接通过，不想要了的小额申请通过
const DefaultApprovalExpression = `reason_category == "MERCHANT_RESPONSIBILITY" || (reason_category == "NO_LONGER_WANTED" && amount <= threshold)`

type AutoApprovalPolicy struct {
	Enabled    bool    `yaml:"enabled"`
	Expression string  `yaml:"expression"`
	Threshold  float64 `yaml:"threshold"`
}

type TimeoutPolicy struct {
	ApprovalPolicy ApprovalTimeoutPolicy `yaml:"approval_policy"`
}

type SweepPolicy struct {
	Spec        string        `yaml:"spec"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
	ClaimTTL    time.Duration `yaml:"claim_ttl"`
	// Claimer 可选 redis / zookeeper / none
	Claimer string `yaml:"claimer"`
}

type UnitPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

type AuditRetentionPolicy struct {
	Retention time.Duration `yaml:"retention"` // 0 表示永久保留
	Spec      string        `yaml:"spec"`
}

// Policy 汇总售后服务的全部可配置策略，构造时显式传入
type Policy struct {
	Deadlines      domain.DeadlinePolicy `yaml:"deadlines"`
	AutoApproval   AutoApprovalPolicy    `yaml:"auto_approval"`
	Timeout        TimeoutPolicy         `yaml:"timeout"`
	Sweep          SweepPolicy           `yaml:"sweep"`
	Unit           UnitPolicy            `yaml:"unit"`
	AuditRetention AuditRetentionPolicy  `yaml:"audit_retention"`
	OMS            OMSDictionary         `yaml:"oms"`
}

func DefaultPolicy() Policy {
	return Policy{
		Deadlines: domain.DefaultDeadlinePolicy(),
		AutoApproval: AutoApprovalPolicy{
			Enabled:    true,
			Expression: DefaultApprovalExpression,
			Threshold:  200,
		},
		Timeout: TimeoutPolicy{ApprovalPolicy: ApprovalTimeoutApprove},
		Sweep: SweepPolicy{
			Spec:        "@every 1m",
			BatchSize:   200,
			Concurrency: 8,
			ClaimTTL:    30 * time.Second,
			Claimer:     "redis",
		},
		Unit: UnitPolicy{MaxAttempts: 5, Backoff: 20 * time.Millisecond},
		AuditRetention: AuditRetentionPolicy{
			Retention: 365 * 24 * time.Hour,
			Spec:      "@daily",
		},
		OMS: DefaultOMSDictionary(),
	}
}

// Validate 启动时检查配置，非法配置直接拒绝启动
func (p Policy) Validate() error {
	switch p.Timeout.ApprovalPolicy {
	case ApprovalTimeoutApprove, ApprovalTimeoutFlag:
	default:
		return fmt.Errorf("unknown approval timeout policy %q", p.Timeout.ApprovalPolicy)
	}
	if p.Unit.MaxAttempts <= 0 {
		return fmt.Errorf("unit max_attempts must be positive, got %d", p.Unit.MaxAttempts)
	}
	if p.Sweep.BatchSize <= 0 || p.Sweep.Concurrency <= 0 {
		return fmt.Errorf("sweep batch_size and concurrency must be positive")
	}
	if p.AutoApproval.Threshold < 0 {
		return fmt.Errorf("auto approval threshold must not be negative")
	}
	return p.OMS.Validate()
}
