package port

import (
	"context"
	"time"
)

// ReleaseFunc 释放认领，可以重复调用
type ReleaseFunc func(ctx context.Context)

// CaseClaimer 是超时扫描的认领端口。
// 多个扫描实例并发时，同一售后单同一时刻只会被一个实例认领。
type CaseClaimer interface {
	// Claim 尝试认领，ok 为 false 表示已被其他实例持有。
	Claim(ctx context.Context, caseID string, ttl time.Duration) (release ReleaseFunc, ok bool, err error)
}
