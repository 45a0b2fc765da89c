package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aftersale/internal/pkg/logger"
	"aftersale/internal/service/aftersale/domain/port"
	"aftersale/internal/zookeeper"
)

// ClaimZKAdapter 是 port.CaseClaimer 的 ZooKeeper 实现。
// 临时节点随会话消失，不需要 ttl。
type ClaimZKAdapter struct {
	conn *zookeeper.Conn
	root string
}

func NewClaimZKAdapter(conn *zookeeper.Conn, root string) *ClaimZKAdapter {
	if root == "" {
		root = zookeeper.DefaultLockRoot
	}
	return &ClaimZKAdapter{conn: conn, root: root}
}

func (a *ClaimZKAdapter) Claim(ctx context.Context, caseID string, _ time.Duration) (port.ReleaseFunc, bool, error) {
	lock, err := zookeeper.NewDistributedLock(a.conn, a.root, "case-"+caseID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to prepare lock for case %s: %w", caseID, err)
	}
	ok, err := lock.TryLock()
	if err != nil || !ok {
		return nil, false, err
	}
	var once sync.Once
	release := func(ctx context.Context) {
		once.Do(func() {
			if err := lock.Unlock(); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("case_id", caseID).Msg("⚠️ Failed to release zookeeper claim")
			}
		})
	}
	return release, true, nil
}

// NopClaimer 单实例部署时使用，总是认领成功
type NopClaimer struct{}

func (NopClaimer) Claim(context.Context, string, time.Duration) (port.ReleaseFunc, bool, error) {
	return func(context.Context) {}, true, nil
}
