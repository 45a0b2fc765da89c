package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aftersale/internal/pkg/logger"
	"aftersale/internal/pkg/redis"
	"aftersale/internal/service/aftersale/domain/port"

	"github.com/google/uuid"
)

const releaseClaimScriptName = "release_claim"

// ClaimRedisAdapter 是 port.CaseClaimer 的 Redis 实现。
// 认领是一个带过期时间的 SET NX，释放时只删除自己持有的值。
type ClaimRedisAdapter struct {
	redisClient *redis.Client
	prefix      string
}

// NewClaimRedisAdapter 创建适配器并加载释放脚本
func NewClaimRedisAdapter(redisClient *redis.Client) (*ClaimRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(releaseClaimScriptName, releaseClaimScript); err != nil {
		return nil, fmt.Errorf("failed to load release claim script: %w", err)
	}
	return &ClaimRedisAdapter{redisClient: redisClient, prefix: "aftersale:sweep:claim:"}, nil
}

func (a *ClaimRedisAdapter) Claim(ctx context.Context, caseID string, ttl time.Duration) (port.ReleaseFunc, bool, error) {
	key := a.prefix + "{" + caseID + "}"
	token := uuid.New().String()
	ok, err := a.redisClient.GetClient().SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim case %s: %w", caseID, err)
	}
	if !ok {
		return nil, false, nil
	}
	var once sync.Once
	release := func(ctx context.Context) {
		once.Do(func() {
			if _, err := a.redisClient.RunScript(ctx, releaseClaimScriptName, []string{key}, token); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("case_id", caseID).Msg("⚠️ Failed to release sweep claim, it will expire")
			}
		})
	}
	return release, true, nil
}

var releaseClaimScript = `
-- KEYS[1]: 认领的 Key, 例如: aftersale:sweep:claim:{case-123}
-- ARGV[1]: 认领时写入的随机令牌

-- 只有令牌一致才删除，避免误删过期后被其他实例重新认领的 Key
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`
