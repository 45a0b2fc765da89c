// internal/zookeeper/conn.go
package zookeeper

import (
	"fmt"
	"time"

	"aftersale/internal/pkg/logger"

	"github.com/go-zookeeper/zk"
)

// Conn 包装 zk 连接
type Conn struct {
	*zk.Conn
}

// Connect 建立会话并等待首次连接成功
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	c, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper %v: %w", servers, err)
	}
	deadline := time.After(sessionTimeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				logger.Info().Strs("servers", servers).Msg("✅ Connected to ZooKeeper")
				return &Conn{Conn: c}, nil
			}
		case <-deadline:
			c.Close()
			return nil, fmt.Errorf("timed out connecting to zookeeper %v", servers)
		}
	}
}

// ensurePath 逐级创建持久节点
func (c *Conn) ensurePath(path string) error {
	cur := ""
	for _, part := range splitPath(path) {
		cur += "/" + part
		_, err := c.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && err != zk.ErrNodeExists {
			return fmt.Errorf("failed to create node %s: %w", cur, err)
		}
	}
	return nil
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				parts = append(parts, path[start:i])
			}
			start = i + 1
		}
	}
	return parts
}
