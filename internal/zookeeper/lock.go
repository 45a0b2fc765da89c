// internal/zookeeper/lock.go
package zookeeper

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-zookeeper/zk"
)

// DefaultLockRoot 所有分布式锁的根节点
const DefaultLockRoot = "/aftersale/locks"

// ErrNotLocked 在未持有锁时释放
var ErrNotLocked = errors.New("no lock to unlock")

// DistributedLock 基于临时顺序节点的分布式锁
type DistributedLock struct {
	conn     *Conn
	path     string // 例如 /aftersale/locks/case-123
	lockNode string // 获取锁后自己创建的节点
}

// NewDistributedLock 为 resourceID 创建锁对象，必要时创建父节点
func NewDistributedLock(conn *Conn, root, resourceID string) (*DistributedLock, error) {
	if root == "" {
		root = DefaultLockRoot
	}
	lockPath := strings.TrimRight(root, "/") + "/" + resourceID
	if err := conn.ensurePath(lockPath); err != nil {
		return nil, err
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

func (l *DistributedLock) createNode() (string, error) {
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return "", fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath
	return nodePath, nil
}

// sortedChildren 按序号排序。受保护节点名带有 GUID 前缀，不能直接按字符串排序
func (l *DistributedLock) sortedChildren() ([]string, error) {
	children, _, err := l.conn.Children(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to get children nodes: %w", err)
	}
	sort.Slice(children, func(i, j int) bool {
		return sequenceOf(children[i]) < sequenceOf(children[j])
	})
	return children, nil
}

func sequenceOf(node string) string {
	if i := strings.LastIndex(node, "lock-"); i >= 0 {
		return node[i+len("lock-"):]
	}
	return node
}

func (l *DistributedLock) myName() string {
	return strings.TrimPrefix(l.lockNode, l.path+"/")
}

// TryLock 不阻塞: 自己是最小节点则持有锁，否则删除自己的节点并返回 false
func (l *DistributedLock) TryLock() (bool, error) {
	if _, err := l.createNode(); err != nil {
		return false, err
	}
	children, err := l.sortedChildren()
	if err != nil {
		_ = l.Unlock()
		return false, err
	}
	if len(children) > 0 && children[0] == l.myName() {
		return true, nil
	}
	return false, l.Unlock()
}

// Unlock 释放锁，节点已不存在时视为成功
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return ErrNotLocked
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}
