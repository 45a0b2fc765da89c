// internal/pkg/idgen/idgen.go
package idgen

import (
	"fmt"
	"hash/fnv"
	"os"

	"github.com/bwmarrin/snowflake"
)

// Generator 生成带业务前缀的全局唯一单号
type Generator struct {
	node   *snowflake.Node
	prefix string
}

// New nodeID 取值 0-1023，多实例部署时必须互不相同
func New(prefix string, nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node, prefix: prefix}, nil
}

// NodeIDFromHost 未显式配置节点号时，用主机名哈希推导一个
func NodeIDFromHost() int64 {
	host, _ := os.Hostname()
	h := fnv.New32a()
	_, _ = h.Write([]byte(host))
	return int64(h.Sum32() % 1024)
}

func (g *Generator) Next() string {
	return g.prefix + g.node.Generate().String()
}
