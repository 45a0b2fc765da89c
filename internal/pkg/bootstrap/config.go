// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Config 是所有进程共享的配置结构。
// 业务相关的部分放在 Service 节点下，由各服务自行解码。
type Config struct {
	App   AppConfig   `yaml:"app"`
	Infra InfraConfig `yaml:"infra"`

	// Service 保留原始 yaml 节点，避免 bootstrap 依赖具体业务
	Service yaml.Node `yaml:"service"`
}

type AppConfig struct {
	Name      string `yaml:"name"`
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`
	NodeID    int64  `yaml:"node_id"` // 雪花算法节点号，-1 表示由主机名推导
}

type InfraConfig struct {
	Jaeger struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"jaeger"`
	MySQL MySQLConfig `yaml:"mysql"`
	Redis struct {
		Addrs string `yaml:"addrs"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
	} `yaml:"kafka"`
	Zookeeper struct {
		Servers []string `yaml:"servers"`
	} `yaml:"zookeeper"`
	Nacos NacosConfig `yaml:"nacos"`
}

type MySQLConfig struct {
	Addr     string `yaml:"addr"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	MaxOpen  int    `yaml:"max_open"`
	MaxIdle  int    `yaml:"max_idle"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
	// DataID 非空时从配置中心拉取配置并覆盖本地文件
	DataID string `yaml:"data_id"`
}

var currentConfig atomic.Pointer[Config]

// GetCurrentConfig 返回最新生效的配置，配置中心推送后会被替换
func GetCurrentConfig() *Config {
	if c := currentConfig.Load(); c != nil {
		return c
	}
	return DefaultConfig()
}

func setCurrentConfig(c *Config) {
	currentConfig.Store(c)
}

func DefaultConfig() *Config {
	c := &Config{}
	c.App.Name = "aftersale-service"
	c.App.Port = 8080
	c.App.LogLevel = "info"
	c.App.NodeID = -1
	c.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	c.Infra.MySQL.Addr = "localhost:3306"
	c.Infra.MySQL.User = "root"
	c.Infra.MySQL.Database = "aftersale"
	c.Infra.MySQL.MaxOpen = 50
	c.Infra.MySQL.MaxIdle = 10
	c.Infra.Redis.Addrs = "localhost:6379"
	c.Infra.Kafka.Brokers = []string{"localhost:9092"}
	c.Infra.Zookeeper.Servers = []string{"localhost:2181"}
	c.Infra.Nacos.ServerAddrs = "localhost:8848"
	c.Infra.Nacos.Group = "DEFAULT_GROUP"
	return c
}

// LoadConfig 依次应用 默认值 -> yaml 文件 -> 环境变量。path 为空时跳过文件
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	applyEnv(c)
	return c, nil
}

// applyEnv 环境变量优先级最高，便于容器部署
func applyEnv(c *Config) {
	c.App.Name = getEnv("APP_NAME", c.App.Name)
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)
	if port, err := strconv.Atoi(getEnv("APP_PORT", "")); err == nil {
		c.App.Port = port
	}
	if node, err := strconv.ParseInt(getEnv("NODE_ID", ""), 10, 64); err == nil {
		c.App.NodeID = node
	}
	c.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Infra.Jaeger.Endpoint)
	c.Infra.MySQL.Addr = getEnv("MYSQL_ADDR", c.Infra.MySQL.Addr)
	c.Infra.MySQL.User = getEnv("MYSQL_USER", c.Infra.MySQL.User)
	c.Infra.MySQL.Password = getEnv("MYSQL_PASSWORD", c.Infra.MySQL.Password)
	c.Infra.MySQL.Database = getEnv("MYSQL_DATABASE", c.Infra.MySQL.Database)
	c.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", c.Infra.Redis.Addrs)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.Infra.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if servers := getEnv("ZOOKEEPER_SERVERS", ""); servers != "" {
		c.Infra.Zookeeper.Servers = strings.Split(servers, ",")
	}
	if enabled, err := strconv.ParseBool(getEnv("NACOS_ENABLED", "")); err == nil {
		c.Infra.Nacos.Enabled = enabled
	}
	c.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", c.Infra.Nacos.ServerAddrs)
	c.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Infra.Nacos.Namespace)
	c.Infra.Nacos.Group = getEnv("NACOS_GROUP", c.Infra.Nacos.Group)
	c.Infra.Nacos.DataID = getEnv("NACOS_DATA_ID", c.Infra.Nacos.DataID)
}

// DecodeService 把 service 节点解码到 out，out 中已有的默认值会被保留
func (c *Config) DecodeService(out any) error {
	if c.Service.Kind == 0 {
		return nil
	}
	if err := c.Service.Decode(out); err != nil {
		return fmt.Errorf("failed to decode service config: %w", err)
	}
	return nil
}

// overlay 用配置中心的内容覆盖当前配置，返回新的副本
func overlay(base *Config, content string) (*Config, error) {
	next := *base
	if err := yaml.Unmarshal([]byte(content), &next); err != nil {
		return nil, fmt.Errorf("failed to parse remote config: %w", err)
	}
	applyEnv(&next)
	return &next, nil
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
