package httpclient

import (
	"context"
	"fmt"
	"strings"
)

// Resolver 把逻辑服务名解析为 base URL
type Resolver interface {
	Resolve(ctx context.Context, service string) (string, error)
}

// StaticResolver 服务名到地址的静态映射，服务名本身是 URL 时直接使用
type StaticResolver map[string]string

func (r StaticResolver) Resolve(_ context.Context, service string) (string, error) {
	if base, ok := r[service]; ok {
		return base, nil
	}
	if strings.HasPrefix(service, "http://") || strings.HasPrefix(service, "https://") {
		return service, nil
	}
	return "", fmt.Errorf("no address configured for service %s", service)
}

// Discoverer 是 nacos.Client 的服务发现能力
type Discoverer interface {
	DiscoverServiceInstance(serviceName string) (string, int, error)
}

// DiscoveryResolver 每次请求都从注册中心选取一个健康实例
type DiscoveryResolver struct {
	Discoverer Discoverer
	Fallback   StaticResolver
}

func (r DiscoveryResolver) Resolve(ctx context.Context, service string) (string, error) {
	if base, ok := r.Fallback[service]; ok {
		return base, nil
	}
	ip, port, err := r.Discoverer.DiscoverServiceInstance(service)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://%s:%d", ip, port), nil
}
