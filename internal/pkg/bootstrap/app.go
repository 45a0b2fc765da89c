// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"aftersale/internal/pkg/logger"
	"aftersale/internal/pkg/nacos"
	"aftersale/internal/tracing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ConfigPathEnv 指定配置文件路径的环境变量
const ConfigPathEnv = "AFTERSALE_CONFIG"

// Runtime 持有进程级的公共组件
type Runtime struct {
	Config *Config
	Nacos  *nacos.Client // 未启用 Nacos 时为 nil
	Tracer trace.Tracer

	tp *sdktrace.TracerProvider
}

type AppCtx struct {
	Mux     *http.ServeMux
	Runtime *Runtime
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) // 允许每个服务注册自己独特的 HTTP 路由
	// Middleware 可选，包裹整个 ServeMux
	Middleware func(http.Handler) http.Handler
	// Runners 与 HTTP 服务同生命周期的后台任务，ctx 取消后应尽快返回
	Runners []func(ctx context.Context) error
	// OnShutdown 在 HTTP 服务关闭后按注册的逆序执行
	OnShutdown []func(ctx context.Context)
}

// Init 加载配置、初始化日志/链路追踪，启用时连接 Nacos 并叠加远程配置
func Init(serviceName string) (*Runtime, error) {
	cfg, err := LoadConfig(getEnv(ConfigPathEnv, ""))
	if err != nil {
		return nil, err
	}
	if cfg.App.Name == "" || cfg.App.Name == DefaultConfig().App.Name {
		cfg.App.Name = serviceName
	}
	logger.Init(cfg.App.Name, cfg.App.LogLevel, cfg.App.LogPretty)

	rt := &Runtime{Config: cfg}
	if cfg.Infra.Nacos.Enabled {
		rt.Nacos, err = nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize nacos client: %w", err)
		}
		if dataID := cfg.Infra.Nacos.DataID; dataID != "" {
			if err := rt.loadRemoteConfig(dataID); err != nil {
				return nil, err
			}
		}
	}
	setCurrentConfig(rt.Config)

	rt.tp, err = tracing.InitTracerProvider(cfg.App.Name, rt.Config.Infra.Jaeger.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer provider: %w", err)
	}
	rt.Tracer = otel.Tracer(cfg.App.Name)
	return rt, nil
}

func (rt *Runtime) loadRemoteConfig(dataID string) error {
	content, err := rt.Nacos.GetConfig(dataID)
	if err != nil {
		return err
	}
	if content != "" {
		next, err := overlay(rt.Config, content)
		if err != nil {
			return err
		}
		rt.Config = next
	}
	base := rt.Config
	return rt.Nacos.ListenConfig(dataID, func(content string) {
		next, err := overlay(base, content)
		if err != nil {
			logger.Error().Err(err).Str("data_id", dataID).Msg("❌ Ignoring invalid remote config")
			return
		}
		setCurrentConfig(next)
		logger.Info().Str("data_id", dataID).Msg("🔄 Remote config reloaded")
	})
}

// Shutdown 刷新链路数据并关闭 Nacos 连接
func (rt *Runtime) Shutdown(ctx context.Context) {
	if rt.Nacos != nil {
		rt.Nacos.Close()
	}
	if rt.tp != nil {
		if err := rt.tp.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Error shutting down tracer provider")
		}
	}
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑，收到退出信号后返回。
func StartService(rt *Runtime, info AppInfo) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Runtime: rt})
	}
	var handler http.Handler = mux
	if info.Middleware != nil {
		handler = info.Middleware(mux)
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: handler}

	var ip string
	if rt.Nacos != nil {
		var err error
		if ip, err = outboundIP(); err != nil {
			return fmt.Errorf("failed to get outbound IP address: %w", err)
		}
		if err := rt.Nacos.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("✅ HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not listen on %s: %w", server.Addr, err)
		}
		return nil
	})
	for _, run := range info.Runners {
		run := run
		g.Go(func() error { return run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Str("service", info.ServiceName).Msg("🛑 Shutting down service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if rt.Nacos != nil {
			if err := rt.Nacos.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
				logger.Error().Err(err).Msg("Error deregistering from Nacos")
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error shutting down http server")
		}
		for i := len(info.OnShutdown) - 1; i >= 0; i-- {
			info.OnShutdown[i](shutdownCtx)
		}
		rt.Shutdown(shutdownCtx)
		return nil
	})

	err := g.Wait()
	logger.Info().Str("service", info.ServiceName).Msg("Service gracefully shut down.")
	return err
}

// outboundIP 通过一次 UDP "连接" 取得本机对外的地址
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
