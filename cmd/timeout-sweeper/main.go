// cmd/timeout-sweeper/main.go
package main

import (
	"context"
	"net/http"
	"os"

	"aftersale/internal/pkg/bootstrap"
	"aftersale/internal/pkg/logger"
	"aftersale/internal/service/aftersale"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	serviceName = "aftersale-timeout-sweeper"
)

// 独立部署的超时扫描进程。多副本运行时依赖认领器保证每单只被推进一次。
func main() {
	rt, err := bootstrap.Init(serviceName)
	if err != nil {
		logger.Error().Err(err).Msg("❌ Failed to initialize runtime")
		os.Exit(1)
	}

	comps, err := aftersale.Build(context.Background(), rt, aftersale.Options{
		KafkaEvents: true,
		Claimer:     true,
	})
	if err != nil {
		logger.Error().Err(err).Msg("❌ Failed to build aftersale components")
		os.Exit(1)
	}

	err = bootstrap.StartService(rt, bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        rt.Config.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("GET /metrics", promhttp.Handler())
		},
		Runners:    []func(ctx context.Context) error{comps.RunScheduler},
		OnShutdown: []func(ctx context.Context){func(context.Context) { comps.Close() }},
	})
	if err != nil {
		logger.Error().Err(err).Msg("❌ Sweeper exited with error")
		os.Exit(1)
	}
}
