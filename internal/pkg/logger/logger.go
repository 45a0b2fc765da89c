// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger 是进程级的基础日志器，各服务在 main 中通过 Init 设置服务名和级别
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 初始化全局日志器。level 取值 debug/info/warn/error，pretty 为 true 时输出可读格式
func Init(serviceName, level string, pretty bool) {
	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	Logger = zerolog.New(w).With().Timestamp().Str("service", serviceName).Logger()
}

// Ctx 返回带有 trace_id/span_id 的日志器。
// ctx 中已有通过 WithContext 绑定的日志器时优先使用它。
func Ctx(ctx context.Context) *zerolog.Logger {
	l := Logger
	if bound := zerolog.Ctx(ctx); bound.GetLevel() != zerolog.Disabled {
		l = *bound
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		l = l.With().Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String()).Logger()
	}
	return &l
}

// WithContext 把全局日志器绑定到 ctx 上
func WithContext(ctx context.Context) context.Context {
	return Logger.WithContext(ctx)
}

func Info() *zerolog.Event {
	return Logger.Info()
}

func Warn() *zerolog.Event {
	return Logger.Warn()
}

func Error() *zerolog.Event {
	return Logger.Error()
}
