// cmd/aftersale-service/main.go
package main

import (
	"context"
	"os"

	"aftersale/internal/pkg/bootstrap"
	"aftersale/internal/pkg/logger"
	"aftersale/internal/pkg/mq"
	"aftersale/internal/service/aftersale"
	"aftersale/internal/service/aftersale/interfaces"
)

const (
	serviceName = "aftersale-service"
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	rt, err := bootstrap.Init(serviceName)
	if err != nil {
		logger.Error().Err(err).Msg("❌ Failed to initialize runtime")
		os.Exit(1)
	}

	comps, err := aftersale.Build(context.Background(), rt, aftersale.Options{
		KafkaEvents: true,
		EventStream: true,
		Claimer:     true,
	})
	if err != nil {
		logger.Error().Err(err).Msg("❌ Failed to build aftersale components")
		os.Exit(1)
	}

	brokers := rt.Config.Infra.Kafka.Brokers
	dltWriter := mq.NewKafkaWriter(brokers, interfaces.OMSEventDLTTopic)
	omsReader := mq.NewKafkaReader(brokers, interfaces.OMSEventTopic, interfaces.OMSConsumerGroup)
	dltReader := mq.NewKafkaReader(brokers, interfaces.OMSEventDLTTopic, interfaces.OMSConsumerGroup+"-dlt")

	failures := mq.NewFailureHandler(dltWriter, interfaces.OMSEventDLTTopic, interfaces.OMSRetryPolicy())
	omsConsumer := interfaces.NewOMSConsumerAdapter(omsReader, comps.Reconciler, failures)
	dltConsumer := interfaces.NewDltConsumerAdapter(dltReader)

	err = bootstrap.StartService(rt, bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        rt.Config.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.NewCaseHandler(comps.Service, comps.Reconciler, comps.Stream).RegisterRoutes(appCtx.Mux)
		},
		Middleware: interfaces.Instrument,
		Runners: []func(ctx context.Context) error{
			omsConsumer.Run,
			dltConsumer.Run,
			comps.RunScheduler,
		},
		OnShutdown: []func(ctx context.Context){
			func(context.Context) { comps.Close() },
			func(context.Context) { _ = dltWriter.Close() },
			omsConsumer.Stop,
			dltConsumer.Stop,
		},
	})
	if err != nil {
		logger.Error().Err(err).Msg("❌ Service exited with error")
		os.Exit(1)
	}
}
