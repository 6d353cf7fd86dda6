package pubsub

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/nfrund/roomchat/internal/config"
)

// TracingConfigFrom extracts the tracing settings from the application config.
func TracingConfigFrom(cfg *config.Config) TracingConfig {
	tc := DefaultTracingConfig()
	tc.Enabled = cfg.TracingEnabled
	tc.InstanceID = cfg.InstanceID
	if cfg.TracingServiceName != "" {
		tc.ServiceName = cfg.TracingServiceName
	}
	if cfg.TracingZipkinURL != "" {
		tc.ZipkinURL = cfg.TracingZipkinURL
	}
	return tc
}

// NewBroker builds the cross-instance broker selected by BROKER_DRIVER.
// The memory driver only reaches subscribers in this process.
func NewBroker(ctx context.Context, cfg config.Provider, tracer trace.Tracer) (Broker, error) {
	switch cfg.GetBrokerDriver() {
	case config.BrokerMemory, "":
		return NewWatermillBridgeWithTracer(tracer), nil
	case config.BrokerRedis:
		return NewRedisBroker(ctx, RedisConfig{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
			DB:       cfg.GetRedisDB(),
		})
	case config.BrokerKafka:
		return NewKafkaBroker(KafkaConfig{
			Brokers:    cfg.GetKafkaBrokers(),
			Topic:      cfg.GetKafkaTopic(),
			InstanceID: cfg.GetInstanceID(),
		})
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.GetBrokerDriver())
	}
}
