package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("BROKER_DRIVER", "")
	t.Setenv("PRESENCE_OFFLINE_GRACE", "")
	t.Setenv("TYPING_INTERVAL", "")
	t.Setenv("INSTANCE_ID", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.GetAppAddr())
	assert.Equal(t, StoreMemory, cfg.GetStoreDriver())
	assert.Equal(t, BrokerMemory, cfg.GetBrokerDriver())
	assert.Equal(t, 5*time.Second, cfg.GetPresenceOfflineGrace())
	assert.Equal(t, time.Second, cfg.GetTypingInterval())
	assert.NotEmpty(t, cfg.GetInstanceID())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("BROKER_DRIVER", "KAFKA")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("PRESENCE_OFFLINE_GRACE", "0s")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("PUBSUB_TRACING_ENABLED", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, BrokerKafka, cfg.GetBrokerDriver())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.GetKafkaBrokers())
	assert.Zero(t, cfg.GetPresenceOfflineGrace())
	assert.Equal(t, 3, cfg.GetRedisDB())
	assert.True(t, cfg.TracingEnabled)
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing jwt secret", map[string]string{"JWT_SECRET": ""}, "JWT_SECRET"},
		{"bad duration", map[string]string{"TYPING_INTERVAL": "soon"}, "TYPING_INTERVAL"},
		{"unknown store", map[string]string{"STORE_DRIVER": "mongo"}, "STORE_DRIVER"},
		{"surreal needs url", map[string]string{"STORE_DRIVER": "surreal", "SURREAL_URL": ""}, "SURREAL_URL"},
		{"postgres needs url", map[string]string{"STORE_DRIVER": "postgres", "POSTGRES_URL": ""}, "POSTGRES_URL"},
		{"kafka needs brokers", map[string]string{"BROKER_DRIVER": "kafka", "KAFKA_BROKERS": ""}, "KAFKA_BROKERS"},
		{"bad redis db", map[string]string{"REDIS_DB": "x"}, "REDIS_DB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "s3cret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
