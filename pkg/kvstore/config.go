package kvstore

import "time"

// RedisConfig controls ConnectRedis. Fields are populated from environment
// variables via github.com/caarlos0/env.
type RedisConfig struct {
	ConnectionURL  string        `env:"KV_REDIS_URL" envDefault:"redis://localhost:6379/0"` // URL in the format "redis://:password@localhost:6379/0"
	Namespace      string        `env:"KV_REDIS_NAMESPACE" envDefault:"jobkit:"`            // Prefix applied to every key written by the store.
	RetryAttempts  int           `env:"KV_REDIS_RETRY_ATTEMPTS" envDefault:"3"`             // Number of connection attempts before giving up.
	RetryInterval  time.Duration `env:"KV_REDIS_RETRY_INTERVAL" envDefault:"5s"`            // Delay between connection attempts.
	ConnectTimeout time.Duration `env:"KV_REDIS_CONNECT_TIMEOUT" envDefault:"30s"`          // Overall budget for establishing the connection.
}

// PostgresConfig controls ConnectPostgres. Fields are populated from
// environment variables via github.com/caarlos0/env.
type PostgresConfig struct {
	ConnectionString string        `env:"KV_PG_CONN_URL,required"`                     // Connection string to the database.
	MaxOpenConns     int32         `env:"KV_PG_MAX_OPEN_CONNS" envDefault:"10"`        // Maximum number of open connections.
	MaxIdleConns     int32         `env:"KV_PG_MAX_IDLE_CONNS" envDefault:"5"`         // Maximum number of idle connections.
	RetryAttempts    int           `env:"KV_PG_RETRY_ATTEMPTS" envDefault:"3"`         // Number of connection attempts before giving up.
	RetryInterval    time.Duration `env:"KV_PG_RETRY_INTERVAL" envDefault:"5s"`        // Delay between connection attempts.
	ConnectTimeout   time.Duration `env:"KV_PG_CONNECT_TIMEOUT" envDefault:"30s"`      // Overall budget for establishing the connection.
	MigrationsTable  string        `env:"KV_PG_MIGRATIONS_TABLE" envDefault:"kv_schema_migrations"` // Goose bookkeeping table.
}
