package queue

import "time"

// Config holds the queue engine configuration. Fields are populated from
// environment variables via github.com/caarlos0/env; apply with FromConfig.
type Config struct {
	PollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"5s"`
	ClaimBatchSize    int           `env:"QUEUE_CLAIM_BATCH_SIZE" envDefault:"10"`
	MaxConcurrent     int           `env:"QUEUE_MAX_CONCURRENT" envDefault:"10"`
	DefaultMaxRetries int           `env:"QUEUE_DEFAULT_MAX_RETRIES" envDefault:"3"`
	BaseDelay         time.Duration `env:"QUEUE_RETRY_BASE_DELAY" envDefault:"1s"`
	MaxDelay          time.Duration `env:"QUEUE_RETRY_MAX_DELAY" envDefault:"5m"`
}
