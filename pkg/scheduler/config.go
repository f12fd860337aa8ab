package scheduler

import "time"

// Config is the environment-derived scheduler configuration.
type Config struct {
	CheckInterval time.Duration `env:"SCHEDULER_CHECK_INTERVAL" envDefault:"1m"`
}
