package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	dotenvOnce sync.Once

	cacheMu sync.Mutex
	cache   = make(map[reflect.Type]any)
)

// Load fills the configuration struct from environment variables using its
// `env` tags. A .env file in the working directory is loaded once per process
// before the first parse; a missing file is not an error.
//
// Each configuration type is parsed at most once: repeated calls for the same
// type return the cached value, so every component sees identical settings
// regardless of call order.
//
//	type QueueConfig struct {
//		PollInterval time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"5s"`
//		BatchSize    int           `env:"QUEUE_CLAIM_BATCH_SIZE" envDefault:"10"`
//	}
//
//	var cfg QueueConfig
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	dotenvOnce.Do(func() {
		_ = godotenv.Load()
	})

	key := reflect.TypeOf(*v)

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if cached, ok := cache[key]; ok {
		*v = cached.(T)
		return nil
	}

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	cache[key] = *v
	return nil
}

// MustLoad is Load that panics on failure, for configuration the process
// cannot start without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}
