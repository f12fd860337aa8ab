package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	type testCfg struct {
		Interval time.Duration `env:"CONFIG_TEST_INTERVAL" envDefault:"5s"`
		Batch    int           `env:"CONFIG_TEST_BATCH" envDefault:"10"`
		Name     string        `env:"CONFIG_TEST_NAME" envDefault:"worker"`
	}

	var cfg testCfg
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, 5*time.Second, cfg.Interval)
	assert.Equal(t, 10, cfg.Batch)
	assert.Equal(t, "worker", cfg.Name)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("CONFIG_TEST_HOST", "redis.internal")
	t.Setenv("CONFIG_TEST_PORT", "6380")

	type envCfg struct {
		Host string `env:"CONFIG_TEST_HOST" envDefault:"localhost"`
		Port int    `env:"CONFIG_TEST_PORT" envDefault:"6379"`
	}

	var cfg envCfg
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "redis.internal", cfg.Host)
	assert.Equal(t, 6380, cfg.Port)
}

func TestLoad_Required(t *testing.T) {
	type requiredCfg struct {
		Token string `env:"CONFIG_TEST_REQUIRED_TOKEN,required"`
	}

	var cfg requiredCfg
	err := config.Load(&cfg)
	assert.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestLoad_NilPointer(t *testing.T) {
	type anyCfg struct{}
	var cfg *anyCfg
	assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
}

func TestLoad_CachesPerType(t *testing.T) {
	t.Setenv("CONFIG_TEST_CACHED", "first")

	type cachedCfg struct {
		Value string `env:"CONFIG_TEST_CACHED"`
	}

	var first cachedCfg
	require.NoError(t, config.Load(&first))
	assert.Equal(t, "first", first.Value)

	// Later environment changes are invisible to the same type.
	t.Setenv("CONFIG_TEST_CACHED", "second")
	var second cachedCfg
	require.NoError(t, config.Load(&second))
	assert.Equal(t, "first", second.Value)
}

func TestMustLoad_PanicsOnFailure(t *testing.T) {
	type brokenCfg struct {
		Token string `env:"CONFIG_TEST_MUST_TOKEN,required"`
	}

	assert.Panics(t, func() {
		var cfg brokenCfg
		config.MustLoad(&cfg)
	})
}
