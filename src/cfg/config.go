package cfg

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// Config is the process-level configuration for the storage core: buffer
// pool sizing, the replacer's K, page size, the data file location, and the
// deadlock detector's tick interval.
type Config struct {
	Environment Environment `mapstructure:"ENVIRONMENT"`

	BufferPoolSize   int    `mapstructure:"BUFFER_POOL_SIZE"`
	ReplacerK        int    `mapstructure:"REPLACER_K"`
	PageSize         int    `mapstructure:"PAGE_SIZE"`
	DataFile         string `mapstructure:"DATA_FILE"`
	DetectorTickMS   int    `mapstructure:"DETECTOR_TICK_MS"`
	ShardedPoolCount int    `mapstructure:"SHARDED_POOL_COUNT"`
}

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"

	DefaultEnv = EnvDev
)

type Environment string

func (e Environment) Validate() error {
	if e != EnvDev && e != EnvProd {
		return errors.New("environment must be either dev or prod")
	}
	return nil
}

// Load reads configuration from an optional file named .env in the
// directory path. Environment variables prefixed RELCORE_ override the
// file, and defaults fill in anything unset.
func Load(path string) (Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigType("env")
	viper.SetConfigName(".env")
	viper.SetEnvPrefix("RELCORE")
	viper.AutomaticEnv()

	viper.SetDefault("ENVIRONMENT", DefaultEnv)
	viper.SetDefault("BUFFER_POOL_SIZE", 64)
	viper.SetDefault("REPLACER_K", 2)
	viper.SetDefault("PAGE_SIZE", 4096)
	viper.SetDefault("DATA_FILE", "relcore.db")
	viper.SetDefault("DETECTOR_TICK_MS", 50)
	viper.SetDefault("SHARDED_POOL_COUNT", 1)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := c.Environment.Validate(); err != nil {
		return Config{}, fmt.Errorf("environment validation: %w", err)
	}
	if c.BufferPoolSize <= 0 {
		return Config{}, errors.New("buffer pool size must be positive")
	}
	if c.ReplacerK < 1 {
		return Config{}, errors.New("replacer K must be at least 1")
	}

	return c, nil
}
