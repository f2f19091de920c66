package commands

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the resolved CLI configuration.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Store    StoreConfig    `mapstructure:"store"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Resource ResourceConfig `mapstructure:"resource"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	// Level is the minimum log level.
	// Default: info
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error DEBUG INFO WARN ERROR"`

	// Format is the handler format.
	// Default: text
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

// StoreConfig selects the array store behind the in-process service.
type StoreConfig struct {
	// URL is mem, file://<dir> or s3://<bucket>/<prefix>.
	// Default: mem
	URL string `mapstructure:"url" validate:"required"`

	// Codec encodes blocks: msgpack or parquet.
	// Default: msgpack
	Codec string `mapstructure:"codec" validate:"required,oneof=msgpack parquet"`

	// Compressor wraps encoded blocks: none, gzip or zstd.
	// Default: none
	Compressor string `mapstructure:"compressor" validate:"required,oneof=none noop gzip zstd"`

	S3 S3Config `mapstructure:"s3"`
}

// S3Config configures the AWS client used for s3:// stores. Empty fields
// fall back to the default AWS credential and region chain.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `mapstructure:"access_key_id" validate:"required_with=SecretAccessKey"`
	SecretAccessKey string `mapstructure:"secret_access_key" validate:"required_with=AccessKeyID"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// ProxyConfig configures the array writer.
type ProxyConfig struct {
	// MaxArraySize is the payload ceiling, e.g. "4MB" or "64KiB".
	// Default: 4MB
	MaxArraySize string `mapstructure:"max_array_size" validate:"required"`

	// Timeout bounds every blocking wait.
	// Default: 30s
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`

	// SplitPolicy is halve or pack.
	// Default: halve
	SplitPolicy string `mapstructure:"split_policy" validate:"required,oneof=halve pack"`
}

// ResourceConfig names the data object the datasets belong to. When URI is
// empty, write builds one from Dataspace, ObjectType and a fresh UUID.
type ResourceConfig struct {
	URI        string `mapstructure:"uri"`
	Dataspace  string `mapstructure:"dataspace"`
	ObjectType string `mapstructure:"object_type" validate:"required"`
}

// MaxArraySizeBytes parses Proxy.MaxArraySize.
func (c *Config) MaxArraySizeBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.Proxy.MaxArraySize)
	if err != nil {
		return 0, fmt.Errorf("proxy.max_array_size %q: %w", c.Proxy.MaxArraySize, err)
	}
	if n == 0 || n > math.MaxInt64 {
		return 0, fmt.Errorf("proxy.max_array_size %q: out of range", c.Proxy.MaxArraySize)
	}
	return int64(n), nil
}

// -----------------------------------------------------------------------------
// Loading
// -----------------------------------------------------------------------------

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"store":          "store.url",
	"codec":          "store.codec",
	"compressor":     "store.compressor",
	"resource":       "resource.uri",
	"log-level":      "logging.level",
	"log-format":     "logging.format",
	"max-array-size": "proxy.max_array_size",
	"timeout":        "proxy.timeout",
	"policy":         "proxy.split_policy",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("store.url", "mem")
	v.SetDefault("store.codec", "msgpack")
	v.SetDefault("store.compressor", "none")
	v.SetDefault("store.s3.region", "")
	v.SetDefault("store.s3.endpoint", "")
	v.SetDefault("store.s3.access_key_id", "")
	v.SetDefault("store.s3.secret_access_key", "")
	v.SetDefault("store.s3.use_path_style", false)
	v.SetDefault("proxy.max_array_size", "4MB")
	v.SetDefault("proxy.timeout", 30*time.Second)
	v.SetDefault("proxy.split_policy", "halve")
	v.SetDefault("resource.uri", "")
	v.SetDefault("resource.dataspace", "")
	v.SetDefault("resource.object_type", "resqml20.obj_Grid2dRepresentation")
}

// loadConfig resolves the configuration for cmd.
//
// Precedence (highest to lowest):
//  1. Command line flags
//  2. Environment variables (HDFPROXY_*)
//  3. Configuration file (--config)
//  4. Default values
func loadConfig(cmd *cobra.Command, configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// HDFPROXY_PROXY_MAX_ARRAY_SIZE=64KiB
	v.SetEnvPrefix("HDFPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// bindFlags binds every flag in fs that has a configuration key. Flags a
// command does not define are skipped.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if _, err := cfg.MaxArraySizeBytes(); err != nil {
		return err
	}
	return nil
}
