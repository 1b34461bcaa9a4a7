package main

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Backend names accepted in Config.Backend.
const (
	backendMemory     = "memory"
	backendFilesystem = "filesystem"
	backendRedis      = "kv-redis"
	backendBigCache   = "kv-bigcache"
)

// Config is the CLI configuration. Keys match the field names; every key can
// also be set through MDCACHE_<UPPERCASE KEY>.
type Config struct {
	Backend string
	Dir     string
	Prefix  string

	RedisAddr       string
	RedisDB         int
	BigCacheLimitMB int

	UserAgent     string
	Timeout       time.Duration
	TTL           time.Duration
	CacheFailures bool
	FailureTTL    time.Duration

	LogLevel      string
	LogFilePath   string
	LogMaxSize    int
	LogMaxBackups int
	LogCompress   bool
}

// LoadConfig reads path (optional) and the environment.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MDCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Backend", backendFilesystem)
	v.SetDefault("Dir", ".mdcache")
	v.SetDefault("Prefix", "mdcache:")
	v.SetDefault("RedisAddr", "")
	v.SetDefault("RedisDB", 0)
	v.SetDefault("BigCacheLimitMB", 0)
	v.SetDefault("UserAgent", "mdcache")
	v.SetDefault("Timeout", "10s")
	v.SetDefault("TTL", "24h")
	v.SetDefault("CacheFailures", false)
	v.SetDefault("FailureTTL", "5m")
	v.SetDefault("LogLevel", "warn")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case backendMemory, backendBigCache:
	case backendFilesystem:
		if strings.TrimSpace(c.Dir) == "" {
			errs = append(errs, errors.New("Dir is required for the filesystem backend"))
		}
	case backendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("RedisAddr is required for the kv-redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown Backend %q (want %s, %s, %s or %s)",
			c.Backend, backendMemory, backendFilesystem, backendRedis, backendBigCache))
	}
	for name, d := range map[string]time.Duration{"Timeout": c.Timeout, "TTL": c.TTL, "FailureTTL": c.FailureTTL} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

// durationDecodeHook accepts Go duration strings and plain seconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	target := reflect.TypeOf(time.Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != target {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			v = strings.TrimSpace(v)
			if v == "" {
				return time.Duration(0), nil
			}
			if d, err := time.ParseDuration(v); err == nil {
				return d, nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return time.Duration(seconds * float64(time.Second)), nil
			}
			return nil, fmt.Errorf("invalid duration %q", v)
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case time.Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported duration type %T", v)
		}
	}
}
