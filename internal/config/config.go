package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/pictureloader/pictureloader/pkg/errors"
	"github.com/pictureloader/pictureloader/pkg/utils"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global      GlobalConfig      `yaml:"global"`
	MemoryCache MemoryCacheConfig `yaml:"memory_cache"`
	DiskCache   DiskCacheConfig   `yaml:"disk_cache"`
	Dispatcher  DispatcherConfig  `yaml:"dispatcher"`
	Network     NetworkConfig     `yaml:"network"`
	Decode      DecodeConfig      `yaml:"decode"`
	S3          S3Config          `yaml:"s3"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	LogFile        string `yaml:"log_file"`
	MetricsAddress string `yaml:"metrics_address"`
}

// MemoryCacheConfig sizes the decoded picture cache. With MaxSize empty the
// capacity is HeapBudget (or the runtime memory limit) divided by Divisor.
type MemoryCacheConfig struct {
	MaxSize    string `yaml:"max_size"`
	HeapBudget string `yaml:"heap_budget"`
	Divisor    int    `yaml:"divisor"`
}

// DiskCacheConfig represents the persistent cache settings
type DiskCacheConfig struct {
	Enabled             bool   `yaml:"enabled"`
	Directory           string `yaml:"directory"`
	MaxSize             string `yaml:"max_size"`
	AppVersion          int    `yaml:"app_version"`
	CompactionThreshold int    `yaml:"compaction_threshold"`
}

// DispatcherConfig sizes the worker pool; zero means derive from the CPU count.
type DispatcherConfig struct {
	CoreWorkers int           `yaml:"core_workers"`
	MaxWorkers  int           `yaml:"max_workers"`
	KeepAlive   time.Duration `yaml:"keep_alive"`
}

// NetworkConfig represents network configuration
type NetworkConfig struct {
	Timeouts     TimeoutConfig `yaml:"timeouts"`
	UserAgent    string        `yaml:"user_agent"`
	IOBufferSize string        `yaml:"io_buffer_size"`
}

// TimeoutConfig represents timeout settings
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Read    time.Duration `yaml:"read"`
}

// DecodeConfig bounds decoding. Pictures whose header declares more than
// MaxPixels pixels are rejected before the raster is allocated; 0 disables
// the check.
type DecodeConfig struct {
	MaxPixels int64 `yaml:"max_pixels"`
}

// S3Config enables s3:// locators.
type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	MaxRetries      int    `yaml:"max_retries"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Path         string            `yaml:"path"`
	Namespace    string            `yaml:"namespace"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:       "INFO",
			LogFormat:      "text",
			LogFile:        "",
			MetricsAddress: "",
		},
		MemoryCache: MemoryCacheConfig{
			MaxSize:    "",
			HeapBudget: "",
			Divisor:    8,
		},
		DiskCache: DiskCacheConfig{
			Enabled:             true,
			Directory:           "",
			MaxSize:             "50MB",
			AppVersion:          1,
			CompactionThreshold: 2000,
		},
		Dispatcher: DispatcherConfig{
			KeepAlive: 10 * time.Second,
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Connect: 15 * time.Second,
				Read:    10 * time.Second,
			},
			UserAgent:    "pictureloader/1.0",
			IOBufferSize: "8KB",
		},
		Decode: DecodeConfig{
			MaxPixels: 64 * 1024 * 1024,
		},
		S3: S3Config{
			Enabled:    false,
			Region:     "us-east-1",
			MaxRetries: 3,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Path:      "/metrics",
				Namespace: "pictureloader",
				CustomLabels: map[string]string{
					"service": "pictureloader",
				},
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithContext("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from PICTURELOADER_* environment variables.
// Unparsable numeric values are ignored.
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("PICTURELOADER_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("PICTURELOADER_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("PICTURELOADER_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("PICTURELOADER_METRICS_ADDRESS"); val != "" {
		c.Global.MetricsAddress = val
	}

	// Cache settings
	if val := os.Getenv("PICTURELOADER_MEMORY_CACHE_SIZE"); val != "" {
		c.MemoryCache.MaxSize = val
	}
	if val := os.Getenv("PICTURELOADER_HEAP_BUDGET"); val != "" {
		c.MemoryCache.HeapBudget = val
	}
	if val := os.Getenv("PICTURELOADER_DISK_CACHE_ENABLED"); val != "" {
		c.DiskCache.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("PICTURELOADER_DISK_CACHE_DIR"); val != "" {
		c.DiskCache.Directory = val
	}
	if val := os.Getenv("PICTURELOADER_DISK_CACHE_SIZE"); val != "" {
		c.DiskCache.MaxSize = val
	}
	if val := os.Getenv("PICTURELOADER_APP_VERSION"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.DiskCache.AppVersion = v
		}
	}

	// Dispatcher settings
	if val := os.Getenv("PICTURELOADER_CORE_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Dispatcher.CoreWorkers = n
		}
	}
	if val := os.Getenv("PICTURELOADER_MAX_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Dispatcher.MaxWorkers = n
		}
	}
	if val := os.Getenv("PICTURELOADER_KEEP_ALIVE"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Dispatcher.KeepAlive = d
		}
	}

	// Network settings
	if val := os.Getenv("PICTURELOADER_CONNECT_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Network.Timeouts.Connect = d
		}
	}
	if val := os.Getenv("PICTURELOADER_READ_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Network.Timeouts.Read = d
		}
	}
	if val := os.Getenv("PICTURELOADER_USER_AGENT"); val != "" {
		c.Network.UserAgent = val
	}

	if val := os.Getenv("PICTURELOADER_MAX_PIXELS"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Decode.MaxPixels = n
		}
	}

	// S3 settings
	if val := os.Getenv("PICTURELOADER_S3_ENABLED"); val != "" {
		c.S3.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("PICTURELOADER_S3_REGION"); val != "" {
		c.S3.Region = val
	}
	if val := os.Getenv("PICTURELOADER_S3_ENDPOINT"); val != "" {
		c.S3.Endpoint = val
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to create config directory")
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to write config file").
			WithContext("file", filename)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("global.log_level", "invalid log_level: %s (must be one of: DEBUG, INFO, WARN, ERROR)", c.Global.LogLevel)
	}

	switch strings.ToLower(c.Global.LogFormat) {
	case "", "text", "json":
	default:
		return invalid("global.log_format", "log_format must be text or json, got %s", c.Global.LogFormat)
	}

	if c.MemoryCache.MaxSize != "" {
		if n, err := utils.ParseBytes(c.MemoryCache.MaxSize); err != nil || n <= 0 {
			return invalid("memory_cache.max_size", "invalid memory_cache.max_size: %s", c.MemoryCache.MaxSize)
		}
	}
	if c.MemoryCache.HeapBudget != "" {
		if n, err := utils.ParseBytes(c.MemoryCache.HeapBudget); err != nil || n <= 0 {
			return invalid("memory_cache.heap_budget", "invalid memory_cache.heap_budget: %s", c.MemoryCache.HeapBudget)
		}
	}
	if c.MemoryCache.Divisor <= 0 {
		return invalid("memory_cache.divisor", "divisor must be greater than 0")
	}

	if c.DiskCache.Enabled {
		if n, err := utils.ParseBytes(c.DiskCache.MaxSize); err != nil || n <= 0 {
			return invalid("disk_cache.max_size", "invalid disk_cache.max_size: %s", c.DiskCache.MaxSize)
		}
	}

	if c.Dispatcher.CoreWorkers < 0 || c.Dispatcher.MaxWorkers < 0 {
		return invalid("dispatcher", "worker counts cannot be negative")
	}
	if c.Dispatcher.MaxWorkers > 0 && c.Dispatcher.MaxWorkers < c.Dispatcher.CoreWorkers {
		return invalid("dispatcher.max_workers", "max_workers must not be below core_workers")
	}

	if c.Network.Timeouts.Connect < 0 || c.Network.Timeouts.Read < 0 {
		return invalid("network.timeouts", "timeouts cannot be negative")
	}
	if c.Network.IOBufferSize != "" {
		if n, err := utils.ParseBytes(c.Network.IOBufferSize); err != nil || n <= 0 {
			return invalid("network.io_buffer_size", "invalid network.io_buffer_size: %s", c.Network.IOBufferSize)
		}
	}

	if c.Decode.MaxPixels < 0 {
		return invalid("decode.max_pixels", "max_pixels cannot be negative")
	}

	if c.S3.Enabled && c.S3.AccessKeyID != "" && c.S3.SecretAccessKey == "" {
		return invalid("s3.secret_access_key", "secret_access_key is required with access_key_id")
	}

	return nil
}

// DiskMaxBytes returns the disk cache capacity in bytes.
func (c *Configuration) DiskMaxBytes() int64 {
	n, err := utils.ParseBytes(c.DiskCache.MaxSize)
	if err != nil || n <= 0 {
		return 50 * 1024 * 1024
	}
	return n
}

// IOBufferBytes returns the stream copy buffer size.
func (c *Configuration) IOBufferBytes() int {
	n, err := utils.ParseBytes(c.Network.IOBufferSize)
	if err != nil || n <= 0 {
		return 8 * 1024
	}
	return int(n)
}

// MemoryCapacityKB returns the memory cache capacity in kilobytes. heapLimit
// is the process memory limit in bytes used when no budget is configured.
func (c *Configuration) MemoryCapacityKB(heapLimit int64) int64 {
	if n, err := utils.ParseBytes(c.MemoryCache.MaxSize); err == nil && n > 0 {
		return max(n/1024, 1)
	}

	budget := heapLimit
	if n, err := utils.ParseBytes(c.MemoryCache.HeapBudget); err == nil && n > 0 {
		budget = n
	}
	divisor := int64(c.MemoryCache.Divisor)
	if divisor <= 0 {
		divisor = 8
	}
	return max(budget/1024/divisor, 1)
}

func invalid(field, format string, args ...interface{}) error {
	return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf(format, args...)).
		WithComponent("config").
		WithOperation("validate").
		WithContext("field", field)
}
