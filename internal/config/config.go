package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config application configuration
type Config struct {
	Port           int            `yaml:"port"`
	LogLevel       string         `yaml:"log_level"`
	AllowedOrigins []string       `yaml:"allowed_origins"`
	Backend        BackendConfig  `yaml:"backend"`
	Output         OutputConfig   `yaml:"output"`
	Redis          RedisConfig    `yaml:"redis"`
	Workflow       WorkflowConfig `yaml:"workflow"`
}

// BackendConfig ComfyUI backend configuration
type BackendConfig struct {
	Address string `yaml:"address" env:"COMFYUI_ADDRESS"`
	// zero means no timeout
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"COMFYUI_HTTP_TIMEOUT"`
	// zero means wait for completion forever
	WaitTimeout time.Duration `yaml:"wait_timeout" env:"COMFYUI_WAIT_TIMEOUT"`
}

// OutputConfig image persistence configuration
type OutputConfig struct {
	Directory string `yaml:"directory" env:"OUTPUT_DIR"`
	Backend   string `yaml:"backend" env:"STORAGE_BACKEND"` // "local" or "s3"
	S3Bucket  string `yaml:"s3_bucket" env:"S3_BUCKET"`
	S3Prefix  string `yaml:"s3_prefix" env:"S3_PREFIX"`
}

// RedisConfig Redis configuration, an empty host disables Redis
type RedisConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	MaxRecords int    `yaml:"max_records"`
}

// WorkflowConfig defaults patched into the generation templates
type WorkflowConfig struct {
	Checkpoint     string  `yaml:"checkpoint" env:"CHECKPOINT_NAME"`
	Steps          int     `yaml:"steps" env:"SAMPLER_STEPS"`
	CFG            float64 `yaml:"cfg" env:"SAMPLER_CFG"`
	SamplerName    string  `yaml:"sampler_name" env:"SAMPLER_NAME"`
	Scheduler      string  `yaml:"scheduler" env:"SAMPLER_SCHEDULER"`
	Width          int     `yaml:"width" env:"IMAGE_WIDTH"`
	Height         int     `yaml:"height" env:"IMAGE_HEIGHT"`
	FilenamePrefix string  `yaml:"filename_prefix" env:"FILENAME_PREFIX"`
}

const (
	StorageBackendLocal = "local"
	StorageBackendS3    = "s3"
)

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Port:     8000,
		LogLevel: "info",
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		Backend: BackendConfig{
			Address: "127.0.0.1:8188",
		},
		Output: OutputConfig{
			Directory: "generated_images",
			Backend:   StorageBackendLocal,
		},
		Redis: RedisConfig{
			Port:       6379,
			MaxRecords: 500,
		},
		Workflow: WorkflowConfig{
			Checkpoint:     "dreamshaper_8.safetensors",
			Steps:          20,
			CFG:            7.0,
			SamplerName:    "euler",
			Scheduler:      "normal",
			Width:          512,
			Height:         512,
			FilenamePrefix: "ComfyUI",
		},
	}
}

// Load loads configuration: defaults, then CONFIG_FILE, then environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug(".env file not found, using environment variables")
	}

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvInt("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", c.AllowedOrigins)

	c.Backend.Address = getEnv("COMFYUI_ADDRESS", c.Backend.Address)
	c.Backend.HTTPTimeout = getEnvSeconds("COMFYUI_HTTP_TIMEOUT", c.Backend.HTTPTimeout)
	c.Backend.WaitTimeout = getEnvSeconds("COMFYUI_WAIT_TIMEOUT", c.Backend.WaitTimeout)

	c.Output.Directory = getEnv("OUTPUT_DIR", c.Output.Directory)
	c.Output.Backend = getEnv("STORAGE_BACKEND", c.Output.Backend)
	c.Output.S3Bucket = getEnv("S3_BUCKET", c.Output.S3Bucket)
	c.Output.S3Prefix = getEnv("S3_PREFIX", c.Output.S3Prefix)

	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.MaxRecords = getEnvInt("RECORDS_MAX", c.Redis.MaxRecords)

	c.Workflow.Checkpoint = getEnv("CHECKPOINT_NAME", c.Workflow.Checkpoint)
	c.Workflow.Steps = getEnvInt("SAMPLER_STEPS", c.Workflow.Steps)
	c.Workflow.CFG = getEnvFloat("SAMPLER_CFG", c.Workflow.CFG)
	c.Workflow.SamplerName = getEnv("SAMPLER_NAME", c.Workflow.SamplerName)
	c.Workflow.Scheduler = getEnv("SAMPLER_SCHEDULER", c.Workflow.Scheduler)
	c.Workflow.Width = getEnvInt("IMAGE_WIDTH", c.Workflow.Width)
	c.Workflow.Height = getEnvInt("IMAGE_HEIGHT", c.Workflow.Height)
	c.Workflow.FilenamePrefix = getEnv("FILENAME_PREFIX", c.Workflow.FilenamePrefix)
}

// Enabled reports whether generation records are persisted to Redis
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

// Addr returns the Redis host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate validates configuration
func (c *Config) Validate() error {
	if c.Backend.Address == "" {
		return ErrBackendAddressRequired
	}
	if c.Port <= 0 || c.Port > 65535 {
		return ErrPortInvalid
	}
	switch c.Output.Backend {
	case StorageBackendLocal:
		if c.Output.Directory == "" {
			return ErrOutputDirRequired
		}
	case StorageBackendS3:
		if c.Output.S3Bucket == "" {
			return ErrS3BucketRequired
		}
	default:
		return fmt.Errorf("%w: %s", ErrStorageBackendInvalid, c.Output.Backend)
	}
	if c.Backend.HTTPTimeout < 0 || c.Backend.WaitTimeout < 0 {
		return ErrTimeoutInvalid
	}
	return nil
}

// configuration validation errors
var (
	ErrBackendAddressRequired = fmt.Errorf("comfyui backend address is required")
	ErrPortInvalid            = fmt.Errorf("port is invalid")
	ErrOutputDirRequired      = fmt.Errorf("output directory is required")
	ErrS3BucketRequired       = fmt.Errorf("s3 bucket is required")
	ErrStorageBackendInvalid  = fmt.Errorf("unsupported storage backend")
	ErrTimeoutInvalid         = fmt.Errorf("timeouts must not be negative")
)

// getEnv gets environment variable, returns default value if not exists
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets integer environment variable, returns default value if not exists
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvSeconds reads a whole number of seconds
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

// getEnvList reads a comma separated list, skipping blanks
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	items := lo.Map(strings.Split(value, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	})
	return lo.Uniq(lo.Compact(items))
}
