package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort               = 8080
	defaultLogLevel           = "info"
	defaultEndpoint           = "https://api.tinify.com/shrink"
	defaultOutputDir          = "tinified"
	defaultMaxConcurrentTasks = 5
	defaultHTTPTimeout        = 60 * time.Second
	defaultTaskTimeout        = 5 * time.Minute
	defaultUploadBurst        = 1

	// APIKeysEnv overrides api_keys from the file when set.
	APIKeysEnv = "TINYBATCH_API_KEYS"
)

var defaultExtensions = []string{".png", ".jpg", ".jpeg", ".webp"}

// Config describes runtime configuration for the service.
type Config struct {
	Port                 int           `yaml:"port"`
	LogLevel             string        `yaml:"log_level"`
	APIKeys              string        `yaml:"api_keys"`
	Endpoint             string        `yaml:"endpoint"`
	MaxConcurrentTasks   int           `yaml:"max_concurrent_tasks"`
	OutputDir            string        `yaml:"output_dir"`
	ReplaceInPlace       bool          `yaml:"replace_in_place"`
	AllowedExtensions    []string      `yaml:"allowed_extensions"`
	HTTPTimeout          time.Duration `yaml:"http_timeout"`
	TaskTimeout          time.Duration `yaml:"task_timeout"`
	UploadRate           float64       `yaml:"upload_rate"`
	UploadBurst          int           `yaml:"upload_burst"`
	RequeueOnCredentials bool          `yaml:"requeue_on_credentials"`
	OTLPEndpoint         string        `yaml:"otlp_endpoint"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:               defaultPort,
		LogLevel:           defaultLogLevel,
		Endpoint:           defaultEndpoint,
		MaxConcurrentTasks: defaultMaxConcurrentTasks,
		OutputDir:          defaultOutputDir,
		AllowedExtensions:  append([]string(nil), defaultExtensions...),
		HTTPTimeout:        defaultHTTPTimeout,
		TaskTimeout:        defaultTaskTimeout,
		UploadBurst:        defaultUploadBurst,
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error. The api key environment
// variable is applied in every case.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) > 0 {
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if keys := strings.TrimSpace(os.Getenv(APIKeysEnv)); keys != "" {
		cfg.APIKeys = keys
	}
	return normalize(cfg)
}

func normalize(cfg Config) (Config, error) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.OutputDir == "" && !cfg.ReplaceInPlace {
		cfg.OutputDir = defaultOutputDir
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if cfg.UploadBurst < 1 {
		cfg.UploadBurst = defaultUploadBurst
	}
	// validate concurrency explicitly: values < 1 are not allowed
	if cfg.MaxConcurrentTasks < 1 {
		return cfg, fmt.Errorf("invalid max_concurrent_tasks: %d (must be >= 1)", cfg.MaxConcurrentTasks)
	}
	if cfg.TaskTimeout < 0 {
		return cfg, fmt.Errorf("invalid task_timeout: %s", cfg.TaskTimeout)
	}
	if cfg.UploadRate < 0 {
		return cfg, fmt.Errorf("invalid upload_rate: %v", cfg.UploadRate)
	}
	cfg.AllowedExtensions = normalizeExtensions(cfg.AllowedExtensions)
	return cfg, nil
}

func normalizeExtensions(in []string) []string {
	if len(in) == 0 {
		return append([]string(nil), defaultExtensions...)
	}
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, ext := range in {
		e := strings.ToLower(strings.TrimSpace(ext))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		normalized = append(normalized, e)
	}
	return normalized
}
