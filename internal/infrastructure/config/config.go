package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Enabled reports whether both certificate and key are configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	TLS             TLSConfig     `yaml:"tls"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite"`
	Path   string `yaml:"path" validate:"required"`
}

type LoggingConfig struct {
	Level             string `yaml:"level" validate:"oneof=debug info warn error"`
	Format            string `yaml:"format" validate:"oneof=json console"`
	FilePath          string `yaml:"file_path"`
	MaxSizeMB         int    `yaml:"max_size_mb" validate:"min=0"`
	MaxBackups        int    `yaml:"max_backups" validate:"min=0"`
	MaxAgeDays        int    `yaml:"max_age_days" validate:"min=0"`
	PersistAccessLogs bool   `yaml:"persist_access_logs"`
}

type AuditConfig struct {
	QueueSize         int    `yaml:"queue_size" validate:"min=1"`
	FilePath          string `yaml:"file_path"`
	ConsoleSink       bool   `yaml:"console_sink"`
	RetentionDays     int    `yaml:"retention_days" validate:"min=0"`
	RetentionSchedule string `yaml:"retention_schedule"`
}

type AuthzConfig struct {
	DecisionCacheTTL time.Duration `yaml:"decision_cache_ttl"`
}

type RateLimitConfig struct {
	Backend           string `yaml:"backend" validate:"oneof=memory redis"`
	RequestsPerMinute int    `yaml:"requests_per_minute" validate:"min=0"`
	RedisAddr         string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword     string `yaml:"redis_password"`
	RedisDB           int    `yaml:"redis_db"`
}

type LotusConfig struct {
	APIURL   string `yaml:"api_url"`
	Token    string `yaml:"token"`
	Binary   string `yaml:"binary"`
	RepoPath string `yaml:"repo_path"`
}

type IPFSConfig struct {
	APIURL   string `yaml:"api_url"`
	Binary   string `yaml:"binary"`
	RepoPath string `yaml:"repo_path"`
}

type DaemonsConfig struct {
	Lotus          LotusConfig   `yaml:"lotus"`
	IPFS           IPFSConfig    `yaml:"ipfs"`
	MaxRetries     int           `yaml:"max_retries" validate:"min=1,max=10"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Simulation     bool          `yaml:"simulation"`
}

type HealthConfig struct {
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

type BootstrapConfig struct {
	AdminKey string `yaml:"admin_key"`
}

type ApplicationConfig struct {
	Version string `yaml:"version"`
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
	Audit       AuditConfig       `yaml:"audit"`
	Authz       AuthzConfig       `yaml:"authz"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	Daemons     DaemonsConfig     `yaml:"daemons"`
	Health      HealthConfig      `yaml:"health"`
	Bootstrap   BootstrapConfig   `yaml:"bootstrap"`
	Application ApplicationConfig `yaml:"application"`
}

// Default returns a config populated with sensible defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "data/storage-kit-hub.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Audit: AuditConfig{
			QueueSize:         1024,
			FilePath:          "logs/audit.log",
			RetentionDays:     90,
			RetentionSchedule: "@daily",
		},
		Authz: AuthzConfig{
			DecisionCacheTTL: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Backend:           "memory",
			RequestsPerMinute: 120,
		},
		Daemons: DaemonsConfig{
			Lotus: LotusConfig{
				APIURL: "http://127.0.0.1:1234",
				Binary: "lotus",
			},
			IPFS: IPFSConfig{
				APIURL: "http://127.0.0.1:5001",
				Binary: "ipfs",
			},
			MaxRetries:     3,
			BackoffBase:    200 * time.Millisecond,
			BackoffMax:     5 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		Health: HealthConfig{
			CheckTimeout: 5 * time.Second,
		},
		Application: ApplicationConfig{
			Version: "v1.0.0",
		},
	}
}

// Load reads CONFIG_PATH (default configs/app.yaml), applies .env and
// environment overrides, and validates the result. A missing file yields defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "configs/app.yaml"
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit path; .env is not consulted.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.FilePath = v
	}
	if v := os.Getenv("AUDIT_FILE"); v != "" {
		cfg.Audit.FilePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RateLimit.RedisAddr = v
		cfg.RateLimit.Backend = "redis"
	}
	if v := os.Getenv("LOTUS_API_URL"); v != "" {
		cfg.Daemons.Lotus.APIURL = v
	}
	if v := os.Getenv("LOTUS_TOKEN"); v != "" {
		cfg.Daemons.Lotus.Token = v
	}
	if v := os.Getenv("IPFS_API_URL"); v != "" {
		cfg.Daemons.IPFS.APIURL = v
	}
	if v := os.Getenv("SIMULATION_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Daemons.Simulation = b
		}
	}
	if v := os.Getenv("BOOTSTRAP_ADMIN_KEY"); v != "" {
		cfg.Bootstrap.AdminKey = v
	}
}

// Validate checks struct tags on every section.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
