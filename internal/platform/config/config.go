package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	Storage  StorageConfig
	NATS     NATSConfig
	Approval ApprovalConfig
	Tracing  TracingConfig
	Log      LogConfig
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

type ServerConfig struct {
	GRPCPort int
	// HTTPPort serves health checks and the JSON API; 0 disables it.
	HTTPPort        int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Database      string
	SSLMode       string
	MaxConns      int32
	MinConns      int32
	MaxConnTime   time.Duration
	MaxIdleTime   time.Duration
	HealthCheck   time.Duration
	MigrateOnBoot bool
}

// StorageConfig selects the persistence backend: "postgres" or "memory".
type StorageConfig struct {
	Driver string
}

type NATSConfig struct {
	Enabled       bool
	URL           string
	SubjectPrefix string
}

type ApprovalConfig struct {
	// AllowUnassignedStepApproval lets any authenticated actor act on a step
	// that names neither an approver nor a role. Off unless explicitly set.
	AllowUnassignedStepApproval bool
	EntityTypes                 []string
	NotifyTimeout               time.Duration
	CatalogFile                 string
}

type TracingConfig struct {
	Enabled    bool
	OutputFile string
}

type LogConfig struct {
	Level string
}

// DSN renders a pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "be-plt-approvals")
	v.SetDefault("service.version", "dev")
	v.SetDefault("service.environment", "development")

	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "approvals")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("database.health_check_period", time.Minute)
	v.SetDefault("database.migrate_on_boot", false)

	v.SetDefault("storage.driver", "postgres")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "notifications.approvals")

	v.SetDefault("approval.allow_unassigned_step_approval", false)
	v.SetDefault("approval.entity_types", []string{"PROJECT"})
	v.SetDefault("approval.notify_timeout", 5*time.Second)
	v.SetDefault("approval.catalog_file", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.output_file", "")

	v.SetDefault("log.level", "info")
}

// Load reads configuration from defaults, an optional config.yaml in any of
// paths, an optional .env file and APPROVALS_* environment variables, in
// increasing order of precedence.
func Load(paths ...string) (*Config, error) {
	// .env is optional; real deployments inject env directly.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("APPROVALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Service: ServiceConfig{
			Name:        v.GetString("service.name"),
			Version:     v.GetString("service.version"),
			Environment: v.GetString("service.environment"),
		},
		Server: ServerConfig{
			GRPCPort:        v.GetInt("server.grpc_port"),
			HTTPPort:        v.GetInt("server.http_port"),
			RequestTimeout:  v.GetDuration("server.request_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			Database:      v.GetString("database.database"),
			SSLMode:       v.GetString("database.sslmode"),
			MaxConns:      v.GetInt32("database.max_conns"),
			MinConns:      v.GetInt32("database.min_conns"),
			MaxConnTime:   v.GetDuration("database.max_conn_lifetime"),
			MaxIdleTime:   v.GetDuration("database.max_conn_idle_time"),
			HealthCheck:   v.GetDuration("database.health_check_period"),
			MigrateOnBoot: v.GetBool("database.migrate_on_boot"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(v.GetString("storage.driver")),
		},
		NATS: NATSConfig{
			Enabled:       v.GetBool("nats.enabled"),
			URL:           v.GetString("nats.url"),
			SubjectPrefix: v.GetString("nats.subject_prefix"),
		},
		Approval: ApprovalConfig{
			AllowUnassignedStepApproval: v.GetBool("approval.allow_unassigned_step_approval"),
			EntityTypes:                 v.GetStringSlice("approval.entity_types"),
			NotifyTimeout:               v.GetDuration("approval.notify_timeout"),
			CatalogFile:                 v.GetString("approval.catalog_file"),
		},
		Tracing: TracingConfig{
			Enabled:    v.GetBool("tracing.enabled"),
			OutputFile: v.GetString("tracing.output_file"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Server.GRPCPort <= 0 {
		return fmt.Errorf("invalid grpc port %d", c.Server.GRPCPort)
	}
	if c.Server.HTTPPort < 0 {
		return fmt.Errorf("invalid http port %d", c.Server.HTTPPort)
	}
	if len(c.Approval.EntityTypes) == 0 {
		return fmt.Errorf("at least one approval entity type must be enabled")
	}
	return nil
}
