package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultAddr             = "127.0.0.1:8090"
	defaultNodeTimeout      = 15 * time.Minute
	defaultSnapshotInterval = 5 * time.Minute
	defaultSweepInterval    = time.Minute
	defaultRetention        = 7 * 24 * time.Hour
	defaultLogLevel         = "info"
)

// Config is the daemon configuration. Values are layered: defaults, then the
// optional YAML file, then MESHGRAPH_* environment variables, then flags.
type Config struct {
	DBPath           string        `yaml:"db_path"`
	Addr             string        `yaml:"addr"`
	LogLevel         string        `yaml:"log_level"`
	NodeTimeout      time.Duration `yaml:"node_timeout"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	SweepInterval    time.Duration `yaml:"sweep_interval"` // 0 disables sweeping
	Retention        time.Duration `yaml:"retention"`      // 0 disables pruning
	ArchiveDir       string        `yaml:"archive_dir"`    // pruned packets are archived here when set
	RedisAddr        string        `yaml:"redis_addr"`
	PostgresDSN      string        `yaml:"postgres_dsn"`
	Neo4jURI         string        `yaml:"neo4j_uri"`
	Neo4jUser        string        `yaml:"neo4j_user"`
	Neo4jPassword    string        `yaml:"neo4j_password"`
	OTLPEndpoint     string        `yaml:"otlp_endpoint"`
	TLSCertFile      string        `yaml:"tls_cert_file"`
	TLSKeyFile       string        `yaml:"tls_key_file"`
}

func defaultConfig(cwd string) Config {
	return Config{
		DBPath:           filepath.Join(cwd, "meshgraph.db"),
		Addr:             defaultAddr,
		LogLevel:         defaultLogLevel,
		NodeTimeout:      defaultNodeTimeout,
		SnapshotInterval: defaultSnapshotInterval,
		SweepInterval:    defaultSweepInterval,
		Retention:        defaultRetention,
		Neo4jUser:        "neo4j",
	}
}

func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	cfg := defaultConfig(cwd)

	// The config file location must be known before the other flags are
	// parsed, so -config is looked up first.
	if path := configPathFromArgs(args, os.Getenv("MESHGRAPH_CONFIG")); path != "" {
		if err := loadFile(resolvePath(path, cwd), &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	flagSet := flag.NewFlagSet("meshgraph-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.String("config", "", "path to YAML config file")
	flagSet.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to SQLite database")
	flagSet.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug|info|warn|error")
	flagSet.DurationVar(&cfg.NodeTimeout, "node-timeout", cfg.NodeTimeout, "silence after which a new node is stale")
	flagSet.DurationVar(&cfg.SnapshotInterval, "snapshot-interval", cfg.SnapshotInterval, "graph snapshot interval")
	flagSet.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "stale node sweep interval (0 disables)")
	flagSet.DurationVar(&cfg.Retention, "retention", cfg.Retention, "packet log retention (0 disables pruning)")
	flagSet.StringVar(&cfg.ArchiveDir, "archive-dir", cfg.ArchiveDir, "archive pruned packets into this directory")
	flagSet.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "mirror nodes into Redis at this address")
	flagSet.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "mirror the graph into PostgreSQL")
	flagSet.StringVar(&cfg.Neo4jURI, "neo4j-uri", cfg.Neo4jURI, "mirror the graph into Neo4j")
	flagSet.StringVar(&cfg.Neo4jUser, "neo4j-user", cfg.Neo4jUser, "Neo4j user")
	flagSet.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", cfg.OTLPEndpoint, "export traces to this OTLP gRPC endpoint")
	flagSet.StringVar(&cfg.TLSCertFile, "tls-cert", cfg.TLSCertFile, "TLS certificate file")
	flagSet.StringVar(&cfg.TLSKeyFile, "tls-key", cfg.TLSKeyFile, "TLS key file")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
		}
		return Config{}, err
	}

	cfg.DBPath = resolvePath(cfg.DBPath, cwd)
	if cfg.ArchiveDir != "" {
		cfg.ArchiveDir = resolvePath(cfg.ArchiveDir, cwd)
	}
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the merged configuration.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("db path cannot be empty")
	}
	if c.NodeTimeout <= 0 {
		return errors.New("node timeout must be positive")
	}
	if c.SnapshotInterval <= 0 {
		return errors.New("snapshot interval must be positive")
	}
	if c.SweepInterval < 0 {
		return errors.New("sweep interval cannot be negative")
	}
	if c.Retention < 0 {
		return errors.New("retention cannot be negative")
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("tls-cert and tls-key must be set together")
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.DBPath = envOrDefault("MESHGRAPH_DB_PATH", cfg.DBPath)
	cfg.Addr = addrFromEnv(cfg.Addr)
	cfg.LogLevel = envOrDefault("MESHGRAPH_LOG_LEVEL", cfg.LogLevel)
	cfg.ArchiveDir = envOrDefault("MESHGRAPH_ARCHIVE_DIR", cfg.ArchiveDir)
	cfg.RedisAddr = envOrDefault("MESHGRAPH_REDIS_ADDR", cfg.RedisAddr)
	cfg.PostgresDSN = envOrDefault("MESHGRAPH_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.Neo4jURI = envOrDefault("MESHGRAPH_NEO4J_URI", cfg.Neo4jURI)
	cfg.Neo4jUser = envOrDefault("MESHGRAPH_NEO4J_USER", cfg.Neo4jUser)
	cfg.Neo4jPassword = envOrDefault("MESHGRAPH_NEO4J_PASSWORD", cfg.Neo4jPassword)
	cfg.OTLPEndpoint = envOrDefault("MESHGRAPH_OTLP_ENDPOINT", cfg.OTLPEndpoint)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"MESHGRAPH_NODE_TIMEOUT", &cfg.NodeTimeout},
		{"MESHGRAPH_SNAPSHOT_INTERVAL", &cfg.SnapshotInterval},
		{"MESHGRAPH_SWEEP_INTERVAL", &cfg.SweepInterval},
		{"MESHGRAPH_RETENTION", &cfg.Retention},
	}
	for _, d := range durations {
		value := os.Getenv(d.key)
		if value == "" {
			continue
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

// configPathFromArgs finds -config/--config without parsing the other flags.
func configPathFromArgs(args []string, fallback string) string {
	for i, arg := range args {
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if strings.HasPrefix(name, "config=") {
			return strings.TrimPrefix(name, "config=")
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return fallback
}

func parseLogLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level: %s", level)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func addrFromEnv(fallback string) string {
	if value := os.Getenv("MESHGRAPH_ADDR"); value != "" {
		return value
	}
	if port := os.Getenv("MESHGRAPH_PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return fallback
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}
