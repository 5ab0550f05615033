// Package config loads process configuration from flags, environment
// variables, and an optional YAML file, in that precedence order
// (flags win). Grounded on the teacher's cmd/schemaregistry/main.go
// config.load() (flag+env, getEnv/getEnvBool helpers) extended with the
// YAML layer amtp-protocol-agentry's internal/config/config.go Load()
// uses (loadFromYAML / loadFromEnv precedence chain over
// gopkg.in/yaml.v3).
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config covers the keys in spec §6's "Configuration keys consumed by
// the core" table, except schema.providers and
// kafkastore.update.handlers, which have no field here, plus the
// process-level NATS/HTTP settings the teacher's main.go already
// exposes.
type Config struct {
	NATSURL      string `yaml:"nats_url"`
	HTTPAddr     string `yaml:"http_addr"`
	BucketName   string `yaml:"bucket_name"`
	Debug        bool   `yaml:"debug"`
	TestMode     bool   `yaml:"test_mode"`

	HostName                string `yaml:"host_name"`
	Listeners               string `yaml:"listeners"`
	InterInstanceListener   string `yaml:"inter_instance_listener_name"`
	InterInstanceProtocol   string `yaml:"inter_instance_protocol"`

	LeaderEligibility     bool          `yaml:"leader_eligibility"`
	LeaderElectionDelay   bool          `yaml:"leader_election_delay"`
	LeaderLeaseInterval   time.Duration `yaml:"leader_lease_interval"`

	ModeMutability bool `yaml:"mode_mutability"`

	KafkastoreTimeoutMs     int `yaml:"kafkastore_timeout_ms"`
	KafkastoreInitTimeoutMs int `yaml:"kafkastore_init_timeout_ms"`
	KafkastoreWriteMaxRetries int `yaml:"kafkastore_write_max_retries"`
	SchemaMaxBytes            int `yaml:"schema_max_bytes"`

	SchemaCacheSize        int `yaml:"schema_cache_size"`
	SchemaCacheExpirySecs  int `yaml:"schema_cache_expiry_secs"`

	CompatibilityLevel string `yaml:"compatibility_level"`

	ConfigFile string `yaml:"-"`
}

// Timeout returns KafkastoreTimeoutMs as a time.Duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.KafkastoreTimeoutMs) * time.Millisecond
}

// InitTimeout returns KafkastoreInitTimeoutMs as a time.Duration.
func (c Config) InitTimeout() time.Duration {
	return time.Duration(c.KafkastoreInitTimeoutMs) * time.Millisecond
}

func defaults() Config {
	return Config{
		NATSURL:    "nats://127.0.0.1:4222",
		HTTPAddr:   ":8081",
		BucketName: "REGISTRY_LOG",

		HostName:              "localhost",
		Listeners:             "http://0.0.0.0:8081",
		InterInstanceProtocol: "http",

		LeaderEligibility:   true,
		LeaderLeaseInterval: 10 * time.Second,

		ModeMutability: true,

		KafkastoreTimeoutMs:       10000,
		KafkastoreInitTimeoutMs:   60000,
		KafkastoreWriteMaxRetries: 5,
		SchemaMaxBytes:            8 * 1024 * 1024,

		SchemaCacheSize:       1000,
		SchemaCacheExpirySecs: 300,

		CompatibilityLevel: "BACKWARD",
	}
}

// Load builds a Config by layering, from lowest to highest precedence:
// built-in defaults, an optional YAML file (-config / CONFIG_FILE),
// environment variables, then command-line flags.
func Load(args []string) (Config, error) {
	cfg := defaults()

	fs := flag.NewFlagSet("schemaregistry", flag.ContinueOnError)
	configFile := fs.String("config", getEnv("CONFIG_FILE", ""), "Path to an optional YAML config file")
	natsURL := fs.String("nats-url", "", "NATS server URL")
	httpAddr := fs.String("http-addr", "", "HTTP server address")
	bucket := fs.String("bucket", "", "JetStream KV bucket for the replicated log")
	debug := fs.Bool("debug", false, "Enable debug logging")
	testMode := fs.Bool("test", false, "Enable test mode with an embedded NATS server")
	hostName := fs.String("host-name", "", "This node's advertised host name")
	leaderEligible := fs.Bool("leader-eligible", true, "Whether this node may become leader")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	if *configFile != "" {
		if err := loadYAML(*configFile, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config file: %w", err)
		}
		cfg.ConfigFile = *configFile
	}

	loadEnv(&cfg)

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "nats-url":
			cfg.NATSURL = *natsURL
		case "http-addr":
			cfg.HTTPAddr = *httpAddr
		case "bucket":
			cfg.BucketName = *bucket
		case "debug":
			cfg.Debug = *debug
		case "test":
			cfg.TestMode = *testMode
		case "host-name":
			cfg.HostName = *hostName
		case "leader-eligible":
			cfg.LeaderEligibility = *leaderEligible
		}
	})

	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadEnv(cfg *Config) {
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.BucketName = getEnv("REGISTRY_BUCKET", cfg.BucketName)
	cfg.Debug = getEnvBool("DEBUG", cfg.Debug)
	cfg.TestMode = getEnvBool("TEST_MODE", cfg.TestMode)
	cfg.HostName = getEnv("HOST_NAME", cfg.HostName)
	cfg.Listeners = getEnv("LISTENERS", cfg.Listeners)
	cfg.InterInstanceListener = getEnv("INTER_INSTANCE_LISTENER_NAME", cfg.InterInstanceListener)
	cfg.InterInstanceProtocol = getEnv("INTER_INSTANCE_PROTOCOL", cfg.InterInstanceProtocol)
	cfg.LeaderEligibility = getEnvBool("LEADER_ELIGIBILITY", cfg.LeaderEligibility)
	cfg.LeaderElectionDelay = getEnvBool("LEADER_ELECTION_DELAY", cfg.LeaderElectionDelay)
	cfg.ModeMutability = getEnvBool("MODE_MUTABILITY", cfg.ModeMutability)
	cfg.KafkastoreTimeoutMs = getEnvInt("KAFKASTORE_TIMEOUT_MS", cfg.KafkastoreTimeoutMs)
	cfg.KafkastoreInitTimeoutMs = getEnvInt("KAFKASTORE_INIT_TIMEOUT_MS", cfg.KafkastoreInitTimeoutMs)
	cfg.KafkastoreWriteMaxRetries = getEnvInt("KAFKASTORE_WRITE_MAX_RETRIES", cfg.KafkastoreWriteMaxRetries)
	cfg.SchemaMaxBytes = getEnvInt("SCHEMA_MAX_BYTES", cfg.SchemaMaxBytes)
	cfg.SchemaCacheSize = getEnvInt("SCHEMA_CACHE_SIZE", cfg.SchemaCacheSize)
	cfg.SchemaCacheExpirySecs = getEnvInt("SCHEMA_CACHE_EXPIRY_SECS", cfg.SchemaCacheExpirySecs)
	cfg.CompatibilityLevel = getEnv("COMPATIBILITY_LEVEL", cfg.CompatibilityLevel)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1" || v == "yes"
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
