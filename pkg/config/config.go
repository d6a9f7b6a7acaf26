package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv      = "SUMMARY_CONFIG"
	mongoURIEnv        = "MONGO_URI"
	mongoDatabaseEnv   = "MONGO_DATABASE"
	mongoCollectionEnv = "MONGO_COLLECTION"
	mongoCAFileEnv     = "MONGO_TLS_CA_FILE"
	mongoInsecureEnv   = "MONGO_TLS_INSECURE"
	awsRegionEnv       = "AWS_REGION"
	logLevelEnv        = "LOG_LEVEL"
	logFormatEnv       = "LOG_FORMAT"
	postgresDSNEnv     = "POSTGRES_DSN"
	supabaseURLEnv     = "SUPABASE_URL"
	supabaseKeyEnv     = "SUPABASE_KEY"
	supabasePassEnv    = "SUPABASE_DB_PASSWORD"
)

// Config holds every setting used by the handler and the auxiliary binaries.
type Config struct {
	Mongo       MongoConfig       `yaml:"mongo"`
	AWS         AWSConfig         `yaml:"aws"`
	Summary     SummaryConfig     `yaml:"summary"`
	Logging     LoggingConfig     `yaml:"logging"`
	Replication ReplicationConfig `yaml:"replication"`
	Local       LocalConfig       `yaml:"local"`
}

// MongoConfig describes the document database connection.
type MongoConfig struct {
	URI                    string        `yaml:"uri"`
	Database               string        `yaml:"database"`
	Collection             string        `yaml:"collection"`
	MaxPoolSize            uint64        `yaml:"max_pool_size"`
	ConnectTimeout         time.Duration `yaml:"connect_timeout"`
	SocketTimeout          time.Duration `yaml:"socket_timeout"`
	ServerSelectionTimeout time.Duration `yaml:"server_selection_timeout"`
	OperationTimeout       time.Duration `yaml:"operation_timeout"`
	TLSCAFile              string        `yaml:"tls_ca_file"`
	TLSInsecure            bool          `yaml:"tls_insecure"`
}

// AWSConfig configures the S3 and Comprehend clients.
type AWSConfig struct {
	Region        string        `yaml:"region"`
	ObjectTimeout time.Duration `yaml:"object_timeout"`
	SyntaxTimeout time.Duration `yaml:"syntax_timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
}

// SummaryConfig holds the summarizer language.
type SummaryConfig struct {
	LanguageCode string `yaml:"language_code"`
}

// LoggingConfig selects slog level and handler format ("json" or "text").
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ReplicationConfig describes the Postgres mirror target.
type ReplicationConfig struct {
	PostgresDSN      string `yaml:"postgres_dsn"`
	SupabaseURL      string `yaml:"supabase_url"`
	SupabaseKey      string `yaml:"supabase_key"`
	SupabasePassword string `yaml:"supabase_password"`
	BatchSize        int    `yaml:"batch_size"`
	Workers          int    `yaml:"workers"`
}

// LocalConfig is used by the local API server and drop watcher.
type LocalConfig struct {
	Addr     string `yaml:"addr"`
	DropDir  string `yaml:"drop_dir"`
	Bucket   string `yaml:"bucket"`
	Watchers int    `yaml:"watchers"`
}

// Load builds the configuration from defaults, an optional YAML file named by
// SUMMARY_CONFIG and environment overrides, then validates it.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(configPathEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Mongo: MongoConfig{
			Database:   "TranscriptionDB",
			Collection: "Summaries",
		},
		Summary: SummaryConfig{LanguageCode: "en"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(mongoURIEnv); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv(mongoDatabaseEnv); v != "" {
		c.Mongo.Database = v
	}
	if v := os.Getenv(mongoCollectionEnv); v != "" {
		c.Mongo.Collection = v
	}
	if v := os.Getenv(mongoCAFileEnv); v != "" {
		c.Mongo.TLSCAFile = v
	}
	if v := os.Getenv(mongoInsecureEnv); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Mongo.TLSInsecure = b
		}
	}
	if v := os.Getenv(awsRegionEnv); v != "" {
		c.AWS.Region = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(logFormatEnv); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv(postgresDSNEnv); v != "" {
		c.Replication.PostgresDSN = v
	}
	if v := os.Getenv(supabaseURLEnv); v != "" {
		c.Replication.SupabaseURL = v
	}
	if v := os.Getenv(supabaseKeyEnv); v != "" {
		c.Replication.SupabaseKey = v
	}
	if v := os.Getenv(supabasePassEnv); v != "" {
		c.Replication.SupabasePassword = v
	}
}

// Validate checks required fields and fills zero values with defaults.
func (c *Config) Validate() error {
	if c.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri is required")
	}
	if c.Mongo.Database == "" {
		return fmt.Errorf("mongo.database is required")
	}
	if c.Mongo.Collection == "" {
		return fmt.Errorf("mongo.collection is required")
	}

	if c.Mongo.MaxPoolSize == 0 {
		c.Mongo.MaxPoolSize = 5
	}
	if c.Mongo.ConnectTimeout == 0 {
		c.Mongo.ConnectTimeout = 10 * time.Second
	}
	if c.Mongo.SocketTimeout == 0 {
		c.Mongo.SocketTimeout = 30 * time.Second
	}
	if c.Mongo.ServerSelectionTimeout == 0 {
		c.Mongo.ServerSelectionTimeout = 10 * time.Second
	}
	if c.Mongo.OperationTimeout == 0 {
		c.Mongo.OperationTimeout = 15 * time.Second
	}
	if c.AWS.ObjectTimeout == 0 {
		c.AWS.ObjectTimeout = 30 * time.Second
	}
	if c.AWS.SyntaxTimeout == 0 {
		c.AWS.SyntaxTimeout = 15 * time.Second
	}
	if c.AWS.MaxAttempts == 0 {
		c.AWS.MaxAttempts = 3
	}
	if c.Summary.LanguageCode == "" {
		c.Summary.LanguageCode = "en"
	}
	if c.Replication.BatchSize == 0 {
		c.Replication.BatchSize = 100
	}
	if c.Replication.Workers == 0 {
		c.Replication.Workers = 5
	}
	if c.Local.Addr == "" {
		c.Local.Addr = ":8080"
	}
	if c.Local.DropDir == "" {
		c.Local.DropDir = "data/drop"
	}
	if c.Local.Bucket == "" {
		c.Local.Bucket = "local"
	}
	if c.Local.Watchers == 0 {
		c.Local.Watchers = 2
	}

	return nil
}
