package config

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
)

type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Neo4j   Neo4jConfig
	SQLite  SQLiteConfig
	Redis   RedisConfig
	LLM     LLMConfig
	Novelty NoveltyConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host              string
	Port              int
	ReadTimeout       int
	WriteTimeout      int
	BodyLimit         int
	RequestsPerMinute int
	MaxQueryLength    int
	Development       bool
}

type StoreConfig struct {
	Backend string
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Password     string
	DB           int
	EmbeddingTTL int
}

type LLMConfig struct {
	Model          string
	APIKey         string
	BaseURL        string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
}

// NoveltyConfig holds the linking policy. The defaults are the fixed
// constants of the novelty algorithm; they are exposed only so deployments
// can tune them deliberately.
type NoveltyConfig struct {
	SimilarityThreshold    float64
	NoveltyThreshold       float64
	NearDuplicateThreshold float64
	RelatedMinStrength     float64
	SerializeIngestion     bool
	IngestConcurrency      int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from path, or from config.yaml in the
// standard locations when path is empty. Environment variables override
// file values.
func LoadFile(path string) (*Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/zettel-agent")
	}

	v.SetEnvPrefix("ZETTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := v.BindEnv("llm.apiKey", "ZETTEL_LLM_APIKEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Default returns the configuration produced by the built-in defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Store),
		validation.Field(&c.Novelty),
		validation.Field(&c.Logging),
	)
}

func (c ServerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.RequestsPerMinute, validation.Min(0)),
	)
}

func (c StoreConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendMemory, BackendSQLite, BackendNeo4j)),
	)
}

func (c NoveltyConfig) Validate() error {
	unit := []validation.Rule{validation.Min(0.0), validation.Max(1.0)}
	return validation.ValidateStruct(&c,
		validation.Field(&c.SimilarityThreshold, unit...),
		validation.Field(&c.NoveltyThreshold, unit...),
		validation.Field(&c.RelatedMinStrength, unit...),
		validation.Field(&c.NearDuplicateThreshold, validation.Min(0.0)),
		validation.Field(&c.IngestConcurrency, validation.Min(1)),
	)
}

func (c LoggingConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Format, validation.In("json", "console")),
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 104857600)
	v.SetDefault("server.requestsPerMinute", 60)
	v.SetDefault("server.maxQueryLength", 5000)
	v.SetDefault("server.development", true)

	v.SetDefault("store.backend", BackendSQLite)

	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("sqlite.path", "./data/zettel.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embeddingTTL", 86400)

	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.model", "gpt-4")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.maxTokens", 2000)
	v.SetDefault("llm.timeoutSec", 60)
	v.SetDefault("llm.embeddingModel", "text-embedding-ada-002")

	v.SetDefault("novelty.similarityThreshold", 0.85)
	v.SetDefault("novelty.noveltyThreshold", 0.3)
	v.SetDefault("novelty.nearDuplicateThreshold", 0.95)
	v.SetDefault("novelty.relatedMinStrength", 0.5)
	v.SetDefault("novelty.serializeIngestion", false)
	v.SetDefault("novelty.ingestConcurrency", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
