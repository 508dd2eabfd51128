package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPPort string `envconfig:"HTTP_PORT" default:"8080"`
	Env      string `envconfig:"ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Document store
	DBDriver      string        `envconfig:"DB_DRIVER" default:"sqlite"`
	DatabaseURL   string        `envconfig:"DATABASE_URL" default:"relay.db"`
	MongoDatabase string        `envconfig:"MONGO_DATABASE" default:"lovelink"`
	StoreTimeout  time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`

	// Optional; enables the per-sender AI rate limit
	RedisURL    string `envconfig:"REDIS_URL"`
	AIRateLimit int    `envconfig:"AI_RATE_LIMIT" default:"20"`

	// Optional; when set the socket handshake requires a bearer token
	JWTSecret      string   `envconfig:"JWT_SECRET"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`

	// Generative provider
	AIProvider        string            `envconfig:"AI_PROVIDER" default:"gemini"`
	AIAPIKeys         []string          `envconfig:"AI_API_KEYS"`
	AIModel           string            `envconfig:"AI_MODEL"`
	AIBaseURL         string            `envconfig:"AI_BASE_URL"`
	AIProviderTimeout time.Duration     `envconfig:"AI_PROVIDER_TIMEOUT" default:"30s"`
	AIPresenceTTL     time.Duration     `envconfig:"AI_PRESENCE_TTL" default:"5m"`
	AISweepInterval   time.Duration     `envconfig:"AI_SWEEP_INTERVAL" default:"60s"`
	AILocalKeywords   []string          `envconfig:"AI_LOCAL_KEYWORDS"`
	AIPersonaOverride map[string]string `envconfig:"AI_PERSONA_OVERRIDES"`

	// EnvFile names the dotenv file that was loaded, empty when none was found.
	EnvFile string `ignored:"true"`
}

var AppConfig Config

var validDrivers = map[string]bool{"sqlite": true, "postgres": true, "mongo": true, "memory": true}

var validProviders = map[string]bool{"gemini": true, "openai": true}

const envFile = ".env"

// LoadConfig reads a .env file if present and then the process environment into AppConfig.
// Whether the file was found is reported through AppConfig.EnvFile.
func LoadConfig() error {
	loaded := godotenv.Load(envFile) == nil

	cfg, err := Load()
	if err != nil {
		return err
	}
	if loaded {
		cfg.EnvFile = envFile
	}
	AppConfig = *cfg
	return nil
}

// Load parses the environment without touching AppConfig.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if !validDrivers[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if !validProviders[c.AIProvider] {
		return fmt.Errorf("unsupported AI_PROVIDER: %s", c.AIProvider)
	}
	if c.IsProduction() && len(c.AIAPIKeys) == 0 {
		return fmt.Errorf("AI_API_KEYS is required in production")
	}
	if c.AIRateLimit < 0 {
		return fmt.Errorf("AI_RATE_LIMIT must not be negative")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
