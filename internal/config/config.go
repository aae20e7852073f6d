package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		Env  string `yaml:"env"` // development, production, test
	} `yaml:"server"`

	Database struct {
		Driver     string `yaml:"driver"` // postgres, sqlite, badger
		DSN        string `yaml:"url"`
		BadgerPath string `yaml:"badger_path"`
	} `yaml:"database"`

	JWT struct {
		Secret string `yaml:"secret"`
		TTL    int    `yaml:"ttl"` // минуты
	} `yaml:"jwt"`

	Push struct {
		Provider        string `yaml:"provider"` // fcm, log
		CredentialsFile string `yaml:"credentials_file"`
		MaxTokens       int    `yaml:"max_tokens"`
		LinkBaseURL     string `yaml:"link_base_url"` // https-origin для web push ссылок
	} `yaml:"push"`

	Redis struct {
		Addr            string `yaml:"addr"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		EventTTLSeconds int    `yaml:"event_ttl_seconds"`
	} `yaml:"redis"`

	Kafka struct {
		Enabled bool     `yaml:"enabled"`
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
		GroupID string   `yaml:"group_id"`
	} `yaml:"kafka"`

	Internal struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"internal"`

	Unread struct {
		FanoutConcurrency int `yaml:"fanout_concurrency"`
	} `yaml:"unread"`
}

// envOverrides - переменные окружения, которые перекрывают config.yaml
type envOverrides struct {
	DatabaseURL     string   `envconfig:"DATABASE_URL"`
	DatabaseDriver  string   `envconfig:"DATABASE_DRIVER"`
	ServerEnv       string   `envconfig:"SERVER_ENV"`
	ServerPort      int      `envconfig:"SERVER_PORT"`
	JWTSecret       string   `envconfig:"JWT_SECRET"`
	RedisAddr       string   `envconfig:"REDIS_ADDR"`
	KafkaBrokers    []string `envconfig:"KAFKA_BROKERS"`
	InternalAPIKey  string   `envconfig:"INTERNAL_API_KEY"`
	PushProvider    string   `envconfig:"PUSH_PROVIDER"`
	PushCredentials string   `envconfig:"PUSH_CREDENTIALS_FILE"`
}

const defaultConfigPath = "config/config.yaml"

var AppConfig *Config

// LoadConfig читает .env, config.yaml (CONFIG_PATH) и переменные окружения.
// Если файла нет, но задан DATABASE_URL, конфиг собирается только из окружения.
func LoadConfig() (*Config, error) {
	// .env не обязателен
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}

	AppConfig = cfg
	return cfg, nil
}

// Load собирает конфиг из указанного файла и окружения
func Load(path string) (*Config, error) {
	var cfg Config

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file at %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && os.Getenv("DATABASE_URL") != "":
		// режим "только окружение" (тесты, контейнеры)
	default:
		return nil, fmt.Errorf("failed to open config file at %s: %w", path, err)
	}

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.applyEnv(env)
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(env envOverrides) {
	if env.DatabaseURL != "" {
		c.Database.DSN = env.DatabaseURL
	}
	if env.DatabaseDriver != "" {
		c.Database.Driver = env.DatabaseDriver
	}
	if env.ServerEnv != "" {
		c.Server.Env = env.ServerEnv
	}
	if env.ServerPort != 0 {
		c.Server.Port = env.ServerPort
	}
	if env.JWTSecret != "" {
		c.JWT.Secret = env.JWTSecret
	}
	if env.RedisAddr != "" {
		c.Redis.Addr = env.RedisAddr
	}
	if len(env.KafkaBrokers) > 0 {
		c.Kafka.Brokers = env.KafkaBrokers
	}
	if env.InternalAPIKey != "" {
		c.Internal.APIKey = env.InternalAPIKey
	}
	if env.PushProvider != "" {
		c.Push.Provider = env.PushProvider
	}
	if env.PushCredentials != "" {
		c.Push.CredentialsFile = env.PushCredentials
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 4000
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.JWT.TTL == 0 {
		c.JWT.TTL = 60
	}
	if c.Push.Provider == "" {
		c.Push.Provider = "log"
	}
	if c.Push.MaxTokens == 0 {
		// лимит FCM на один multicast
		c.Push.MaxTokens = 500
	}
	if c.Redis.EventTTLSeconds == 0 {
		c.Redis.EventTTLSeconds = 24 * 60 * 60
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "chat.message-sent"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "readstate-workers"
	}
	if c.Unread.FanoutConcurrency == 0 {
		c.Unread.FanoutConcurrency = 8
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.url is required for driver %q", c.Database.Driver)
		}
	case "badger":
		if c.Database.BadgerPath == "" {
			return errors.New("database.badger_path is required for driver \"badger\"")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	if c.Push.Provider == "fcm" && c.Push.CredentialsFile == "" {
		return errors.New("push.credentials_file is required for provider \"fcm\"")
	}
	return nil
}

// GetConfig возвращает загруженный конфиг
func GetConfig() *Config {
	return AppConfig
}
