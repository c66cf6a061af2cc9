package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Типы хранилища, выбираемые в конфиге.
const (
	StorageInMemory  = "in-memory"
	StoragePostgres  = "postgres"
	StorageFirestore = "firestore"
)

// Config - конфигурация сервиса. Значения читаются из YAML-файла
// (опционально) и переопределяются переменными окружения с префиксом BLOG_.
type Config struct {
	Port             string `yaml:"port"`
	Storage          string `yaml:"storage"`
	PostgresDSN      string `yaml:"postgres_dsn"`
	FirestoreProject string `yaml:"firestore_project"`
	FirestoreCreds   string `yaml:"firestore_credentials_file"`

	// Максимальная глубина обхода графа одним запросом.
	QueryMaxDepth int `yaml:"query_max_depth"`
	// Окно жизни ключа запроса в секундах; после него состояние
	// запроса вытесняется и дальнейшие резолверы получают отказ.
	QueryMaxTimeSeconds int `yaml:"query_max_time_seconds"`
	// Выключенная аутентификация пропускает проверку секрета,
	// но пользователь по handle все равно должен существовать.
	EnableAuth bool `yaml:"enable_auth"`

	LogDev bool `yaml:"log_dev"`
}

func defaults() *Config {
	return &Config{
		Port:                "8080",
		Storage:             StorageInMemory,
		QueryMaxDepth:       3,
		QueryMaxTimeSeconds: 60,
		EnableAuth:          true,
	}
}

// Load читает конфигурацию: defaults -> YAML-файл (если path не пустой) -> env.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Port, "BLOG_PORT")
	setString(&cfg.Storage, "BLOG_STORAGE")
	setString(&cfg.PostgresDSN, "BLOG_POSTGRES_DSN")
	setString(&cfg.FirestoreProject, "BLOG_FIRESTORE_PROJECT")
	setString(&cfg.FirestoreCreds, "BLOG_FIRESTORE_CREDENTIALS_FILE")
	setInt(&cfg.QueryMaxDepth, "BLOG_QUERY_MAX_DEPTH")
	setInt(&cfg.QueryMaxTimeSeconds, "BLOG_QUERY_MAX_TIME_SECONDS")
	setBool(&cfg.EnableAuth, "BLOG_ENABLE_AUTH")
	setBool(&cfg.LogDev, "BLOG_LOG_DEV")
}

func (c *Config) validate() error {
	switch c.Storage {
	case StorageInMemory, StoragePostgres, StorageFirestore:
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage)
	}
	if c.QueryMaxDepth <= 0 {
		return fmt.Errorf("query_max_depth must be positive, got %d", c.QueryMaxDepth)
	}
	if c.QueryMaxTimeSeconds <= 0 {
		return fmt.Errorf("query_max_time_seconds must be positive, got %d", c.QueryMaxTimeSeconds)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
