package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Database DatabaseConfig `mapstructure:"database"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Thread   ThreadConfig   `mapstructure:"thread"`
	Session  SessionConfig  `mapstructure:"session"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

type DatabaseConfig struct {
	// Backend selects the storage implementation: memory, postgres or bolt.
	Backend  string `mapstructure:"backend"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	// BoltPath is the data file used by the bolt backend.
	BoltPath string `mapstructure:"bolt_path"`
}

type OpenAIConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	Model             string  `mapstructure:"model"`
	Temperature       float64 `mapstructure:"temperature"`
	MaxResponseLength int     `mapstructure:"max_response_length"`
}

type ThreadConfig struct {
	HistoryLimit int `mapstructure:"history_limit"`
	TopicLimit   int `mapstructure:"topic_limit"`
}

type SessionConfig struct {
	Enabled                  bool `mapstructure:"enabled"`
	ReconnectCeiling         int  `mapstructure:"reconnect_ceiling"`
	DisconnectBackoffSeconds int  `mapstructure:"disconnect_backoff_seconds"`
	ErrorBackoffSeconds      int  `mapstructure:"error_backoff_seconds"`
	QRValidityMinutes        int  `mapstructure:"qr_validity_minutes"`
}

func (s SessionConfig) DisconnectBackoff() time.Duration {
	return time.Duration(s.DisconnectBackoffSeconds) * time.Second
}

func (s SessionConfig) ErrorBackoff() time.Duration {
	return time.Duration(s.ErrorBackoffSeconds) * time.Second
}

func (s SessionConfig) QRValidity() time.Duration {
	return time.Duration(s.QRValidityMinutes) * time.Minute
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Backend:  "postgres",
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  "disable",
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("database.backend", "memory")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.bolt_path", "data/persona-relay.bolt")
	v.SetDefault("openai.model", "gpt-3.5-turbo")
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("openai.max_response_length", 1000)
	v.SetDefault("thread.history_limit", 50)
	v.SetDefault("thread.topic_limit", 10)
	v.SetDefault("session.enabled", true)
	v.SetDefault("session.reconnect_ceiling", 3)
	v.SetDefault("session.disconnect_backoff_seconds", 5)
	v.SetDefault("session.error_backoff_seconds", 3)
	v.SetDefault("session.qr_validity_minutes", 5)

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	return &config, nil
}
