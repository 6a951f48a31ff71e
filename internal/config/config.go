package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"followup-engine/backend/internal/ai"
	"followup-engine/backend/internal/messaging"
)

type Config struct {
	Server    Server    `yaml:"server"`
	Database  Database  `yaml:"database"`
	Model     Model     `yaml:"model"`
	Messaging Messaging `yaml:"messaging"`
	Log       Log       `yaml:"log"`
	Workers   Workers   `yaml:"workers"`
}

type Server struct {
	// HTTP listen port
	Port string `yaml:"port" example:"2000" validate:"required,numeric"`
	// Origins allowed by CORS; empty allows all
	AllowedOrigins []string `yaml:"allowed_origins" validate:"dive,url"`
}

type Database struct {
	// sqlite or postgres
	Driver string `yaml:"driver" example:"sqlite" validate:"oneof=sqlite postgres"`
	// File path for sqlite, connection string for postgres
	URL string `yaml:"url" example:"data/followup.db" validate:"required"`
	// Silence GORM query logging
	Silent bool `yaml:"silent"`
}

type Model struct {
	// Empty key disables the model and every turn uses the fallback triage
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url" example:"https://api.x.ai/v1" validate:"omitempty,url"`
	Name     string        `yaml:"name" example:"grok-3-mini" validate:"required"`
	Timeout  time.Duration `yaml:"timeout" example:"30s" validate:"gt=0"`
	CacheTTL time.Duration `yaml:"cache_ttl" example:"30s" validate:"gt=0"`
}

type Messaging struct {
	// mock or twilio
	Adapter          string `yaml:"adapter" example:"mock" validate:"oneof=mock twilio"`
	TwilioAccountSID string `yaml:"twilio_account_sid" validate:"required_if=Adapter twilio"`
	TwilioAuthToken  string `yaml:"twilio_auth_token" validate:"required_if=Adapter twilio"`
	TwilioFromNumber string `yaml:"twilio_from_number" validate:"required_if=Adapter twilio"`
}

type Log struct {
	Level string `yaml:"level" example:"info" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

type Workers struct {
	// Background pool size; 0 sizes it from the CPU count
	Count int `yaml:"count" validate:"gte=0"`
	Queue int `yaml:"queue" validate:"gte=0"`
}

// Load reads .env, an optional YAML file named by CONFIG_FILE, then environment overrides.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, oops.Errorf("failed to load .env file: %w", err)
	}

	var result Config
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, oops.With("path", path).Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &result); err != nil {
			return nil, oops.With("path", path).Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := result.applyEnv(); err != nil {
		return nil, err
	}
	result.applyDefaults()

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}
	return &result, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Port, "PORT")
	if origins := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); origins != "" {
		c.Server.AllowedOrigins = splitList(origins)
	}

	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.URL, "DATABASE_URL")
	if err := setBool(&c.Database.Silent, "DB_SILENT"); err != nil {
		return err
	}

	setString(&c.Model.APIKey, "GROK_API_KEY")
	setString(&c.Model.APIKey, "MODEL_API_KEY")
	setString(&c.Model.BaseURL, "MODEL_BASE_URL")
	setString(&c.Model.Name, "MODEL_NAME")
	if err := setDuration(&c.Model.Timeout, "MODEL_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&c.Model.CacheTTL, "MODEL_CACHE_TTL"); err != nil {
		return err
	}

	setString(&c.Messaging.Adapter, "MESSAGING_ADAPTER")
	setString(&c.Messaging.TwilioAccountSID, "TWILIO_ACCOUNT_SID")
	setString(&c.Messaging.TwilioAuthToken, "TWILIO_AUTH_TOKEN")
	setString(&c.Messaging.TwilioFromNumber, "TWILIO_FROM_NUMBER")

	setString(&c.Log.Level, "LOG_LEVEL")
	if err := setBool(&c.Log.JSON, "LOG_JSON"); err != nil {
		return err
	}

	if err := setInt(&c.Workers.Count, "WORKERS"); err != nil {
		return err
	}
	return setInt(&c.Workers.Queue, "WORKER_QUEUE")
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "2000"
	}
	c.Database.Driver = strings.ToLower(c.Database.Driver)
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.URL == "" && c.Database.Driver == "sqlite" {
		c.Database.URL = "data/followup.db"
	}
	if c.Model.BaseURL == "" {
		c.Model.BaseURL = "https://api.x.ai/v1"
	}
	if c.Model.Name == "" {
		c.Model.Name = "grok-3-mini"
	}
	if c.Model.Timeout == 0 {
		c.Model.Timeout = 30 * time.Second
	}
	if c.Model.CacheTTL == 0 {
		c.Model.CacheTTL = ai.DefaultCacheTTL
	}
	c.Messaging.Adapter = strings.ToLower(c.Messaging.Adapter)
	if c.Messaging.Adapter == "" {
		c.Messaging.Adapter = "mock"
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// AI returns the model client configuration.
func (c *Config) AI() ai.Config {
	return ai.Config{
		APIKey:  c.Model.APIKey,
		Model:   c.Model.Name,
		BaseURL: c.Model.BaseURL,
		Timeout: c.Model.Timeout,
	}
}

// Dispatcher returns the messaging adapter configuration.
func (c *Config) Dispatcher() messaging.Config {
	return messaging.Config{
		Adapter:          c.Messaging.Adapter,
		TwilioAccountSID: c.Messaging.TwilioAccountSID,
		TwilioAuthToken:  c.Messaging.TwilioAuthToken,
		TwilioFromNumber: c.Messaging.TwilioFromNumber,
	}
}

func setString(target *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*target = value
	}
}

func setBool(target *bool, key string) error {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return oops.With("key", key).Errorf("invalid boolean %q: %w", value, err)
	}
	*target = parsed
	return nil
}

func setInt(target *int, key string) error {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return oops.With("key", key).Errorf("invalid integer %q: %w", value, err)
	}
	*target = parsed
	return nil
}

func setDuration(target *time.Duration, key string) error {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return oops.With("key", key).Errorf("invalid duration %q: %w", value, err)
	}
	*target = parsed
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
