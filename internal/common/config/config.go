// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Hub           HubConfig          `mapstructure:"hub"`
	Store         StoreConfig        `mapstructure:"store"`
	Geo           GeoConfig          `mapstructure:"geo"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// HubConfig holds the Maternal Hub backend endpoints and poll settings.
type HubConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	WebsocketURL        string `mapstructure:"websocket_url"`
	AuthToken           string `mapstructure:"auth_token"`
	UserID              string `mapstructure:"user_id"`
	RequestTimeout      int    `mapstructure:"request_timeout"`       // milliseconds
	PollInterval        int    `mapstructure:"poll_interval"`         // milliseconds
	RateLimitedInterval int    `mapstructure:"rate_limited_interval"` // milliseconds
	ReconnectDelay      int    `mapstructure:"reconnect_delay"`       // milliseconds
	ReconnectAttempts   int    `mapstructure:"reconnect_attempts"`
}

// StoreConfig selects and configures the durable emergency store backend.
type StoreConfig struct {
	Backend string      `mapstructure:"backend"` // "file" or "redis"
	Path    string      `mapstructure:"path"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// GeoConfig controls the best-effort location fix taken before dispatch.
type GeoConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Timeout   int     `mapstructure:"timeout"`     // milliseconds
	MaxFixAge int     `mapstructure:"max_fix_age"` // milliseconds
	HomeLat   float64 `mapstructure:"home_lat"`
	HomeLng   float64 `mapstructure:"home_lng"`
}

// NotificationConfig holds settings for outbound user notifications.
type NotificationConfig struct {
	SMS struct {
		Enabled bool   `mapstructure:"enabled"`
		Phone   string `mapstructure:"phone"`
	} `mapstructure:"sms"`
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
		ToEmail   string `mapstructure:"to_email"`
	} `mapstructure:"email"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig holds the Prometheus scrape endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// StatusURL returns the status endpoint for an emergency id.
func (h HubConfig) StatusURL(id string) string {
	return fmt.Sprintf("%s/emergency/%s/status", h.BaseURL, id)
}

// AlertURL returns the alert dispatch endpoint.
func (h HubConfig) AlertURL() string {
	return fmt.Sprintf("%s/emergency/alert", h.BaseURL)
}

// CancelURL returns the cancellation endpoint for an emergency id.
func (h HubConfig) CancelURL(id string) string {
	return fmt.Sprintf("%s/emergency/%s/cancel", h.BaseURL, id)
}
