package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"cityeye-service/internal/zone"
)

type HTTPConfig struct {
	Host               string
	Port               int
	CORSAllowedOrigins []string
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime string
}

type AuthConfig struct {
	AccessSecret string
}

type PlatformConfig struct {
	BaseURL string
	Timeout time.Duration
}

type EditorConfig struct {
	CanvasWidth    int
	CanvasHeight   int
	MaxZones       int
	SessionTTL     time.Duration
	CaptureTimeout time.Duration
}

type AnalyticsConfig struct {
	Timezone string
	Location *time.Location
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Platform    PlatformConfig
	Editor      EditorConfig
	Analytics   AnalyticsConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")

	v.AutomaticEnv()

	_ = v.ReadInConfig()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host:               v.GetString("HTTP_HOST"),
			Port:               v.GetInt("HTTP_PORT"),
			CORSAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetString("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Platform: PlatformConfig{
			BaseURL: v.GetString("PLATFORM_BASE_URL"),
			Timeout: v.GetDuration("PLATFORM_TIMEOUT"),
		},
		Editor: EditorConfig{
			CanvasWidth:    v.GetInt("EDITOR_CANVAS_WIDTH"),
			CanvasHeight:   v.GetInt("EDITOR_CANVAS_HEIGHT"),
			MaxZones:       v.GetInt("EDITOR_MAX_ZONES"),
			SessionTTL:     v.GetDuration("EDITOR_SESSION_TTL"),
			CaptureTimeout: v.GetDuration("CAPTURE_TIMEOUT"),
		},
		Analytics: AnalyticsConfig{
			Timezone: v.GetString("ANALYTICS_TIMEZONE"),
		},
	}

	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 7090
	}
	if len(cfg.HTTP.CORSAllowedOrigins) == 0 {
		cfg.HTTP.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Platform.Timeout <= 0 {
		cfg.Platform.Timeout = 15 * time.Second
	}
	if cfg.Editor.CanvasWidth <= 0 {
		cfg.Editor.CanvasWidth = 640
	}
	if cfg.Editor.CanvasHeight <= 0 {
		cfg.Editor.CanvasHeight = 360
	}
	if cfg.Editor.MaxZones <= 0 {
		cfg.Editor.MaxZones = zone.DefaultMaxZones
	}
	if cfg.Editor.SessionTTL <= 0 {
		cfg.Editor.SessionTTL = 30 * time.Minute
	}
	if cfg.Editor.CaptureTimeout <= 0 {
		cfg.Editor.CaptureTimeout = 60 * time.Second
	}
	if cfg.Analytics.Timezone == "" {
		cfg.Analytics.Timezone = "UTC"
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.Platform.BaseURL == "" {
		return fmt.Errorf("PLATFORM_BASE_URL is required")
	}
	// detection_zones.zone_id is constrained to 1..DefaultMaxZones
	if cfg.Editor.MaxZones > zone.DefaultMaxZones {
		return fmt.Errorf("EDITOR_MAX_ZONES must not exceed %d", zone.DefaultMaxZones)
	}
	loc, err := time.LoadLocation(cfg.Analytics.Timezone)
	if err != nil {
		return fmt.Errorf("ANALYTICS_TIMEZONE: %w", err)
	}
	cfg.Analytics.Location = loc
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
