package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newViper(values map[string]interface{}) *viper.Viper {
	v := viper.New()
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func required() map[string]interface{} {
	return map[string]interface{}{
		"DB_DSN":            "postgres://localhost/cityeye",
		"JWT_ACCESS_SECRET": "secret",
		"PLATFORM_BASE_URL": "https://platform.example",
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := fromViper(newViper(required()))
	if err != nil {
		t.Fatalf("fromViper: %v", err)
	}

	if cfg.HTTP.Host != "0.0.0.0" || cfg.HTTP.Port != 7090 {
		t.Errorf("http = %+v", cfg.HTTP)
	}
	if cfg.Environment != "development" {
		t.Errorf("environment = %q", cfg.Environment)
	}
	if cfg.Editor.CanvasWidth != 640 || cfg.Editor.CanvasHeight != 360 || cfg.Editor.MaxZones != 8 {
		t.Errorf("editor = %+v", cfg.Editor)
	}
	if cfg.Editor.SessionTTL != 30*time.Minute || cfg.Editor.CaptureTimeout != time.Minute {
		t.Errorf("editor durations = %+v", cfg.Editor)
	}
	if cfg.Analytics.Location != time.UTC {
		t.Errorf("location = %v", cfg.Analytics.Location)
	}
	if len(cfg.HTTP.CORSAllowedOrigins) != 1 || cfg.HTTP.CORSAllowedOrigins[0] != "*" {
		t.Errorf("cors = %v", cfg.HTTP.CORSAllowedOrigins)
	}
}

func TestOverrides(t *testing.T) {
	values := required()
	values["EDITOR_CANVAS_WIDTH"] = 800
	values["EDITOR_SESSION_TTL"] = "5m"
	values["CORS_ALLOWED_ORIGINS"] = "https://a.example, https://b.example,"
	values["ANALYTICS_TIMEZONE"] = "Asia/Tokyo"

	cfg, err := fromViper(newViper(values))
	if err != nil {
		t.Fatalf("fromViper: %v", err)
	}
	if cfg.Editor.CanvasWidth != 800 || cfg.Editor.SessionTTL != 5*time.Minute {
		t.Errorf("editor = %+v", cfg.Editor)
	}
	if len(cfg.HTTP.CORSAllowedOrigins) != 2 || cfg.HTTP.CORSAllowedOrigins[1] != "https://b.example" {
		t.Errorf("cors = %v", cfg.HTTP.CORSAllowedOrigins)
	}
	if cfg.Analytics.Location.String() != "Asia/Tokyo" {
		t.Errorf("location = %v", cfg.Analytics.Location)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[string]interface{})
		wantErr string
	}{
		{"missing dsn", func(m map[string]interface{}) { delete(m, "DB_DSN") }, "DB_DSN"},
		{"missing secret", func(m map[string]interface{}) { delete(m, "JWT_ACCESS_SECRET") }, "JWT_ACCESS_SECRET"},
		{"missing platform", func(m map[string]interface{}) { delete(m, "PLATFORM_BASE_URL") }, "PLATFORM_BASE_URL"},
		{"too many zones", func(m map[string]interface{}) { m["EDITOR_MAX_ZONES"] = 9 }, "EDITOR_MAX_ZONES"},
		{"bad timezone", func(m map[string]interface{}) { m["ANALYTICS_TIMEZONE"] = "Mars/Olympus" }, "ANALYTICS_TIMEZONE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := required()
			tt.mutate(values)
			_, err := fromViper(newViper(values))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}
