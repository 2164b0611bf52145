package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"rentmarket/internal/models"
)

func TestLoadConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
database:
  path: "${RENTMARKET_TEST_DIR}/test.db"
booking:
  max_attempts: 5
categories:
  - id: 1
    name: "Tools"
  - id: 2
    name: "Camping"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	t.Setenv("RENTMARKET_TEST_DIR", "/var/lib/rentmarket")
	t.Setenv("RENTMARKET_JWT_SECRET", "from-env")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Database.Path != "/var/lib/rentmarket/test.db" {
		t.Errorf("expected expanded database path, got %s", cfg.Database.Path)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("expected default driver sqlite3, got %s", cfg.Database.Driver)
	}
	if cfg.Booking.MaxAttempts != 5 {
		t.Errorf("expected max_attempts 5, got %d", cfg.Booking.MaxAttempts)
	}
	if cfg.API.Auth.JWTSecret != "from-env" {
		t.Errorf("expected jwt secret from env, got %q", cfg.API.Auth.JWTSecret)
	}
	if len(cfg.Categories) != 2 || cfg.Categories[1].Name != "Camping" {
		t.Errorf("expected 2 categories, got %+v", cfg.Categories)
	}
}

func TestLoadConfig_EnvOverridesDriver(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("database:\n  path: test.db\n"), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	t.Setenv("RENTMARKET_DB_DRIVER", "mysql")
	t.Setenv("RENTMARKET_DB_DSN", "user:pass@tcp(localhost:3306)/rent?parseTime=true")
	t.Setenv("RENTMARKET_HTTP_PORT", "9999")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Database.Driver != "mysql" {
		t.Errorf("expected mysql driver, got %s", cfg.Database.Driver)
	}
	if cfg.API.HTTP.Port != 9999 {
		t.Errorf("expected http port 9999, got %d", cfg.API.HTTP.Port)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		cfg := Config{Database: DatabaseConfig{Path: "path"}}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:    "missing sqlite path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "mysql without dsn",
			mutate:  func(c *Config) { c.Database.Driver = "mysql" },
			wantErr: true,
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "postgres" },
			wantErr: true,
		},
		{
			name:    "negative attempts",
			mutate:  func(c *Config) { c.Booking.MaxAttempts = -1 },
			wantErr: true,
		},
		{
			name: "duplicate category id",
			mutate: func(c *Config) {
				c.Categories = []models.Category{{ID: 1, Name: "A"}, {ID: 1, Name: "B"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Booking.MaxBookingDays != models.DefaultMaxBookingDays {
		t.Errorf("expected default max booking days %d, got %d", models.DefaultMaxBookingDays, cfg.Booking.MaxBookingDays)
	}
	if cfg.Booking.MaxAttempts != models.DefaultCoordinatorAttempts {
		t.Errorf("expected default attempts %d, got %d", models.DefaultCoordinatorAttempts, cfg.Booking.MaxAttempts)
	}
	if cfg.Booking.PaymentGuardTTL != 30*time.Second {
		t.Errorf("expected payment guard ttl 30s, got %s", cfg.Booking.PaymentGuardTTL)
	}
	if cfg.API.GRPC.Port != 8081 {
		t.Errorf("expected default gRPC port 8081, got %d", cfg.API.GRPC.Port)
	}
	if cfg.API.RateLimit.WritesPerWindow != models.RateLimitWrites {
		t.Errorf("expected default writes per window %d, got %d", models.RateLimitWrites, cfg.API.RateLimit.WritesPerWindow)
	}
	if cfg.Notifications.QueueKey != "rentmarket:notifications" {
		t.Errorf("unexpected queue key %s", cfg.Notifications.QueueKey)
	}
}

func TestValidateCategories(t *testing.T) {
	tests := []struct {
		name       string
		categories []models.Category
		wantErr    bool
	}{
		{
			name:       "Valid categories",
			categories: []models.Category{{ID: 1, Name: "Tools"}, {ID: 2, Name: "Camping"}},
		},
		{
			name:       "Duplicate name",
			categories: []models.Category{{ID: 1, Name: "Tools"}, {ID: 2, Name: "Tools"}},
			wantErr:    true,
		},
		{
			name:       "ID 0",
			categories: []models.Category{{ID: 0, Name: "Tools"}},
			wantErr:    true,
		},
		{
			name:       "Empty name",
			categories: []models.Category{{ID: 3}},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCategories(tt.categories)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCategories() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
