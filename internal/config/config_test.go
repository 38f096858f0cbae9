package config

import (
	"os"
	"reflect"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{
		"PORT", "SERVER_PORT", "DATABASE_URL", "EVENTS_EXCHANGE", "ALLOWED_ORIGINS",
		"HANDOVER_CODE_TTL_MINUTES", "HANDOVER_CODE_LENGTH", "MEALS_PER_KG", "CO2_PER_KG",
		"VALUE_PER_MEAL", "BADGE_RECONCILE_SCHEDULE",
	} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("expected empty DatabaseURL, got %q", cfg.DatabaseURL)
	}
	if cfg.EventsExchange != "mealmitra.events" {
		t.Fatalf("unexpected exchange %q", cfg.EventsExchange)
	}
	if cfg.HandoverCodeTTLMinutes != 60 || cfg.HandoverCodeLength != 6 {
		t.Fatalf("unexpected handover defaults ttl=%d length=%d", cfg.HandoverCodeTTLMinutes, cfg.HandoverCodeLength)
	}
	if cfg.MealsPerKg != 2 || cfg.CO2PerKg != 0.5 || cfg.ValuePerMeal != 40 {
		t.Fatalf("unexpected impact policy %v/%v/%v", cfg.MealsPerKg, cfg.CO2PerKg, cfg.ValuePerMeal)
	}
	if cfg.BadgeReconcileSchedule != "@every 15m" {
		t.Fatalf("unexpected schedule %q", cfg.BadgeReconcileSchedule)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"*"}) {
		t.Fatalf("expected wildcard origins, got %v", cfg.AllowedOrigins)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "7000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "7000" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_InvalidValuesAreCoerced(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "HANDOVER_CODE_TTL_MINUTES", "-5")
	setEnvWithCleanup(t, "HANDOVER_CODE_LENGTH", "2")
	setEnvWithCleanup(t, "MEALS_PER_KG", "0")
	setEnvWithCleanup(t, "CO2_PER_KG", "-1")
	setEnvWithCleanup(t, "EVENTS_EXCHANGE", "   ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.HandoverCodeTTLMinutes != 60 {
		t.Fatalf("expected ttl to fall back to 60, got %d", cfg.HandoverCodeTTLMinutes)
	}
	if cfg.HandoverCodeLength != 6 {
		t.Fatalf("expected code length to fall back to 6, got %d", cfg.HandoverCodeLength)
	}
	if cfg.MealsPerKg != 2 || cfg.CO2PerKg != 0.5 {
		t.Fatalf("expected impact factors to fall back, got %v/%v", cfg.MealsPerKg, cfg.CO2PerKg)
	}
	if cfg.EventsExchange != "mealmitra.events" {
		t.Fatalf("expected blank exchange to fall back, got %q", cfg.EventsExchange)
	}
}

func TestLoadConfig_ParsesOriginsAndExtractorAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "ALLOWED_ORIGINS", "https://mealmitra.in, http://localhost:3000")
	unsetEnvWithCleanup(t, "EXTRACTOR_URL")
	setEnvWithCleanup(t, "AI_SERVICE_URL", "http://extractor:8000/")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	want := []string{"https://mealmitra.in", "http://localhost:3000"}
	if !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Fatalf("expected %v, got %v", want, cfg.AllowedOrigins)
	}
	if cfg.ExtractorURL != "http://extractor:8000" {
		t.Fatalf("expected alias extractor url without trailing slash, got %q", cfg.ExtractorURL)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
