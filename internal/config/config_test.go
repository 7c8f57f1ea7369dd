package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load with no file failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("addr = %s", cfg.Server.Addr())
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("default brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Sweeper.Interval != time.Hour {
		t.Errorf("default sweep interval = %s", cfg.Sweeper.Interval)
	}
	if !cfg.Sweeper.SendReminders {
		t.Error("reminders should default on")
	}
	if cfg.Sweeper.ReminderDaysBefore != 3 {
		t.Errorf("reminder window = %d, want 3", cfg.Sweeper.ReminderDaysBefore)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("RXOPS_SERVER_PORT", "9999")
	t.Setenv("RXOPS_GUARDS_DUR_SERVICE_URL", "http://dur.internal:8080")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want env override 9999", cfg.Server.Port)
	}
	if cfg.Guards.DURServiceURL != "http://dur.internal:8080" {
		t.Errorf("dur url = %s", cfg.Guards.DURServiceURL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 0 }},
		{"missing database url", func(c *Config) { c.Database.URL = "" }},
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }},
		{"sample rate out of range", func(c *Config) { c.Tracing.SampleRate = 2 }},
		{"sweep interval too short", func(c *Config) { c.Sweeper.Interval = time.Second }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("load failed: %v", err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
