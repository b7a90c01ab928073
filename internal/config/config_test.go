package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raphaelgruber/brieflow/internal/evidence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"BRIEFLOW_STORE", "BRIEFLOW_LLM_PROVIDER", "BRIEFLOW_PHASE_TIMEOUT",
		"BRIEFLOW_CHECKPOINT_KEEP", "BRIEFLOW_EVIDENCE_WORKERS", "BRIEFLOW_PACKET_BUDGET",
		"BRIEFLOW_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	assert.Equal(t, StoreDir, cfg.Store)
	assert.Equal(t, ProviderNone, cfg.LLMProvider)
	assert.Equal(t, 10*time.Minute, cfg.PhaseTimeout)
	assert.Equal(t, 10, cfg.CheckpointKeep)
	assert.Equal(t, 4, cfg.EvidenceWorkers)
	assert.Equal(t, 2000, cfg.PacketBudget)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Contains(t, cfg.Profiles, evidence.CaseGeneral)
	require.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("BRIEFLOW_STORE", "redis")
	t.Setenv("REDIS_URL", "redis://cache:6379/2")
	t.Setenv("BRIEFLOW_LLM_PROVIDER", "Anthropic")
	t.Setenv("BRIEFLOW_LLM_MODEL", "claude-sonnet")
	t.Setenv("BRIEFLOW_PHASE_TIMEOUT", "90s")
	t.Setenv("BRIEFLOW_CHECKPOINT_KEEP", "3")
	t.Setenv("BRIEFLOW_EVIDENCE_WORKERS", "not-a-number")
	t.Setenv("BRIEFLOW_LOG_LEVEL", "debug")

	cfg := FromEnv()
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, "redis://cache:6379/2", cfg.RedisURL)
	assert.Equal(t, ProviderAnthropic, cfg.LLMProvider)
	assert.Equal(t, 90*time.Second, cfg.PhaseTimeout)
	assert.Equal(t, 3, cfg.CheckpointKeep)
	assert.Equal(t, 4, cfg.EvidenceWorkers, "invalid value falls back to default")
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store", func(c *Config) { c.Store = "postgres" }},
		{"dir store without dir", func(c *Config) { c.Store = StoreDir; c.DataDir = "" }},
		{"unknown provider", func(c *Config) { c.LLMProvider = "gemini" }},
		{"provider without model", func(c *Config) { c.LLMProvider = ProviderOllama; c.LLMModel = "" }},
		{"zero keep", func(c *Config) { c.CheckpointKeep = 0 }},
		{"zero workers", func(c *Config) { c.EvidenceWorkers = 0 }},
		{"zero timeout", func(c *Config) { c.PhaseTimeout = 0 }},
		{"bad auth level", func(c *Config) { c.SurrealDBAuthLevel = "namespace" }},
		{"profile confidence out of range", func(c *Config) {
			c.Profiles["general"] = evidence.Profile{CaseType: "general", MinConfidence: 1.5}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyOverlay(t *testing.T) {
	cfg := validConfig()
	overlay := []byte(`
phase_timeout: 2m
checkpoint_keep: 25
packet_budget: 500
profiles:
  - case_type: Maritime
    primary_types: [ship_log, bill_of_lading]
    min_confidence: 0.6
  - case_type: general
    min_confidence: 0.1
`)
	require.NoError(t, cfg.ApplyOverlay(overlay))

	assert.Equal(t, 2*time.Minute, cfg.PhaseTimeout)
	assert.Equal(t, 25, cfg.CheckpointKeep)
	assert.Equal(t, 4, cfg.EvidenceWorkers, "unset overlay field keeps value")
	assert.Equal(t, 500, cfg.PacketBudget)
	assert.Equal(t, []string{"ship_log", "bill_of_lading"}, cfg.Profiles["maritime"].PrimaryTypes)
	assert.Equal(t, "maritime", cfg.Profiles["maritime"].CaseType)
	assert.InDelta(t, 0.1, cfg.Profiles["general"].MinConfidence, 1e-9)
	assert.Contains(t, cfg.Profiles, evidence.CaseContract)
	require.NoError(t, cfg.Validate())
}

func TestApplyOverlayErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "phase_timeout: [unterminated"},
		{"bad duration", "phase_timeout: soon"},
		{"profile without case type", "profiles:\n  - min_confidence: 0.2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			assert.Error(t, cfg.ApplyOverlay([]byte(tt.doc)))
		})
	}
}

func TestLoadReadsOverlayFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "brieflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("evidence_workers: 9\n"), 0o644))

	t.Chdir(dir)
	t.Setenv("BRIEFLOW_CONFIG", path)
	t.Setenv("BRIEFLOW_STORE", StoreMemory)
	t.Setenv("BRIEFLOW_LLM_PROVIDER", ProviderNone)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.EvidenceWorkers)
	assert.Equal(t, StoreMemory, cfg.Store)
}

func TestLoadMissingOverlay(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BRIEFLOW_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("phase completed", "session_id", "s1", "phase", "intake")

	assert.Contains(t, stderr.String(), "phase completed")
	assert.NotContains(t, stderr.String(), "hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &entry))
	assert.Equal(t, "s1", entry["session_id"])
	assert.Equal(t, "intake", entry["phase"])
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "brieflow.log")
	logger, cleanup := SetupLogger(path, slog.LevelInfo)
	logger.Info("checkpoint created", "session_id", "s1")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id":"s1"`)
}

func validConfig() Config {
	return Config{
		Store:              StoreMemory,
		SurrealDBAuthLevel: "root",
		LLMProvider:        ProviderNone,
		PhaseTimeout:       time.Minute,
		CheckpointKeep:     10,
		EvidenceWorkers:    4,
		PacketBudget:       2000,
		Profiles:           evidence.DefaultProfiles(),
	}
}
