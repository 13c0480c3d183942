package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MegaGrindStone/chatbot-ui/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, `
port: "9000"
title: Assistente
backendURL: https://bot.example.com/api/
storePath: /tmp/chatbot-ui-test.db
requestTimeout: 3s
retryMax: 5
`)
	t.Setenv("CHATBOTUI_RETRY_MAX", "1")
	t.Setenv("CHATBOTUI_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "Assistente", cfg.Title)
	assert.Equal(t, "https://bot.example.com/api/", cfg.BackendURL)
	assert.Equal(t, "/tmp/chatbot-ui-test.db", cfg.StorePath)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 1, cfg.RetryMax)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, config.Default().WriteTimeout, cfg.WriteTimeout)

	endpoint, err := cfg.RealtimeEndpoint()
	require.NoError(t, err)
	assert.Equal(t, "wss://bot.example.com/api/ws", endpoint)
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg, err := config.Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)

	def := config.Default()
	assert.Equal(t, def.Port, cfg.Port)
	assert.Equal(t, def.BackendURL, cfg.BackendURL)
	assert.Equal(t, filepath.Join(dir, "chatbot-ui", "store.db"), cfg.StorePath)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{
			name:    "Malformed yaml",
			content: "port: [",
		},
		{
			name:    "Bad backend scheme",
			content: "backendURL: ftp://example.com\nstorePath: /tmp/x.db",
		},
		{
			name:    "Bad duration from env",
			content: "storePath: /tmp/x.db",
			env:     map[string]string{"CHATBOTUI_REQUEST_TIMEOUT": "soon"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load(writeFile(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := config.Default()
	valid.StorePath = "/tmp/store.db"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"Empty port", func(c *config.Config) { c.Port = "" }},
		{"Missing backend host", func(c *config.Config) { c.BackendURL = "http://" }},
		{"Bad realtime scheme", func(c *config.Config) { c.RealtimeURL = "http://example.com/ws" }},
		{"Empty store path", func(c *config.Config) { c.StorePath = "" }},
		{"Zero request timeout", func(c *config.Config) { c.RequestTimeout = 0 }},
		{"Negative retries", func(c *config.Config) { c.RetryMax = -1 }},
		{"Zero write timeout", func(c *config.Config) { c.WriteTimeout = 0 }},
		{"Unknown log level", func(c *config.Config) { c.LogLevel = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRealtimeEndpoint(t *testing.T) {
	tests := []struct {
		name        string
		backendURL  string
		realtimeURL string
		path        string
		want        string
	}{
		{
			name:       "Derived from http",
			backendURL: "http://127.0.0.1:5000",
			path:       "/ws",
			want:       "ws://127.0.0.1:5000/ws",
		},
		{
			name:       "Derived from https with base path",
			backendURL: "https://example.com/bot/",
			path:       "socket",
			want:       "wss://example.com/bot/socket",
		},
		{
			name:        "Explicit",
			backendURL:  "http://127.0.0.1:5000",
			realtimeURL: "wss://rt.example.com/events",
			want:        "wss://rt.example.com/events",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.BackendURL = tt.backendURL
			cfg.RealtimeURL = tt.realtimeURL
			cfg.RealtimePath = tt.path

			got, err := cfg.RealtimeEndpoint()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
