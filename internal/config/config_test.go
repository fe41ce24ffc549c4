// ABOUTME: Tests for configuration loading
// ABOUTME: Covers env var expansion, duration parsing, defaults, and validation failures

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/var/lib/relaydesk/relaydesk.db"
auth:
  jwt_secret: "super-secret"
  token_ttl: "12h"
responder:
  static_reply: "Thanks for reaching out."
  generation_timeout: "30s"
notifications:
  enabled: true
  to: "ops@example.com"
logging:
  level: "debug"
  format: "json"
metrics:
  enabled: true
  path: "/metrics"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/var/lib/relaydesk/relaydesk.db", cfg.Database.Path)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 30*time.Second, cfg.Responder.GenerationTimeout)
	assert.True(t, cfg.Notifications.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("RELAYDESK_TEST_SECRET", "from-env")
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/test.db"
auth:
  jwt_secret: "${RELAYDESK_TEST_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestDurationDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/test.db"
auth:
  jwt_secret: "s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 60*time.Second, cfg.Responder.GenerationTimeout)
}

func TestInvalidDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/test.db"
auth:
  jwt_secret: "s"
  token_ttl: "soon"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_ttl")
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing http addr",
			yaml:    "database:\n  path: /tmp/x.db\nauth:\n  jwt_secret: s\n",
			wantErr: "server.http_addr",
		},
		{
			name:    "missing database path",
			yaml:    "server:\n  http_addr: ':8080'\nauth:\n  jwt_secret: s\n",
			wantErr: "database.path",
		},
		{
			name:    "missing jwt secret",
			yaml:    "server:\n  http_addr: ':8080'\ndatabase:\n  path: /tmp/x.db\n",
			wantErr: "auth.jwt_secret",
		},
		{
			name:    "notifications without recipient",
			yaml:    "server:\n  http_addr: ':8080'\ndatabase:\n  path: /tmp/x.db\nauth:\n  jwt_secret: s\nnotifications:\n  enabled: true\n",
			wantErr: "notifications.to",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
