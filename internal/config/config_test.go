package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsValidate(t *testing.T) {
	os.Setenv("CMDB_AUTH_OPERATOR_TOKENS", "op-token-1")
	defer os.Unsetenv("CMDB_AUTH_OPERATOR_TOKENS")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"manual", "azure", "vcenter", "zabbix", "k8s"}, cfg.App.SourcePrecedence)
	assert.True(t, cfg.MakerChecker.Enabled)
}

func TestValidate_RejectsBadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_StaticModeRequiresTokens(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.ServiceAuthMode = "static"
	cfg.Auth.OperatorTokens = nil
	cfg.Auth.ViewerTokens = nil
	cfg.Auth.ApproverTokens = nil
	assert.Error(t, cfg.Validate())
}

func TestValidate_HybridModeRequiresOIDCFields(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.ServiceAuthMode = "hybrid"
	cfg.Auth.OIDCIssuer = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_MakerCheckerEnabledRequiresTTL(t *testing.T) {
	cfg := validConfig()
	cfg.MakerChecker.Enabled = true
	cfg.MakerChecker.DefaultTTL = 0
	assert.Error(t, cfg.Validate())
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			URL: "postgres://localhost/cmdb",
		},
		App: AppConfig{
			SourcePrecedence: []string{"manual", "azure"},
		},
		Auth: AuthConfig{
			ServiceAuthMode: "static",
			OperatorTokens:  []string{"op-1"},
		},
		MakerChecker: MakerCheckerConfig{
			Enabled:    true,
			DefaultTTL: 60,
		},
	}
}
