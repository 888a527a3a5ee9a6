package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidateAppliesDefaults(t *testing.T) {
	cfg := Config{SessionSigningKey: "secret"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, defaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, []string{defaultAllowedOrigin}, cfg.AllowedOrigins)
	assert.Equal(t, defaultSessionIssuer, cfg.SessionIssuer)
	assert.Equal(t, defaultSessionCookie, cfg.SessionCookieName)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, defaultWalletHistoryLimit, cfg.WalletHistoryLimit)
}

func TestConfigValidateRequiresSigningKey(t *testing.T) {
	cfg := Config{}
	require.Error(t, cfg.Validate())
}

func TestParseAllowedOrigins(t *testing.T) {
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, ParseAllowedOrigins(" https://a.example, ,https://b.example "))
	assert.Empty(t, ParseAllowedOrigins("  "))
}
