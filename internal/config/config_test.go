package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://project.supabase.co")
	t.Setenv("SUPABASE_URL_ANON_KEY", "anon")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017/?replicaSet=rs0")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "platerank", cfg.MongoDBDatabase)
	assert.Equal(t, 60*time.Second, cfg.RankingCacheTTL)
	assert.Equal(t, 3, cfg.TxMaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.TxTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.TxRetryBackoff)
	assert.Equal(t, 5.0, cfg.ReactionRateLimitRPS)
	assert.Equal(t, 10, cfg.ReactionRateLimitBurst)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.True(t, cfg.IsDevelopment())
	assert.Empty(t, cfg.RedisURL)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("TX_MAX_ATTEMPTS", "5")
	t.Setenv("TX_TIMEOUT", "2s")
	t.Setenv("RANKING_CACHE_TTL", "0s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, 5, cfg.TxMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.TxTimeout)
	assert.Zero(t, cfg.RankingCacheTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.IsProduction())
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing mongo uri", map[string]string{"MONGODB_URI": ""}, "MONGODB_URI is required"},
		{"password placeholder", map[string]string{"MONGODB_URI": "mongodb+srv://u:<password>@host"}, "MONGODB_PASSWORD is required"},
		{"bad attempts", map[string]string{"TX_MAX_ATTEMPTS": "many"}, "TX_MAX_ATTEMPTS must be an integer"},
		{"zero attempts", map[string]string{"TX_MAX_ATTEMPTS": "0"}, "TX_MAX_ATTEMPTS must be at least 1"},
		{"bad duration", map[string]string{"TX_TIMEOUT": "soon"}, "TX_TIMEOUT must be a duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
