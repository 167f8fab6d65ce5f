package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SHOP_NAME", "SHOP_DISPLAY_NAME", "ALLVALUE_API_VERSION", "ALLVALUE_GRAPHQL_ENDPOINT", "ALLVALUE_SHOP_DOMAIN",
		"ALLVALUE_SHOP_HEADER", "ORDER_SYNC_PORT", "PORT", "DB_DRIVER", "DB_PATH", "ALLVALUE_CLIENT_ID",
		"ALLVALUE_CLIENT_SECRET", "ALLVALUE_TOKEN_URL", "POLL_INTERVAL_SECONDS", "POLL_PAGE_SIZE", "CORS_ALLOWED_ORIGINS", "GO_ENV",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDerivesShopEndpoints(t *testing.T) {
	clearEnv(t)
	t.Setenv("SHOP_NAME", "teashop")
	t.Setenv("POLL_INTERVAL_SECONDS", "600")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://teashop.myallvalue.com/admin/api/open/graphql/v202108", s.GraphQLEndpoint)
	assert.Equal(t, "teashop.myallvalue.com", s.ShopDomain)
	assert.Equal(t, "teashop", s.ShopDisplayName)
	assert.Equal(t, "8080", s.Port)
	assert.Equal(t, "sqlite", s.DBDriver)
	assert.Equal(t, 10*time.Minute, s.PollInterval)
	assert.Equal(t, 50, s.PollPageSize)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, s.CORSAllowedOrigins)
	assert.False(t, s.IsProduction())
}

func TestLoadExplicitEndpointWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("SHOP_NAME", "teashop")
	t.Setenv("ALLVALUE_GRAPHQL_ENDPOINT", "http://localhost:9000/graphql")
	t.Setenv("GO_ENV", "Production")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/graphql", s.GraphQLEndpoint)
	assert.True(t, s.IsProduction())
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := map[string]map[string]string{
		"missing shop":          {},
		"bad driver":            {"SHOP_NAME": "teashop", "DB_DRIVER": "oracle"},
		"bad port":              {"SHOP_NAME": "teashop", "PORT": "http"},
		"oauth without secret":  {"SHOP_NAME": "teashop", "ALLVALUE_CLIENT_ID": "id", "ALLVALUE_TOKEN_URL": "https://auth.example/token"},
		"page size too large":   {"SHOP_NAME": "teashop", "POLL_PAGE_SIZE": "1000"},
		"origin without scheme": {"SHOP_NAME": "teashop", "CORS_ALLOWED_ORIGINS": "example.com"},
		"origin with path":      {"SHOP_NAME": "teashop", "CORS_ALLOWED_ORIGINS": "https://example.com/admin"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
