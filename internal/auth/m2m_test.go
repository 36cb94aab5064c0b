package auth_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ms-eventchain/internal/auth"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestM2MTokenIsCachedInRedis(t *testing.T) {
	_, client := setupRedis(t)

	var calls atomic.Int32
	keycloak := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/realms/test/protocol/openid-connect/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "minter", r.Form.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-1","expires_in":300,"token_type":"Bearer"}`))
	}))
	defer keycloak.Close()

	source := auth.NewM2MTokenSource(models.M2MConfig{
		KeycloakURL:   keycloak.URL,
		KeycloakRealm: "test",
		ClientID:      "minter",
		ClientSecret:  "s3cret",
	}, keycloak.Client(), auth.NewRedisTokenCache(client, "m2m:test"), logger.Discard())

	for i := 0; i < 3; i++ {
		tok, err := source.Token(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestM2MTokenErrorStatus(t *testing.T) {
	keycloak := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad client", http.StatusUnauthorized)
	}))
	defer keycloak.Close()

	source := auth.NewM2MTokenSource(models.M2MConfig{KeycloakURL: keycloak.URL, KeycloakRealm: "r"}, keycloak.Client(), nil, logger.Discard())
	_, err := source.Token(t.Context())
	assert.ErrorContains(t, err, "401")
}

func TestTokenCacheExpiry(t *testing.T) {
	mr, client := setupRedis(t)
	cache := auth.NewRedisTokenCache(client, "m2m:expiry")

	require.NoError(t, cache.SetToken(t.Context(), "short", 30*time.Second))
	got, err := cache.GetToken(t.Context())
	require.NoError(t, err)
	assert.Nil(t, got, "token inside the refresh buffer must not be served")

	require.NoError(t, cache.SetToken(t.Context(), "long", 10*time.Minute))
	got, err = cache.GetToken(t.Context())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "long", got.Token)

	mr.FastForward(15 * time.Minute)
	got, err = cache.GetToken(t.Context())
	require.NoError(t, err)
	assert.Nil(t, got)
}
