package bootstrap

import (
	"fmt"
	"net/http"

	"ms-eventchain/internal/auth"
	"ms-eventchain/internal/config"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/minting"
	"ms-eventchain/internal/models"

	"github.com/go-redis/redis/v8"
)

const m2mTokenKey = "eventchain:m2m:mint_token"

// NewChain picks the chain client: the HTTP chain service when a URL is
// configured, otherwise the Redis-backed local allocator.
func NewChain(cfg *config.Config, rdb *redis.Client, log *logger.Logger) minting.Chain {
	if cfg.Minting.LocalMode || cfg.Minting.ServiceURL == "" {
		log.Warn("MINT", "Using the local token allocator; no chain service configured")
		return minting.NewLocalMinter(rdb)
	}

	client := &http.Client{Timeout: cfg.Minting.RequestTimeout}
	tokens := auth.NewM2MTokenSource(models.M2MConfig{
		KeycloakURL:   cfg.Minting.KeycloakURL,
		KeycloakRealm: cfg.Minting.KeycloakRealm,
		ClientID:      cfg.Minting.ClientID,
		ClientSecret:  cfg.Minting.ClientSecret,
	}, client, auth.NewRedisTokenCache(rdb, m2mTokenKey), log)

	log.Info("MINT", fmt.Sprintf("Minting through %s", cfg.Minting.ServiceURL))
	return minting.NewHTTPMinter(cfg.Minting.ServiceURL, client, tokens, log)
}
