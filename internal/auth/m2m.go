package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
)

type TokenStore interface {
	GetToken(ctx context.Context) (*TokenCache, error)
	SetToken(ctx context.Context, token string, expiresIn time.Duration) error
}

// M2MTokenSource obtains client-credential tokens from Keycloak and keeps
// them in a shared store until shortly before expiry.
type M2MTokenSource struct {
	cfg    models.M2MConfig
	client *http.Client
	store  TokenStore
	log    *logger.Logger
}

func NewM2MTokenSource(cfg models.M2MConfig, client *http.Client, store TokenStore, log *logger.Logger) *M2MTokenSource {
	return &M2MTokenSource{cfg: cfg, client: client, store: store, log: log}
}

func (s *M2MTokenSource) Token(ctx context.Context) (string, error) {
	if s.store != nil {
		cached, err := s.store.GetToken(ctx)
		if err != nil {
			s.log.Warn("AUTH", fmt.Sprintf("Token cache read failed, fetching fresh token: %v", err))
		} else if cached != nil {
			return cached.Token, nil
		}
	}

	resp, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}

	if s.store != nil && resp.ExpiresIn > 0 {
		if err := s.store.SetToken(ctx, resp.AccessToken, time.Duration(resp.ExpiresIn)*time.Second); err != nil {
			s.log.Warn("AUTH", fmt.Sprintf("Token cache write failed: %v", err))
		}
	}
	return resp.AccessToken, nil
}

func (s *M2MTokenSource) fetch(ctx context.Context) (*models.TokenResponse, error) {
	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", s.cfg.KeycloakURL, s.cfg.KeycloakRealm)

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", s.cfg.ClientID)
	data.Set("client_secret", s.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	s.log.Debug("AUTH", fmt.Sprintf("Requesting M2M token for client %s", s.cfg.ClientID))
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("failed to get token, status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var tokenResp models.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("token response carried no access token")
	}
	return &tokenResp, nil
}
