package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ms-eventchain/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the HMAC token shape: subject, optional email and a role list.
type Claims struct {
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// ExtractTokenFromRequest reads a bearer token from the Authorization header.
// When allowQuery is set, the access_token query parameter is accepted too,
// since browsers cannot set headers on EventSource or WebSocket requests.
func ExtractTokenFromRequest(r *http.Request, allowQuery bool) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if allowQuery {
			if token := r.URL.Query().Get("access_token"); token != "" {
				return token, nil
			}
		}
		return "", errors.New("authorization header is missing")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}

	return parts[1], nil
}

// parseHMAC verifies signature, expiry and subject.
func parseHMAC(tokenString string, secret []byte) (models.Actor, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithExpirationRequired())
	if err != nil {
		return models.Actor{}, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.Subject == "" {
		return models.Actor{}, errors.New("subject claim not found in token")
	}

	return models.Actor{
		UserID: claims.Subject,
		Email:  claims.Email,
		Roles:  toRoles(claims.Roles),
	}, nil
}

// IssueToken signs an HMAC token for actor. Used by tooling and tests.
func IssueToken(secret []byte, actor models.Actor, ttl time.Duration) (string, error) {
	roles := make([]string, 0, len(actor.Roles))
	for _, r := range actor.Roles {
		roles = append(roles, string(r))
	}
	now := time.Now()
	claims := Claims{
		Email: actor.Email,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func toRoles(raw []string) []models.Role {
	roles := make([]models.Role, 0, len(raw))
	for _, r := range raw {
		r = strings.ToUpper(strings.TrimPrefix(r, "ROLE_"))
		if r != "" {
			roles = append(roles, models.Role(r))
		}
	}
	return roles
}

// tokenAlgorithm peeks at the header without trusting anything else.
func tokenAlgorithm(tokenString string) (string, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("failed to parse token header: %w", err)
	}
	alg, _ := token.Header["alg"].(string)
	return alg, nil
}
