package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/utils"

	"github.com/coreos/go-oidc/v3/oidc"
)

type contextKey string

const actorKey contextKey = "actor"

// Verifier turns bearer tokens into actors. HMAC tokens are checked against
// the shared secret; anything else goes to the OIDC provider when one is
// configured.
type Verifier struct {
	secret []byte
	oidc   *oidc.IDTokenVerifier
	log    *logger.Logger
}

func NewVerifier(ctx context.Context, secret, issuer string, log *logger.Logger) (*Verifier, error) {
	v := &Verifier{secret: []byte(secret), log: log}

	if issuer != "" {
		provider, err := oidc.NewProvider(ctx, issuer)
		if err != nil {
			return nil, fmt.Errorf("create OIDC provider: %w", err)
		}
		v.oidc = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
		log.Info("AUTH", fmt.Sprintf("OIDC verification enabled for issuer %s", issuer))
	}
	if len(v.secret) == 0 && v.oidc == nil {
		return nil, errors.New("neither JWT_SECRET nor OIDC_ISSUER is configured")
	}
	return v, nil
}

// NewHMACVerifier is the secret-only variant.
func NewHMACVerifier(secret []byte, log *logger.Logger) *Verifier {
	return &Verifier{secret: secret, log: log}
}

func (v *Verifier) Verify(ctx context.Context, rawToken string) (models.Actor, error) {
	alg, err := tokenAlgorithm(rawToken)
	if err != nil {
		return models.Actor{}, err
	}

	if strings.HasPrefix(alg, "HS") {
		if len(v.secret) == 0 {
			return models.Actor{}, errors.New("HMAC tokens are not accepted")
		}
		return parseHMAC(rawToken, v.secret)
	}

	if v.oidc == nil {
		return models.Actor{}, fmt.Errorf("unsupported token algorithm %q", alg)
	}
	idToken, err := v.oidc.Verify(ctx, rawToken)
	if err != nil {
		return models.Actor{}, fmt.Errorf("invalid token: %w", err)
	}

	var claims struct {
		Sub         string   `json:"sub"`
		Email       string   `json:"email"`
		Roles       []string `json:"roles"`
		RealmAccess struct {
			Roles []string `json:"roles"`
		} `json:"realm_access"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return models.Actor{}, fmt.Errorf("failed to parse claims: %w", err)
	}

	return models.Actor{
		UserID: claims.Sub,
		Email:  claims.Email,
		Roles:  toRoles(append(claims.Roles, claims.RealmAccess.Roles...)),
	}, nil
}

func (v *Verifier) authenticate(r *http.Request, allowQuery bool) (models.Actor, error) {
	raw, err := ExtractTokenFromRequest(r, allowQuery)
	if err != nil {
		return models.Actor{}, err
	}
	return v.Verify(r.Context(), raw)
}

// Middleware rejects requests without a valid bearer token and stores the
// actor in the request context.
func (v *Verifier) Middleware() func(http.Handler) http.Handler {
	return v.middleware(false)
}

// StreamMiddleware also accepts ?access_token= for SSE and websocket routes.
func (v *Verifier) StreamMiddleware() func(http.Handler) http.Handler {
	return v.middleware(true)
}

func (v *Verifier) middleware(allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := v.authenticate(r, allowQuery)
			if err != nil {
				v.log.LogSecurity("AUTH_REJECTED", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
				utils.WriteError(w, apperr.Unauthorized("invalid or missing token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// RequireRoles lets the request through when the actor holds any of roles.
func RequireRoles(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFrom(r.Context())
			if !ok {
				utils.WriteError(w, apperr.Unauthorized("authentication required"))
				return
			}
			if !actor.HasRole(roles...) {
				utils.WriteError(w, apperr.Forbidden("insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFrom(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(models.Actor)
	return actor, ok
}

// UserID is a shortcut for handlers that only need the subject.
func UserID(ctx context.Context) string {
	actor, _ := ActorFrom(ctx)
	return actor.UserID
}
