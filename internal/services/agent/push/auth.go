package push

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/titanfleet/fleet-agent/internal/platform/errors"
)

// DefaultIssuer is the expected issuer of push ingress tokens.
const DefaultIssuer = "titan-fleet-push"

// TokenConfig defines how push ingress tokens are signed and verified.
type TokenConfig struct {
	Secret []byte
	Issuer string
	Now    func() time.Time
}

// Enabled reports whether a shared secret is configured.
func (c TokenConfig) Enabled() bool {
	return len(c.Secret) > 0
}

func (c TokenConfig) issuer() string {
	if strings.TrimSpace(c.Issuer) == "" {
		return DefaultIssuer
	}
	return c.Issuer
}

func (c TokenConfig) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}

// SignToken issues an HS256 token valid for ttl.
func SignToken(cfg TokenConfig, subject string, ttl time.Duration) (string, error) {
	if !cfg.Enabled() {
		return "", errors.New("push token secret is not configured")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := cfg.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    cfg.issuer(),
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(cfg.Secret)
}

// VerifyToken validates a bearer token. A config without a secret accepts
// every request.
func VerifyToken(cfg TokenConfig, authorization string) error {
	if !cfg.Enabled() {
		return nil
	}
	raw, ok := strings.CutPrefix(strings.TrimSpace(authorization), "Bearer ")
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return apperrors.New(apperrors.CodeInvalidPushToken, "push token is required")
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return mapJWTError(err)
	}
	if claims.Issuer != cfg.issuer() {
		return apperrors.WithMetadata(apperrors.CodeInvalidPushToken, "push token issuer mismatch", map[string]string{"Field": "issuer"})
	}
	if claims.ExpiresAt == nil {
		return apperrors.New(apperrors.CodeInvalidPushToken, "push token exp is required")
	}
	now := cfg.now()
	if !claims.ExpiresAt.Time.After(now) {
		return apperrors.New(apperrors.CodeInvalidPushToken, "push token is expired")
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return apperrors.New(apperrors.CodeInvalidPushToken, "push token not active yet")
	}
	return nil
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return apperrors.New(apperrors.CodeInvalidPushToken, "push token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeInvalidPushToken, "push token alg is invalid")
	}
	return apperrors.Wrap(apperrors.CodeInvalidPushToken, "push token is malformed", err)
}
