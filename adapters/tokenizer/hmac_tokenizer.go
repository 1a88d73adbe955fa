package tokenizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/layer-3/relayauth/core"
	"github.com/layer-3/relayauth/ports"
)

const AudienceControl = "relayauth:control"
const ScopeManage = "relays:manage"

// HMACTokenizer implements ports.ControlTokenizer with HS256 JWTs
type HMACTokenizer struct {
	secret []byte
	now    func() time.Time
}

// NewHMACTokenizer creates a tokenizer keyed by secret
func NewHMACTokenizer(secret []byte) *HMACTokenizer {
	return &HMACTokenizer{secret: secret, now: time.Now}
}

var _ ports.ControlTokenizer = (*HMACTokenizer)(nil)

// Issue signs a token for subject valid for ttl
func (t *HMACTokenizer) Issue(subject string, ttl time.Duration) (string, error) {
	now := t.now()
	claims := ControlClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Audience:  jwt.ClaimStrings{AudienceControl},
		},
		Scope: ScopeManage,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, audience, expiry and scope and returns the
// token's subject
func (t *HMACTokenizer) Verify(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ControlClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithAudience(AudienceControl), jwt.WithTimeFunc(t.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", core.ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %w", core.ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*ControlClaims)
	if !ok || !token.Valid {
		return "", core.ErrInvalidToken
	}
	if claims.Scope != ScopeManage {
		return "", fmt.Errorf("%w: scope %q", core.ErrInvalidToken, claims.Scope)
	}
	return claims.Subject, nil
}
