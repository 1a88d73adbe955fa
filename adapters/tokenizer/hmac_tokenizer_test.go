package tokenizer

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/relayauth/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACTokenizer_IssueVerify(t *testing.T) {
	tk := NewHMACTokenizer([]byte("secret"))

	token, err := tk.Issue("operator", time.Minute)
	require.NoError(t, err)

	subject, err := tk.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", subject)
}

func TestHMACTokenizer_Expired(t *testing.T) {
	tk := NewHMACTokenizer([]byte("secret"))
	issuedAt := time.Now().Add(-time.Hour)
	tk.now = func() time.Time { return issuedAt }

	token, err := tk.Issue("operator", time.Minute)
	require.NoError(t, err)

	tk.now = time.Now
	_, err = tk.Verify(token)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestHMACTokenizer_WrongSecret(t *testing.T) {
	token, err := NewHMACTokenizer([]byte("secret")).Issue("operator", time.Minute)
	require.NoError(t, err)

	_, err = NewHMACTokenizer([]byte("other")).Verify(token)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestHMACTokenizer_WrongAudienceOrScope(t *testing.T) {
	secret := []byte("secret")
	tk := NewHMACTokenizer(secret)

	sign := func(claims ControlClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		require.NoError(t, err)
		return s
	}
	exp := jwt.NewNumericDate(time.Now().Add(time.Minute))

	_, err := tk.Verify(sign(ControlClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp, Audience: jwt.ClaimStrings{"other"}},
		Scope:            ScopeManage,
	}))
	assert.ErrorIs(t, err, core.ErrInvalidToken)

	_, err = tk.Verify(sign(ControlClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp, Audience: jwt.ClaimStrings{AudienceControl}},
		Scope:            "read",
	}))
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}
