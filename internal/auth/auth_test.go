package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testIssuer   = "https://id.example.test"
	testAudience = "ordersms"
)

func signedToken(t *testing.T, key *rsa.PrivateKey, claims map[string]any) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, nil)
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	jws, err := signer.Sign(payload)
	require.NoError(t, err)
	token, err := jws.CompactSerialize()
	require.NoError(t, err)
	return token
}

func oidcFixture(t *testing.T) (*OIDCAuthenticator, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key.Public()}}
	v := oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testAudience})
	return NewOIDCWithVerifier(v), key
}

func validClaims() map[string]any {
	now := time.Now()
	return map[string]any{
		"iss":   testIssuer,
		"aud":   testAudience,
		"sub":   "user-42",
		"email": "jane@example.test",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}

func TestOIDC_ValidToken(t *testing.T) {
	a, key := oidcFixture(t)
	p, err := a.Authenticate(context.Background(), signedToken(t, key, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, Principal{Subject: "user-42", Email: "jane@example.test", Source: "oidc"}, p)
}

func TestOIDC_RejectsBadTokens(t *testing.T) {
	a, key := oidcFixture(t)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongAud := validClaims()
	wrongAud["aud"] = "someone-else"
	wrongIss := validClaims()
	wrongIss["iss"] = "https://evil.example.test"

	cases := map[string]string{
		"garbage":        "not-a-jwt",
		"expired":        signedToken(t, key, expired),
		"wrong audience": signedToken(t, key, wrongAud),
		"wrong issuer":   signedToken(t, key, wrongIss),
		"foreign key":    signedToken(t, other, validClaims()),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestStaticTokens(t *testing.T) {
	st := NewStaticTokens([]string{"", "alpha", "beta"})
	p, err := st.Authenticate(context.Background(), "beta")
	require.NoError(t, err)
	assert.Equal(t, "static-2", p.Subject)
	assert.Equal(t, "static", p.Source)

	_, err = st.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = st.Authenticate(context.Background(), "alph")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestChain_FirstSuccessWins(t *testing.T) {
	a, key := oidcFixture(t)
	chain := Chain{a, NewStaticTokens([]string{"dev-token"})}

	p, err := chain.Authenticate(context.Background(), "dev-token")
	require.NoError(t, err)
	assert.Equal(t, "static", p.Source)

	p, err = chain.Authenticate(context.Background(), signedToken(t, key, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "oidc", p.Source)

	_, err = chain.Authenticate(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Chain{}.Authenticate(context.Background(), "dev-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequired(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Required(NewStaticTokens([]string{"secret"}), zaptest.NewLogger(t)))
	r.GET("/me", func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, p)
	})

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, `{"error":"authentication credentials were not provided"}`},
		{"wrong scheme", "Basic c2VjcmV0", http.StatusUnauthorized, `{"error":"invalid token"}`},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, `{"error":"invalid token"}`},
		{"wrong token", "Bearer guess", http.StatusUnauthorized, `{"error":"invalid token"}`},
		{"ok", "Bearer secret", http.StatusOK, `{"sub":"static-1","source":"static"}`},
		{"lowercase scheme", "bearer secret", http.StatusOK, `{"sub":"static-1","source":"static"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			assert.JSONEq(t, tc.body, w.Body.String())
			if tc.status == http.StatusUnauthorized {
				assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}
