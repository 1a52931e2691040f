package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const principalKey = "auth.principal"

// Required пропускает запрос дальше только с валидным bearer-токеном
func Required(a Authenticator, log *zap.Logger) gin.HandlerFunc {
	log = log.Named("auth")
	return func(c *gin.Context) {
		token, err := bearer(c.GetHeader("Authorization"))
		if err == nil {
			var p Principal
			p, err = a.Authenticate(c.Request.Context(), token)
			if err == nil {
				c.Set(principalKey, p)
				c.Next()
				return
			}
			log.Debug("token rejected", zap.Error(err))
		}
		msg := ErrInvalidToken.Error()
		if errors.Is(err, ErrUnauthenticated) {
			msg = ErrUnauthenticated.Error()
		}
		c.Header("WWW-Authenticate", `Bearer realm="api"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
	}
}

// PrincipalFrom достаёт вызывающего, сохранённого Required
func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

func bearer(header string) (string, error) {
	if header == "" {
		return "", ErrUnauthenticated
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(token), nil
}
