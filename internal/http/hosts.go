package httpapi

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// loopbackHosts разрешены всегда, когда список задан: локальные health-check'и
var loopbackHosts = []string{"localhost", "127.0.0.1"}

// hostGuard отклоняет запросы с Host не из списка. "*" разрешает всё,
// ".example.com" разрешает домен и его поддомены.
func hostGuard(allowed []string) gin.HandlerFunc {
	patterns := make([]string, 0, len(allowed)+len(loopbackHosts))
	for _, h := range allowed {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			patterns = append(patterns, h)
		}
	}
	if len(patterns) > 0 {
		patterns = append(patterns, loopbackHosts...)
	}
	return func(c *gin.Context) {
		if len(patterns) == 0 || hostAllowed(c.Request.Host, patterns) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid host header"})
	}
}

func hostAllowed(hostport string, patterns []string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, p := range patterns {
		switch {
		case p == "*":
			return true
		case strings.HasPrefix(p, "."):
			if host == p[1:] || strings.HasSuffix(host, p) {
				return true
			}
		case host == p:
			return true
		}
	}
	return false
}
