package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const claimsKey = "auth.claims"

// RequireBearer protects /api/* and the swagger UI. Health probes and the
// signed webhook receiver stay open.
func RequireBearer(j JWT, disabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if disabled {
			c.Next()
			return
		}
		p := c.Request.URL.Path
		if !(strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/swagger")) {
			c.Next()
			return
		}
		tok := bearerToken(c.GetHeader("Authorization"))
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "missing bearer token"})
			return
		}
		claims, err := j.Verify(tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "invalid token"})
			return
		}
		if isWrite(c.Request.Method) && claims.Role == RoleViewer {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "read-only token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Set("auth.subject", claims.Subject)
		c.Next()
	}
}

func ClaimsFromGin(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

func isWrite(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func bearerToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	parts := strings.SplitN(v, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
