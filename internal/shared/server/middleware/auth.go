package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docscan-backend/internal/shared/server/respond"
	"docscan-backend/internal/shared/util"
)

const principalKey = "principal"

// APIKeyHeader carries the client key. "Authorization: Bearer <key>" works too.
const APIKeyHeader = "X-API-Key"

// APIKey rejects requests without one of keys. With no keys configured every
// request passes as "anonymous". Paths in open skip the check.
func APIKey(keys []string, open ...string) gin.HandlerFunc {
	allowed := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			allowed = append(allowed, []byte(k))
		}
	}
	skip := make(map[string]struct{}, len(open))
	for _, p := range open {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}
		if len(allowed) == 0 {
			c.Set(principalKey, "anonymous")
			c.Next()
			return
		}
		if _, ok := skip[c.FullPath()]; ok {
			c.Next()
			return
		}

		presented := presentedKey(c)
		if presented == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing api key", nil)
			return
		}
		for _, k := range allowed {
			if subtle.ConstantTimeCompare(k, []byte(presented)) == 1 {
				c.Set(principalKey, "key:"+util.HashKey(presented)[:12])
				c.Next()
				return
			}
		}
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "invalid api key", nil)
	}
}

func presentedKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader(APIKeyHeader)); key != "" {
		return key
	}
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}

// PrincipalFromContext fetches the caller identity set by APIKey.
func PrincipalFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(principalKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}
