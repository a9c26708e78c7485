package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/lovely-prompts/internal/auth"
	"github.com/suPer8Hu/lovely-prompts/internal/common"
)

const ClientKey = "client"

// AuthRequired accepts "Authorization: Bearer <jwt>". Browsers cannot set
// headers on EventSource or WebSocket requests, so a "token" query parameter
// is accepted as well.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if h := c.GetHeader("Authorization"); h != "" {
			scheme, rest, ok := strings.Cut(h, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(rest) == "" {
				common.Fail(c, http.StatusUnauthorized, 40101, "invalid authorization header format")
				c.Abort()
				return
			}
			token = strings.TrimSpace(rest)
		}
		if token == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "authorization required")
			c.Abort()
			return
		}

		claims, err := auth.ParseJWT(token, secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ClientKey, claims.Subject)
		c.Next()
	}
}
