package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// EnvPreviewToken 预览服务内部接口的访问令牌
const EnvPreviewToken = "FOLDHOST_PREVIEW_TOKEN"

// TokenAuthMiddleware 令牌认证中间件
// 支持两种认证方式：
// 1. Token 方式: Authorization: token <TOKEN>（或 Bearer <TOKEN>）
// 2. Basic Auth 方式: Authorization: Basic base64(TOKEN:) 或 base64(:TOKEN)
func TokenAuthMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			// 未配置令牌：仅本地预览使用，放行
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		for _, scheme := range []string{"token ", "Bearer "} {
			if strings.HasPrefix(authHeader, scheme) && equal(strings.TrimPrefix(authHeader, scheme), token) {
				c.Next()
				return
			}
		}

		user, password, hasAuth := c.Request.BasicAuth()
		if hasAuth && (equal(user, token) || equal(password, token)) {
			c.Next()
			return
		}

		c.Header("WWW-Authenticate", `Basic realm="foldhost"`)
		c.AbortWithStatus(http.StatusUnauthorized)
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
