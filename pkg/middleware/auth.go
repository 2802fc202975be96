package middleware

import (
	"net/http"

	"github.com/chongs12/contextual-kb/pkg/logger"
	"github.com/chongs12/contextual-kb/pkg/utils"
	"github.com/gin-gonic/gin"
)

type AuthMiddleware struct {
	manager *utils.JWTManager
	enabled bool
}

func NewAuthMiddleware(manager *utils.JWTManager, enabled bool) *AuthMiddleware {
	return &AuthMiddleware{manager: manager, enabled: enabled}
}

// RequireAuth 鉴权开关打开时强制校验 Bearer 令牌
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.enabled {
			c.Next()
			return
		}

		tokenString, err := utils.ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			c.Abort()
			return
		}

		claims, err := a.manager.ValidateToken(tokenString)
		if err != nil {
			logger.WithError(err).Error("Invalid token")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_name", claims.Username)
		c.Set("user_role", claims.Role)

		c.Next()
	}
}

func (a *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.enabled {
			c.Next()
			return
		}

		userRole := c.GetString("user_role")
		for _, role := range roles {
			if userRole == role {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, gin.H{
			"error": "Insufficient permissions",
		})
		c.Abort()
	}
}
