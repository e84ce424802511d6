package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/chatwave-go/pkg/auth/jwt"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// JWTMiddleware validates bearer tokens and injects the authenticated
// user into the gin context. Revoked tokens are tracked in redis.
type JWTMiddleware struct {
	jwtManager *jwt.Manager
	redis      *redis.Client
	skipPaths  []string
}

func NewJWTMiddleware(jwtManager *jwt.Manager, redisClient *redis.Client) *JWTMiddleware {
	return &JWTMiddleware{
		jwtManager: jwtManager,
		redis:      redisClient,
		skipPaths: []string{
			"/health",
			"/metrics",
			"/register",
			"/login",
		},
	}
}

func (m *JWTMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skipPath := range m.skipPaths {
			if strings.HasPrefix(path, skipPath) {
				c.Next()
				return
			}
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		const bearerScheme = "Bearer "
		if !strings.HasPrefix(authHeader, bearerScheme) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		token := authHeader[len(bearerScheme):]

		if m.redis != nil {
			blacklisted, _ := m.redis.Exists(context.Background(), "blacklist:"+token).Result()
			if blacklisted > 0 {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "token has been revoked"})
				c.Abort()
				return
			}
		}

		claims, err := m.jwtManager.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set("userId", claims.UserID)
		c.Set("name", claims.Name)
		c.Set("email", claims.Email)
		c.Set("token", token)

		c.Next()
	}
}

// GetUserID extracts the authenticated user id from context.
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get("userId")
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok
}

// GetUserEmail extracts the authenticated user email from context.
func GetUserEmail(c *gin.Context) (string, bool) {
	email, exists := c.Get("email")
	if !exists {
		return "", false
	}
	emailStr, ok := email.(string)
	return emailStr, ok
}

// GetToken extracts the raw bearer token from context.
func GetToken(c *gin.Context) (string, bool) {
	token, exists := c.Get("token")
	if !exists {
		return "", false
	}
	tokenStr, ok := token.(string)
	return tokenStr, ok
}
