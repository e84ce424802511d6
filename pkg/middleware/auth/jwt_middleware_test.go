package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/chatwave-go/pkg/auth/jwt"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (*gin.Engine, *jwt.Manager, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwtManager, err := jwt.NewManager(jwt.Config{SecretKey: "test-secret", ExpiryHours: 1})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	router := gin.New()
	router.Use(NewJWTMiddleware(jwtManager, redisClient).Handle())
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/protected", func(c *gin.Context) {
		userID, _ := GetUserID(c)
		email, _ := GetUserEmail(c)
		c.JSON(http.StatusOK, gin.H{"userId": userID, "email": email})
	})
	return router, jwtManager, mr
}

func request(router *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSkipPaths(t *testing.T) {
	router, _, _ := setupRouter(t)
	w := request(router, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMissingAndMalformedHeaders(t *testing.T) {
	router, _, _ := setupRouter(t)

	w := request(router, "/protected", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Basic abc123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestValidToken(t *testing.T) {
	router, jwtManager, _ := setupRouter(t)

	token, err := jwtManager.GenerateToken("user-1", "Alice", "alice@example.com")
	require.NoError(t, err)

	w := request(router, "/protected", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "user-1")
	assert.Contains(t, w.Body.String(), "alice@example.com")
}

func TestRevokedToken(t *testing.T) {
	router, jwtManager, mr := setupRouter(t)

	token, err := jwtManager.GenerateToken("user-1", "Alice", "alice@example.com")
	require.NoError(t, err)

	require.NoError(t, mr.Set("blacklist:"+token, "1"))
	mr.SetTTL("blacklist:"+token, time.Hour)

	w := request(router, "/protected", token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "revoked")
}

func TestInvalidToken(t *testing.T) {
	router, _, _ := setupRouter(t)

	w := request(router, "/protected", "garbage.token.here")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
