package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stockwatch_backend/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	config.AppConfig = &config.Config{JWTSecret: "test-secret"}
}

func protectedRouter() *gin.Engine {
	r := gin.New()
	r.GET("/protected", JWTAuthMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"username": c.GetString("username")})
	})
	return r
}

func TestJWTRoundTrip(t *testing.T) {
	token, err := IssueToken("admin")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	protectedRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "admin")
}

func TestJWTMissingHeader(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	protectedRouter().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTMalformedHeader(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Basic abc")
	protectedRouter().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTTamperedToken(t *testing.T) {
	token, err := IssueToken("admin")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token+"x")
	protectedRouter().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimiterLocksAfterMaxAttempts(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute, time.Minute)

	for i := 0; i < 3; i++ {
		ok, _, _ := rl.Check("1.2.3.4")
		assert.True(t, ok)
		rl.RecordAttempt("1.2.3.4", false)
	}

	ok, left, wait := rl.Check("1.2.3.4")
	assert.False(t, ok)
	assert.Equal(t, 0, left)
	assert.Greater(t, wait, time.Duration(0))

	// another IP is unaffected
	ok, _, _ = rl.Check("5.6.7.8")
	assert.True(t, ok)
}

func TestRateLimiterSuccessClears(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute, time.Minute)

	rl.RecordAttempt("1.2.3.4", false)
	rl.RecordAttempt("1.2.3.4", false)
	rl.RecordAttempt("1.2.3.4", true)

	ok, left, _ := rl.Check("1.2.3.4")
	assert.True(t, ok)
	assert.Equal(t, 3, left)
}
