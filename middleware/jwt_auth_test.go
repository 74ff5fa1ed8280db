package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-ops-secret"

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/guarded", OpsAuthMiddleware(testSecret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": c.GetString("ops_subject")})
	})
	return router
}

func signToken(t *testing.T, secret string, expiresAt time.Time) string {
	t.Helper()

	claims := OpsClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops-user",
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Role: "operator",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestOpsAuth_ValidToken(t *testing.T) {
	t.Parallel()

	router := setupRouter(t)
	token := signToken(t, testSecret, time.Now().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ops-user")
}

func TestOpsAuth_TokenViaQuery(t *testing.T) {
	t.Parallel()

	router := setupRouter(t)
	token := signToken(t, testSecret, time.Now().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/guarded?token="+token, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOpsAuth_MissingHeader(t *testing.T) {
	t.Parallel()

	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOpsAuth_MalformedHeader(t *testing.T) {
	t.Parallel()

	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Basic something")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOpsAuth_WrongSecret(t *testing.T) {
	t.Parallel()

	router := setupRouter(t)
	token := signToken(t, "another-secret", time.Now().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOpsAuth_ExpiredToken(t *testing.T) {
	t.Parallel()

	router := setupRouter(t)
	token := signToken(t, testSecret, time.Now().Add(-time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "token expired")
}
