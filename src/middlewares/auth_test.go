package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"ticketing/src/types"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/", AuthMiddleware(secret))
	g.GET("/me", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"agent_id": ctx.GetUint("agent_id"), "role": ctx.GetString("role")})
	})
	g.GET("/admin", AdminOnly, func(ctx *gin.Context) {
		ctx.Status(http.StatusNoContent)
	})
	return r
}

func call(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := router()

	agent, err := GenerateToken(secret, 7, types.ROLE_AGENT, 1, time.Hour)
	require.NoError(t, err)
	admin, err := GenerateToken(secret, 1, types.ROLE_ADMIN, 1, time.Hour)
	require.NoError(t, err)
	expired, err := GenerateToken(secret, 7, types.ROLE_AGENT, 1, -time.Minute)
	require.NoError(t, err)
	forged, err := GenerateToken([]byte("other"), 7, types.ROLE_AGENT, 1, time.Hour)
	require.NoError(t, err)

	w := call(r, "/me", agent)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"agent_id":7,"role":"agent"}`, w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, call(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, "/me", expired).Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, "/me", forged).Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, "/me", "not-a-jwt").Code)

	assert.Equal(t, http.StatusForbidden, call(r, "/admin", agent).Code)
	assert.Equal(t, http.StatusNoContent, call(r, "/admin", admin).Code)
}

func TestAuthMiddlewareRejectsUnknownRole(t *testing.T) {
	token, err := GenerateToken(secret, 3, "guest", 0, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, call(router(), "/me", token).Code)
}

func TestAuthMiddlewareRejectsOtherAlgorithms(t *testing.T) {
	claims := types.Claims{Role: types.ROLE_ADMIN, RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call(router(), "/me", token).Code)
}

func TestMaintenanceMode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	on := true
	r := gin.New()
	r.Use(MaintenanceMode(func() bool { return on }))
	r.GET("/", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

	assert.Equal(t, http.StatusServiceUnavailable, call(r, "/", "").Code)
	on = false
	assert.Equal(t, http.StatusOK, call(r, "/", "").Code)
}
