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

const secret = "test-secret"

func sign(t *testing.T, claims JWTClaims, method jwt.SigningMethod, key interface{}) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func claimsFor(role string, expires time.Time) JWTClaims {
	return JWTClaims{
		UserID: "admin",
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
}

func TestParseToken(t *testing.T) {
	valid := sign(t, claimsFor(RoleAdmin, time.Now().Add(time.Hour)), jwt.SigningMethodHS256, []byte(secret))
	claims, err := ParseToken(valid, secret)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.UserID)
	assert.Equal(t, RoleAdmin, claims.Role)

	_, err = ParseToken(valid, "other")
	assert.Error(t, err)

	expired := sign(t, claimsFor(RoleAdmin, time.Now().Add(-time.Minute)), jwt.SigningMethodHS256, []byte(secret))
	_, err = ParseToken(expired, secret)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	none := sign(t, claimsFor(RoleAdmin, time.Now().Add(time.Hour)), jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType)
	_, err = ParseToken(none, secret)
	assert.Error(t, err)
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/admin", JWTAuth(secret), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("user_id"))
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", want: http.StatusUnauthorized},
		{
			name:   "not admin",
			header: "Bearer " + sign(t, claimsFor("viewer", time.Now().Add(time.Hour)), jwt.SigningMethodHS256, []byte(secret)),
			want:   http.StatusForbidden,
		},
		{
			name:   "admin",
			header: "Bearer " + sign(t, claimsFor(RoleAdmin, time.Now().Add(time.Hour)), jwt.SigningMethodHS256, []byte(secret)),
			want:   http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "admin", w.Body.String())
			}
		})
	}
}
