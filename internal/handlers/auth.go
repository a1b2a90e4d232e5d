package handlers

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mossy-p/peercam/config"
	apperrors "github.com/mossy-p/peercam/internal/errors"
	"github.com/mossy-p/peercam/internal/middleware"
)

const tokenTTL = 12 * time.Hour

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login issues an admin token for the configured credentials. Peers never
// need a token; it only guards the session administration API.
func Login(admin config.AdminConfig, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, apperrors.ErrInvalidMessage.WithMessage("invalid request body"))
			return
		}

		if admin.Password == "" ||
			subtle.ConstantTimeCompare([]byte(req.Username), []byte(admin.User)) != 1 ||
			subtle.ConstantTimeCompare([]byte(req.Password), []byte(admin.Password)) != 1 {
			abortWithError(c, apperrors.ErrUnauthorized.WithMessage("invalid credentials"))
			return
		}

		token, expiresAt, err := IssueToken(req.Username, jwtSecret, time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}

		c.JSON(http.StatusOK, LoginResponse{
			Token:     token,
			UserID:    req.Username,
			ExpiresAt: expiresAt,
		})
	}
}

// IssueToken signs an admin token for userID.
func IssueToken(userID, jwtSecret string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(tokenTTL)
	claims := middleware.JWTClaims{
		UserID: userID,
		Role:   middleware.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
