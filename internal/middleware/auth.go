package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload issued to panel users
type Claims struct {
	UserID           uint   `json:"uid"`
	Email            string `json:"email"`
	IsAdmin          bool   `json:"admin"`
	CanDeleteBackups bool   `json:"backup_delete"`
	jwt.RegisteredClaims
}

// TokenValidator is the slice of the auth service the middleware needs
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// AuthMiddleware validates JWT authentication tokens on client API routes
func AuthMiddleware(auth TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			HandleError(c, NewUnauthorizedError("Missing authorization header"))
			return
		}

		// Expected format: "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			HandleError(c, NewUnauthorizedError("Invalid authorization format. Use: Bearer <token>"))
			return
		}

		claims, err := auth.ValidateToken(parts[1])
		if err != nil {
			HandleError(c, NewUnauthorizedError("Invalid or expired token"))
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)
		c.Set("is_admin", claims.IsAdmin)
		c.Set("can_delete_backups", claims.CanDeleteBackups)

		c.Next()
	}
}
