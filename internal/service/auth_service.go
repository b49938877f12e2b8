package service

import (
	"fmt"
	"time"

	"github.com/emberhost/panel/internal/middleware"
	"github.com/emberhost/panel/internal/models"
	"github.com/emberhost/panel/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthService issues and validates the JWTs used on the client API
type AuthService struct {
	users         *repository.UserRepository
	secret        []byte
	tokenLifetime time.Duration
}

// NewAuthService creates a new auth service
func NewAuthService(users *repository.UserRepository, secret string, tokenLifetimeHours int) *AuthService {
	if tokenLifetimeHours <= 0 {
		tokenLifetimeHours = 24
	}
	return &AuthService{
		users:         users,
		secret:        []byte(secret),
		tokenLifetime: time.Duration(tokenLifetimeHours) * time.Hour,
	}
}

// Login verifies the credentials and returns a signed token for the user
func (s *AuthService) Login(email, password string) (string, *models.User, error) {
	user, err := s.users.FindByEmail(email)
	if err != nil {
		return "", nil, middleware.NewUnauthorizedError("Invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, middleware.NewUnauthorizedError("Invalid credentials")
	}

	token, err := s.issueToken(user)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, user, nil
}

// HashPassword hashes a plaintext password for storage
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (s *AuthService) issueToken(user *models.User) (string, error) {
	now := time.Now()
	claims := &middleware.Claims{
		UserID:           user.ID,
		Email:            user.Email,
		IsAdmin:          user.IsAdmin,
		CanDeleteBackups: user.CanDeleteBackups,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenLifetime)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateToken parses and verifies a client JWT
func (s *AuthService) ValidateToken(tokenString string) (*middleware.Claims, error) {
	claims := &middleware.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	return claims, nil
}
