package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid operator password")
	ErrInvalidToken       = errors.New("invalid token")
)

// AuthService issues and verifies operator tokens. There is a single
// operator credential, configured as a bcrypt hash; devices never
// authenticate here, they speak MQTT.
type AuthService struct {
	passwordHash string
	jwtSecret    string
	jwtExpiry    time.Duration
}

func NewAuthService(passwordHash, jwtSecret string, jwtExpiry time.Duration) *AuthService {
	return &AuthService{
		passwordHash: passwordHash,
		jwtSecret:    jwtSecret,
		jwtExpiry:    jwtExpiry,
	}
}

func (s *AuthService) Login(password string) (token string, expiresAt time.Time, err error) {
	if bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)) != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	expiresAt = time.Now().Add(s.jwtExpiry)
	claims := jwt.MapClaims{
		"sub": "operator",
		"exp": expiresAt.Unix(),
		"iat": time.Now().Unix(),
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

func (s *AuthService) VerifyToken(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
