package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"readstate_backend/pkg/apperrors"
)

// Identity - проверенный пользователь, от имени которого выполняется операция
type Identity struct {
	UserID string
	Role   string
}

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier проверяет bearer-токен и возвращает Identity
type Verifier interface {
	Verify(ctx context.Context, bearer string) (Identity, error)
}

type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify принимает как "Bearer <token>", так и голый токен
func (v *JWTVerifier) Verify(_ context.Context, bearer string) (Identity, error) {
	tokenStr := strings.TrimSpace(strings.TrimPrefix(bearer, "Bearer "))
	if tokenStr == "" {
		return Identity{}, apperrors.ErrUnauthenticated
	}

	claims, err := ParseToken(tokenStr, v.secret)
	if err != nil {
		return Identity{}, apperrors.ErrInvalidToken.WithError(err)
	}
	if claims.UserID == "" {
		return Identity{}, apperrors.ErrInvalidToken.WithError(errors.New("token has no user_id claim"))
	}

	role := claims.Role
	if role == "" {
		role = RoleUser
	}
	return Identity{UserID: claims.UserID, Role: role}, nil
}

// ParseToken разбирает HS256 токен
func ParseToken(tokenStr string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}

// GenerateToken выпускает HS256 токен (CLI `token` и тесты)
func GenerateToken(secret, userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
