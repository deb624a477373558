package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/radieske/updown-round-engine/internal/shared/apperr"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Claims identifica o usuário; uid é o userId estável da carteira
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager valida (e, para ferramentas e testes, emite) tokens HS256
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue assina um token para userID com o papel informado
func (tm *TokenManager) Issue(userID, role string) (string, time.Time, error) {
	now := tm.now()
	exp := now.Add(tm.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	s, err := tok.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, exp, nil
}

// Parse valida assinatura, algoritmo e expiração
func (tm *TokenManager) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", errors.Join(apperr.ErrUnauthorized, err))
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token without uid: %w", apperr.ErrUnauthorized)
	}
	return claims, nil
}
