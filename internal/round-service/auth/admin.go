package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/radieske/updown-round-engine/internal/shared/apperr"
)

// AdminVerifier confere o X-Admin-Token contra o hash bcrypt configurado
// Sem hash configurado nenhum token é aceito
type AdminVerifier struct {
	hash []byte
}

func NewAdminVerifier(hash string) *AdminVerifier {
	return &AdminVerifier{hash: []byte(hash)}
}

func (v *AdminVerifier) Verify(token string) error {
	if len(v.hash) == 0 || token == "" {
		return fmt.Errorf("admin token required: %w", apperr.ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(token)); err != nil {
		return fmt.Errorf("invalid admin token: %w", apperr.ErrUnauthorized)
	}
	return nil
}

// HashToken gera o valor de ADMIN_TOKEN_HASH para um token em texto
func HashToken(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(b), err
}
