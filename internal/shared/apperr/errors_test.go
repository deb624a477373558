package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeAndStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"validation wrapped", fmt.Errorf("amount must be positive: %w", ErrValidation), "VALIDATION_ERROR", http.StatusBadRequest},
		{"funds", ErrInsufficientFunds, "INSUFFICIENT_FUNDS", http.StatusPaymentRequired},
		{"round not found", ErrRoundNotFound, "ROUND_NOT_FOUND", http.StatusNotFound},
		{"phase", ErrRoundNotInBettingPhase, "ROUND_NOT_IN_BETTING_PHASE", http.StatusConflict},
		{"override late", fmt.Errorf("round 3: %w", ErrOverrideTooLate), "OVERRIDE_TOO_LATE", http.StatusConflict},
		{"unauthorized", ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized},
		{"conflict", ErrConcurrentModification, "CONCURRENT_MODIFICATION", http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), "INTERNAL", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, Code(tt.err))
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(ErrInsufficientFunds))
	assert.True(t, Terminal(fmt.Errorf("x: %w", ErrValidation)))
	assert.False(t, Terminal(ErrConcurrentModification))
	assert.False(t, Terminal(errors.New("db down")))
}
