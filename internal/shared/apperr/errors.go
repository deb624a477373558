package apperr

import (
	"errors"
	"net/http"
)

// Erros de domínio do motor de rodadas
// Cada sentinel carrega um código estável exposto aos clientes
var (
	ErrValidation             = errors.New("validation error")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrRoundNotFound          = errors.New("round not found")
	ErrRoundNotInBettingPhase = errors.New("round not in betting phase")
	ErrRoundAlreadyActive     = errors.New("round already active")
	ErrDuplicateSettlement    = errors.New("duplicate settlement")
	ErrOverrideTooLate        = errors.New("override too late")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrNotLeader              = errors.New("not the round leader")
)

type entry struct {
	err    error
	code   string
	status int
}

var table = []entry{
	{ErrValidation, "VALIDATION_ERROR", http.StatusBadRequest},
	{ErrInsufficientFunds, "INSUFFICIENT_FUNDS", http.StatusPaymentRequired},
	{ErrRoundNotFound, "ROUND_NOT_FOUND", http.StatusNotFound},
	{ErrRoundNotInBettingPhase, "ROUND_NOT_IN_BETTING_PHASE", http.StatusConflict},
	{ErrRoundAlreadyActive, "ROUND_ALREADY_ACTIVE", http.StatusConflict},
	{ErrDuplicateSettlement, "DUPLICATE_SETTLEMENT", http.StatusConflict},
	{ErrOverrideTooLate, "OVERRIDE_TOO_LATE", http.StatusConflict},
	{ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized},
	{ErrConcurrentModification, "CONCURRENT_MODIFICATION", http.StatusServiceUnavailable},
	{ErrWalletNotFound, "WALLET_NOT_FOUND", http.StatusNotFound},
	{ErrNotLeader, "NOT_LEADER", http.StatusServiceUnavailable},
}

// Code retorna o código legível por máquina associado ao erro
// Erros fora da taxonomia viram INTERNAL
func Code(err error) string {
	for _, e := range table {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "INTERNAL"
}

// HTTPStatus mapeia o erro para o status HTTP correspondente
func HTTPStatus(err error) int {
	for _, e := range table {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// Terminal indica se o erro é definitivo para a requisição (sem retry)
func Terminal(err error) bool {
	switch {
	case errors.Is(err, ErrConcurrentModification), errors.Is(err, ErrNotLeader):
		return false
	case Code(err) == "INTERNAL":
		return false
	}
	return true
}
