package events

import "time"

// Credit resume o crédito emitido para um usuário na liquidação
type Credit struct {
	UserID         string `json:"user_id"`
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason"` // "payout" | "refund"
	IdempotencyKey string `json:"idempotency_key"`
}

// Evento publicado no tópico "round_settled" ao fim da liquidação
// Consumido pelo ledger-audit-worker
type RoundSettled struct {
	RoundID     int64     `json:"round_id"`
	Outcome     string    `json:"outcome"` // "UP" | "DOWN" | "TIE"
	Source      string    `json:"source"`  // "AUTO" | "ADMIN_OVERRIDE"
	TotalUp     int64     `json:"total_up"`
	TotalDown   int64     `json:"total_down"`
	TotalPayout int64     `json:"total_payout"`
	Bettors     []string  `json:"bettors"` // todos os usuários com aposta na rodada
	Credits     []Credit  `json:"credits"`
	Pending     []Credit  `json:"pending,omitempty"` // créditos ainda na fila de pendentes
	SettledAt   time.Time `json:"settled_at"`
}
