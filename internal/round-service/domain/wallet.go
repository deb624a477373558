package domain

import "time"

type Wallet struct {
	UserID    string    `json:"userId" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// LedgerEntry é imutável; a soma dos deltas de um usuário é igual ao saldo
type LedgerEntry struct {
	ID             string    `json:"id" db:"id"`
	UserID         string    `json:"userId" db:"user_id"`
	RoundID        *int64    `json:"roundId,omitempty" db:"round_id"`
	Delta          int64     `json:"delta" db:"delta"`
	BalanceAfter   int64     `json:"balanceAfter" db:"balance_after"`
	Reason         string    `json:"reason" db:"reason"`
	IdempotencyKey string    `json:"idempotencyKey" db:"idempotency_key"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// Motivos usados no ledger
const (
	ReasonBet        = "bet"
	ReasonPayout     = "payout"
	ReasonRefund     = "refund"
	ReasonBonus      = "daily_bonus"
	ReasonAdjustment = "adjustment"
)

// PendingCredit é um crédito de liquidação que falhou e aguarda nova tentativa
// A chave é a mesma do crédito original: reaplicar nunca paga duas vezes
type PendingCredit struct {
	IdempotencyKey string    `json:"idempotencyKey" db:"idempotency_key"`
	RoundID        int64     `json:"roundId" db:"round_id"`
	UserID         string    `json:"userId" db:"user_id"`
	Amount         int64     `json:"amount" db:"amount"`
	Reason         string    `json:"reason" db:"reason"`
	Attempts       int       `json:"attempts" db:"attempts"`
	LastError      string    `json:"lastError" db:"last_error"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}
