package events

import "time"

// UserDrift descreve uma divergência encontrada pelo auditor para um usuário
type UserDrift struct {
	UserID        string   `json:"user_id"`
	Balance       int64    `json:"balance"`
	LedgerSum     int64    `json:"ledger_sum"`
	MissingCredit []string `json:"missing_credit,omitempty"` // chaves de liquidação sem entrada
}

// Evento publicado no tópico "round_settled_dlq" quando o replay do ledger não fecha
type LedgerDrift struct {
	RoundID    int64       `json:"round_id"`
	Users      []UserDrift `json:"users"`
	Raw        []byte      `json:"raw,omitempty"` // mensagem original quando não foi possível decodificar
	DetectedAt time.Time   `json:"detected_at"`
}
