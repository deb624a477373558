package events

// Evento publicado no tópico "round_bets" a cada aposta aceita
type BetPlaced struct {
	BetID     string `json:"bet_id"`
	RoundID   int64  `json:"round_id"`
	UserID    string `json:"user_id"`
	Direction string `json:"direction"` // "UP" | "DOWN"
	Amount    int64  `json:"amount"`
	Balance   int64  `json:"balance"` // saldo após o débito
	TsUnixMs  int64  `json:"ts_unix_ms"`
}
