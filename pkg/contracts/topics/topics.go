package topics

const (
	// Rodadas
	RoundBets    = "round_bets"
	RoundSettled = "round_settled"

	// DLQs
	RoundSettledDLQ = "round_settled_dlq"
)
