package domain

import "time"

// Phase é a fase de uma rodada
type Phase string

const (
	PhaseBetting   Phase = "BETTING"
	PhaseResolving Phase = "RESOLVING"
	PhaseSettled   Phase = "SETTLED"
)

// Direction é o lado apostado ou o resultado de uma rodada
type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
	Tie  Direction = "TIE"
)

// Bettable indica se a direção aceita apostas (TIE só existe como resultado)
func (d Direction) Bettable() bool { return d == Up || d == Down }

// Valid indica se a direção é um resultado válido
func (d Direction) Valid() bool { return d == Up || d == Down || d == Tie }

// OutcomeSource registra quem decidiu o resultado
type OutcomeSource string

const (
	SourceAuto          OutcomeSource = "AUTO"
	SourceAdminOverride OutcomeSource = "ADMIN_OVERRIDE"
)

type Outcome struct {
	RoundID    int64         `json:"roundId" db:"round_id"`
	Direction  Direction     `json:"direction" db:"direction"`
	Source     OutcomeSource `json:"source" db:"source"`
	ResolvedAt time.Time     `json:"resolvedAt" db:"resolved_at"`
}

// Round é o estado persistido de uma rodada
type Round struct {
	ID              int64
	Phase           Phase
	PhaseDeadline   time.Time
	BettingWindow   time.Duration
	ResolvingWindow time.Duration
	SettleWindow    time.Duration
	TotalUp         int64
	TotalDown       int64
	StartedAt       time.Time
	SettledAt       *time.Time
	Outcome         *Outcome
}

// Snapshot monta a visão pública da rodada no instante now
func (r Round) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		RoundID:       r.ID,
		Phase:         r.Phase,
		PhaseDeadline: r.PhaseDeadline,
		TotalUp:       r.TotalUp,
		TotalDown:     r.TotalDown,
	}
	if r.Outcome != nil {
		o := *r.Outcome
		s.Outcome = &o
	}
	return s.At(now)
}

type Bet struct {
	ID        string    `json:"betId" db:"id"`
	RoundID   int64     `json:"roundId" db:"round_id"`
	UserID    string    `json:"userId" db:"user_id"`
	Direction Direction `json:"direction" db:"direction"`
	Amount    int64     `json:"amount" db:"amount"`
	PlacedAt  time.Time `json:"placedAt" db:"placed_at"`
}

// Snapshot é o modelo de leitura publicado aos observadores
type Snapshot struct {
	RoundID       int64     `json:"roundId"`
	Phase         Phase     `json:"phase"`
	PhaseDeadline time.Time `json:"phaseDeadline"`
	RemainingMs   int64     `json:"remainingMs"`
	TotalUp       int64     `json:"totalUp"`
	TotalDown     int64     `json:"totalDown"`
	Outcome       *Outcome  `json:"outcome,omitempty"`
}

// At recalcula remainingMs a partir do deadline
func (s Snapshot) At(now time.Time) Snapshot {
	rem := s.PhaseDeadline.Sub(now).Milliseconds()
	if rem < 0 {
		rem = 0
	}
	s.RemainingMs = rem
	return s
}

// Stats é o resumo administrativo da rodada corrente
type Stats struct {
	CurrentRound int64 `json:"currentRound"`
	Phase        Phase `json:"phase"`
	TotalUp      int64 `json:"totalUpBets"`
	TotalDown    int64 `json:"totalDownBets"`
}
