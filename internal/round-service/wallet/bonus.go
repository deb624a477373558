package wallet

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/radieske/updown-round-engine/internal/round-service/domain"
)

// BonusTiers são os valores possíveis do bônus diário
var BonusTiers = []int64{5, 10, 15, 20, 25, 30, 40}

func defaultPick(n int) int { return rand.IntN(n) }

// WithBonusPicker troca o sorteio do bônus (testes)
func WithBonusPicker(pick func(n int) int) Option { return func(l *Ledger) { l.pick = pick } }

type BonusResult struct {
	Amount  int64 `json:"amount"`
	Balance int64 `json:"balance"`
	Claimed bool  `json:"claimed"` // false quando o bônus do dia já havia sido resgatado
}

func bonusKey(userID string, day time.Time) string {
	return fmt.Sprintf("bonus:%s:%s", userID, day.UTC().Format("2006-01-02"))
}

// ClaimDailyBonus credita um valor sorteado uma vez por dia (UTC)
func (l *Ledger) ClaimDailyBonus(ctx context.Context, userID string) (BonusResult, error) {
	key := bonusKey(userID, l.now())

	if e, found, err := l.store.EntryByKey(ctx, key); err != nil {
		return BonusResult{}, err
	} else if found {
		w, err := l.store.GetWallet(ctx, userID)
		if err != nil {
			return BonusResult{}, err
		}
		return BonusResult{Amount: e.Delta, Balance: w.Balance}, nil
	}

	amount := BonusTiers[l.pick(len(BonusTiers))]
	w, applied, err := l.Credit(ctx, CreditRequest{
		UserID: userID,
		Amount: amount,
		Reason: domain.ReasonBonus,
		Key:    key,
	})
	if err != nil {
		return BonusResult{}, err
	}
	if !applied {
		// corrida com outro resgate no mesmo dia: vale o valor registrado
		if e, found, err := l.store.EntryByKey(ctx, key); err == nil && found {
			amount = e.Delta
		}
	}
	return BonusResult{Amount: amount, Balance: w.Balance, Claimed: applied}, nil
}
