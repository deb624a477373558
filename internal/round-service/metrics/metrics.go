package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "updown"

var (
	betsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bets_total",
		Help:      "Apostas recebidas por resultado (accepted ou código do erro)",
	}, []string{"result"})

	betAmount = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "bet_amount_units",
		Help:      "Valor das apostas aceitas",
		Buckets:   []float64{1, 5, 10, 20, 50, 100, 500, 1000, 10000},
	})

	phaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "round_phase_transitions_total",
		Help:      "Transições de fase do coordenador",
	}, []string{"from", "to"})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "round_outcomes_total",
		Help:      "Resultados registrados por direção e origem",
	}, []string{"direction", "source"})

	settlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "settlement_duration_seconds",
		Help:      "Duração da liquidação de uma rodada",
		Buckets:   prometheus.DefBuckets,
	})

	settlementPayout = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_payout_units_total",
		Help:      "Total creditado em liquidações",
	})

	creditRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_credit_retries_total",
		Help:      "Novas tentativas de crédito de liquidação",
	})

	pendingCredits = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "settlement_pending_credits",
		Help:      "Créditos de liquidação aguardando nova tentativa",
	})

	walletConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wallet_concurrent_modifications_total",
		Help:      "Conflitos de versão na carteira (retry otimista)",
	}, []string{"op"})

	subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "round_subscribers",
		Help:      "Assinantes ativos do fan-out de snapshots",
	})

	leaderGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "round_leader",
		Help:      "1 quando esta instância detém o lease do coordenador",
	})

	auditedUsers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_audit_users_total",
		Help:      "Usuários auditados pelo replay do ledger por resultado",
	}, []string{"result"})
)

func RecordBet(result string, amount int64) {
	betsTotal.WithLabelValues(result).Inc()
	if result == "accepted" {
		betAmount.Observe(float64(amount))
	}
}

func RecordTransition(from, to string) { phaseTransitions.WithLabelValues(from, to).Inc() }

func RecordOutcome(direction, source string) { outcomesTotal.WithLabelValues(direction, source).Inc() }

func RecordSettlement(d time.Duration, payout int64) {
	settlementDuration.Observe(d.Seconds())
	settlementPayout.Add(float64(payout))
}

func RecordCreditRetry() { creditRetries.Inc() }

func AddPendingCredits(n int) { pendingCredits.Add(float64(n)) }

func SetPendingCredits(n int) { pendingCredits.Set(float64(n)) }

func RecordWalletConflict(op string) { walletConflicts.WithLabelValues(op).Inc() }

func SubscriberAdded()   { subscribers.Inc() }
func SubscriberRemoved() { subscribers.Dec() }

func SetLeader(leading bool) {
	if leading {
		leaderGauge.Set(1)
		return
	}
	leaderGauge.Set(0)
}

// RecordAudit registra o resultado do replay de um usuário ("ok", "drift", "error")
func RecordAudit(result string) { auditedUsers.WithLabelValues(result).Inc() }
