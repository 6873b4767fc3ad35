package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels shared by the payment counters.
const (
	OutcomeSuccess   = "success"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// PaymentMetrics counts money-moving operations by gateway and outcome.
type PaymentMetrics struct {
	checkouts     *prometheus.CounterVec
	confirmations *prometheus.CounterVec
	refunds       *prometheus.CounterVec
	payouts       *prometheus.CounterVec
}

func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	m := &PaymentMetrics{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by path, gateway and outcome.",
		}, []string{"path", "gateway", "outcome"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_confirmations_total",
			Help:      "Payment confirmations by gateway and outcome.",
		}, []string{"gateway", "outcome"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Order cancellations and refunds by outcome.",
		}, []string{"gateway", "outcome"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seller_payouts_total",
			Help:      "Seller payouts attempted by the sweep, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.checkouts, m.confirmations, m.refunds, m.payouts)
	return m
}

func (m *PaymentMetrics) IncCheckout(path, gateway, outcome string) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(path, gateway, outcome).Inc()
}

func (m *PaymentMetrics) IncConfirmation(gateway, outcome string) {
	if m == nil || m.confirmations == nil {
		return
	}
	m.confirmations.WithLabelValues(gateway, outcome).Inc()
}

func (m *PaymentMetrics) IncRefund(gateway, outcome string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(gateway, outcome).Inc()
}

func (m *PaymentMetrics) IncPayout(outcome string) {
	if m == nil || m.payouts == nil {
		return
	}
	m.payouts.WithLabelValues(outcome).Inc()
}
