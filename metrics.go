package authcore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Operation labels used in metrics and logs
const (
	OpRegister           = "register"
	OpLogin              = "login"
	OpRefresh            = "refresh"
	OpForgotPassword     = "forgot_password"
	OpResetPassword      = "reset_password"
	OpVerifyEmail        = "verify_email"
	OpResendVerification = "resend_verification"
	OpFederatedLogin     = "federated_login"
	OpLinkFederated      = "link_federated"
	OpGetProfile         = "get_profile"
	OpSetActive          = "set_active"
)

// Metrics counts engine outcomes. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	deliveries *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is non-nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_operations_total",
				Help: "Identity lifecycle operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_code_deliveries_total",
				Help: "One-time code deliveries by purpose and result",
			},
			[]string{"purpose", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.deliveries)
	}
	return m
}

// Operations exposes the operation counter
func (m *Metrics) Operations() *prometheus.CounterVec {
	return m.operations
}

// Deliveries exposes the delivery counter
func (m *Metrics) Deliveries() *prometheus.CounterVec {
	return m.deliveries
}

func (m *Metrics) observe(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) observeDelivery(purpose CodePurpose, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.deliveries.WithLabelValues(string(purpose), result).Inc()
}
