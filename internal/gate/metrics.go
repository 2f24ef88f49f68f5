// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"slices"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values for action decisions.
const (
	ResultAllow = "allow"
	ResultDeny  = "deny"
)

// ActionDecisions counts action gate decisions.
// Use RegisterMetrics to register this with a Prometheus registry.
var ActionDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authgate_action_decisions_total",
		Help: "Total number of action gate decisions by category and result",
	},
	[]string{"category", "result"},
)

// JoinOutcomes counts join flow terminal states.
// Use RegisterMetrics to register this with a Prometheus registry.
var JoinOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authgate_join_outcomes_total",
		Help: "Total number of joins by outcome",
	},
	[]string{"outcome"},
)

// AdmissionRejections counts pre-join rejections.
// Use RegisterMetrics to register this with a Prometheus registry.
var AdmissionRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authgate_admission_rejections_total",
		Help: "Total number of pre-join admission rejections by reason",
	},
	[]string{"reason"},
)

// SessionArms counts resumable windows armed on disconnect.
// Use RegisterMetrics to register this with a Prometheus registry.
var SessionArms = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "authgate_session_arms_total",
		Help: "Total number of resumable session windows armed on disconnect",
	},
)

// RegisterMetrics registers gate metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(ActionDecisions)
	reg.MustRegister(JoinOutcomes)
	reg.MustRegister(AdmissionRejections)
	reg.MustRegister(SessionArms)
}

// unknownCategoryLabel replaces categories outside Categories() so callers
// cannot grow the label set.
const unknownCategoryLabel = "unknown"

func categoryLabel(category Category) string {
	if slices.Contains(Categories(), category) {
		return string(category)
	}
	return unknownCategoryLabel
}

func recordDecision(category Category, allowed bool) {
	result := ResultDeny
	if allowed {
		result = ResultAllow
	}
	ActionDecisions.WithLabelValues(categoryLabel(category), result).Inc()
}
