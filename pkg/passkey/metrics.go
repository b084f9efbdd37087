// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package passkey

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects ceremony counters. All methods are nil-safe so the
// service can run without metrics configured.
type Metrics struct {
	started   *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
}

// NewMetrics creates and registers the ceremony collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "passkey",
			Name:      "ceremonies_started_total",
			Help:      "Ceremony start calls by kind.",
		}, []string{"kind"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "passkey",
			Name:      "ceremonies_completed_total",
			Help:      "Successfully finished ceremonies by kind.",
		}, []string{"kind"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "passkey",
			Name:      "ceremonies_failed_total",
			Help:      "Failed ceremony finishes by kind and reason.",
		}, []string{"kind", "reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.started, m.completed, m.failed)
	}
	return m
}

func (m *Metrics) ceremonyStarted(kind SessionKind) {
	if m == nil {
		return
	}
	m.started.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) ceremonyCompleted(kind SessionKind) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) ceremonyFailed(kind SessionKind, reason string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(string(kind), reason).Inc()
}

// failureReason buckets an error into a stable metric label.
func failureReason(err error) string {
	switch {
	case IsSessionNotFound(err):
		return "session_not_found"
	case IsSessionExpired(err):
		return "session_expired"
	case IsSessionConsumed(err):
		return "session_consumed"
	case IsStaleSignCount(err):
		return "stale_sign_count"
	case IsCredentialConflict(err):
		return "credential_conflict"
	case IsVerificationFailed(err):
		return "verification_failed"
	case IsTransient(err):
		return "store_unavailable"
	default:
		return "other"
	}
}
