// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the
// command feed.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the command
// lifecycle. Metrics include:
//   - Ingestion counters (by command type)
//   - Checkpoint counters and latency (by status, agent, error code)
//   - Lease conflict counters
//   - Queue depth and agent map gauges
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "commandfeed"

// Subsystem for lifecycle metrics
const lifecycleSubsystem = "lifecycle"

// LifecycleMetrics holds all Prometheus metrics for command lifecycle
// operations. Initialize once at startup via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type LifecycleMetrics struct {
	// CommandsIngestedTotal counts ingested commands.
	// Labels: command_type (delete, export, accountclose, ageout)
	CommandsIngestedTotal *prometheus.CounterVec

	// AssetGroupsIngestedTotal counts roster entries created at ingestion.
	// Labels: command_type
	AssetGroupsIngestedTotal *prometheus.CounterVec

	// CommandsCompletedTotal counts commands reaching global completion.
	// Labels: command_type
	CommandsCompletedTotal *prometheus.CounterVec

	// CheckpointsTotal counts checkpoint calls by reported status.
	// Labels: status (pending, complete, failed, ...), agent
	CheckpointsTotal *prometheus.CounterVec

	// CheckpointErrorsTotal counts rejected checkpoints.
	// Labels: code (leaseConflict, malformedLeaseReceipt, ...)
	CheckpointErrorsTotal *prometheus.CounterVec

	// LeaseConflictsTotal counts checkpoints rejected for presenting a
	// superseded lease receipt.
	LeaseConflictsTotal prometheus.Counter

	// CheckpointDurationSeconds measures checkpoint handling latency.
	// Labels: status
	CheckpointDurationSeconds *prometheus.HistogramVec

	// QueuePending tracks pending roster entries per asset group.
	// Labels: asset_group
	QueuePending *prometheus.GaugeVec

	// AgentMapRefreshesTotal counts agent map refresh attempts.
	// Labels: outcome (success, failure)
	AgentMapRefreshesTotal *prometheus.CounterVec

	// AgentMapVersion reports the currently served agent map version.
	AgentMapVersion prometheus.Gauge
}

// DefaultMetrics is the singleton instance of LifecycleMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *LifecycleMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once at
// application startup, after the Prometheus registry is available.
//
// # Outputs
//
//   - *LifecycleMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *LifecycleMetrics {
	DefaultMetrics = &LifecycleMetrics{
		CommandsIngestedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "commands_ingested_total",
				Help:      "Total commands ingested by command type",
			},
			[]string{"command_type"},
		),

		AssetGroupsIngestedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "asset_groups_ingested_total",
				Help:      "Total roster entries created at ingestion",
			},
			[]string{"command_type"},
		),

		CommandsCompletedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "commands_completed_total",
				Help:      "Total commands reaching global completion",
			},
			[]string{"command_type"},
		),

		CheckpointsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "checkpoints_total",
				Help:      "Total checkpoint calls by reported status and agent",
			},
			[]string{"status", "agent"},
		),

		CheckpointErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "checkpoint_errors_total",
				Help:      "Total rejected checkpoints by error code",
			},
			[]string{"code"},
		),

		LeaseConflictsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "lease_conflicts_total",
				Help:      "Total checkpoints rejected for superseded lease receipts",
			},
		),

		CheckpointDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "checkpoint_duration_seconds",
				Help:      "Checkpoint handling latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"status"},
		),

		QueuePending: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: lifecycleSubsystem,
				Name:      "queue_pending",
				Help:      "Pending roster entries per asset group",
			},
			[]string{"asset_group"},
		),

		AgentMapRefreshesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "agentmap",
				Name:      "refreshes_total",
				Help:      "Total agent map refresh attempts by outcome",
			},
			[]string{"outcome"},
		),

		AgentMapVersion: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "agentmap",
				Name:      "version",
				Help:      "Currently served agent map version",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordIngestion records one ingested command and its roster size.
//
// # Inputs
//
//   - commandType: The ingested command's type.
//   - rosterSize: Number of applicable asset groups.
func (m *LifecycleMetrics) RecordIngestion(commandType string, rosterSize int) {
	m.CommandsIngestedTotal.WithLabelValues(commandType).Inc()
	m.AssetGroupsIngestedTotal.WithLabelValues(commandType).Add(float64(rosterSize))
}

// RecordCompletion records one command reaching global completion.
func (m *LifecycleMetrics) RecordCompletion(commandType string) {
	m.CommandsCompletedTotal.WithLabelValues(commandType).Inc()
}

// RecordCheckpoint records a successful checkpoint and its latency.
//
// # Inputs
//
//   - status: The status the agent reported.
//   - agent: The reporting agent's id.
//   - seconds: Handling latency in seconds.
func (m *LifecycleMetrics) RecordCheckpoint(status, agent string, seconds float64) {
	m.CheckpointsTotal.WithLabelValues(status, agent).Inc()
	m.CheckpointDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordCheckpointError records a rejected checkpoint.
//
// # Inputs
//
//   - code: The rejection code. Lease conflicts additionally bump the
//     dedicated conflict counter.
func (m *LifecycleMetrics) RecordCheckpointError(code string) {
	m.CheckpointErrorsTotal.WithLabelValues(code).Inc()
	if code == "leaseConflict" {
		m.LeaseConflictsTotal.Inc()
	}
}

// SetQueuePending sets the pending gauge for one asset group.
func (m *LifecycleMetrics) SetQueuePending(assetGroup string, pending int64) {
	m.QueuePending.WithLabelValues(assetGroup).Set(float64(pending))
}

// RecordMapRefresh records one agent map refresh attempt and, on success,
// the new version.
func (m *LifecycleMetrics) RecordMapRefresh(success bool, version int64) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.AgentMapRefreshesTotal.WithLabelValues(outcome).Inc()
	if success {
		m.AgentMapVersion.Set(float64(version))
	}
}
