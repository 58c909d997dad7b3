// Package sla watches open SLA metrics and raises at-risk and breach events.
// The monitor only escalates metric status and emits events; finalizing a
// metric (met or breached outcome) belongs to the engine, and process and
// task statuses are never touched from here.
package sla

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Chunkys0up7/Atoms-sub002/internal/definition"
	"github.com/Chunkys0up7/Atoms-sub002/internal/store"
	"github.com/Chunkys0up7/Atoms-sub002/model"
)

const (
	defaultScanInterval   = 5 * time.Minute
	defaultWarningPercent = 80
	defaultBatchLimit     = 500
)

// Publisher emits lifecycle events to in-process subscribers.
type Publisher interface {
	Publish(e model.ProcessEvent) error
}

// Config tunes the scan loop. Zero values fall back to defaults.
type Config struct {
	ScanInterval   time.Duration
	WarningPercent int
	BatchLimit     int
}

// ScanResult summarizes one scan pass.
type ScanResult struct {
	Scanned     int
	AtRisk      int
	Breached    int
	Escalations int
}

// Monitor periodically scans open SLA metrics. Status moves forward only:
// a metric never goes back from at_risk to on_track, and terminal outcomes
// written by the engine are never revised.
type Monitor struct {
	store    store.Store
	registry *definition.Registry
	bus      Publisher
	logger   *zap.Logger
	cfg      Config
	cron     *cron.Cron

	now func() time.Time
}

// New creates a Monitor. It does not start scanning until Start is called.
func New(st store.Store, registry *definition.Registry, bus Publisher, logger *zap.Logger, cfg Config) *Monitor {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaultScanInterval
	}
	if cfg.WarningPercent <= 0 || cfg.WarningPercent > 100 {
		cfg.WarningPercent = defaultWarningPercent
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}
	return &Monitor{
		store:    st,
		registry: registry,
		bus:      bus,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Start schedules the periodic scan.
func (m *Monitor) Start() error {
	m.cron = cron.New()
	spec := fmt.Sprintf("@every %s", m.cfg.ScanInterval)
	if _, err := m.cron.AddFunc(spec, func() {
		if _, err := m.Scan(context.Background()); err != nil {
			m.logger.Error("sla scan failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule sla scan: %w", err)
	}
	m.cron.Start()
	m.logger.Info("sla monitor started",
		zap.Duration("scan_interval", m.cfg.ScanInterval),
		zap.Int("warning_percent", m.cfg.WarningPercent),
	)
	return nil
}

// Stop halts the scan loop and waits for an in-flight scan to finish.
func (m *Monitor) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}

// Scan runs one pass over the open metrics.
func (m *Monitor) Scan(ctx context.Context) (ScanResult, error) {
	metrics, err := m.store.FindOpenSLAMetrics(ctx, m.cfg.BatchLimit)
	if err != nil {
		return ScanResult{}, fmt.Errorf("find open sla metrics: %w", err)
	}

	var result ScanResult
	now := m.now().UTC()
	defs := make(map[string]string)
	for _, metric := range metrics {
		result.Scanned++
		if metric.Finalized() {
			continue
		}

		defID, ok := defs[metric.ProcessID]
		if !ok {
			defID = m.definitionID(ctx, metric.ProcessID)
			defs[metric.ProcessID] = defID
		}

		elapsed := now.Sub(metric.StartedAt)
		next := m.nextStatus(metric, elapsed, defID)
		if !model.SLAStatusAdvances(metric.Status, next) {
			continue
		}

		metric.Status = next
		metric.Elapsed = elapsed
		if err := m.store.UpdateSLAMetric(ctx, metric); err != nil {
			// Lost the race against the engine finalizing; the next scan
			// re-reads.
			if model.IsCode(err, model.ErrConflict) {
				continue
			}
			m.logger.Warn("updating sla metric", zap.String("metric_id", metric.ID), zap.Error(err))
			continue
		}

		switch next {
		case model.SLAStatusAtRisk:
			result.AtRisk++
			m.emit(ctx, metric, model.EventSLAAtRisk, elapsed)
			result.Escalations += m.escalate(ctx, metric, defID, model.RuleTriggerSLAAtRisk)
		case model.SLAStatusBreached:
			result.Breached++
			m.emit(ctx, metric, model.EventSLABreached, elapsed)
			result.Escalations += m.escalate(ctx, metric, defID, model.RuleTriggerSLABreached)
		}
	}
	return result, nil
}

// nextStatus derives the metric's status from elapsed time alone.
func (m *Monitor) nextStatus(metric model.SLAMetric, elapsed time.Duration, defID string) string {
	if elapsed >= metric.Target {
		return model.SLAStatusBreached
	}
	pct := m.cfg.WarningPercent
	if def, ok := m.registry.Get(defID); ok {
		pct = def.WarningPercent()
	}
	threshold := metric.Target * time.Duration(pct) / 100
	if elapsed >= threshold {
		return model.SLAStatusAtRisk
	}
	return metric.Status
}

// definitionID resolves a metric's process to its definition. An empty ID
// means the global defaults apply.
func (m *Monitor) definitionID(ctx context.Context, processID string) string {
	proc, err := m.store.GetProcess(ctx, processID)
	if err != nil {
		m.logger.Warn("resolving process for sla metric", zap.String("process_id", processID), zap.Error(err))
		return ""
	}
	return proc.DefinitionID
}

// escalate fires the escalation rules that match the trigger.
func (m *Monitor) escalate(ctx context.Context, metric model.SLAMetric, defID, trigger string) int {
	rules := m.registry.Rules(defID, trigger)
	for _, rule := range rules {
		m.publish(ctx, model.ProcessEvent{
			ProcessID: metric.ProcessID,
			TaskID:    metric.TaskID,
			Type:      model.EventNotificationEscalated,
			Actor:     "sla-monitor",
			Payload: map[string]any{
				"rule_id": rule.ID,
				"trigger": trigger,
				"action":  rule.Action,
				"target":  rule.Target,
			},
		})
	}
	return len(rules)
}

func (m *Monitor) emit(ctx context.Context, metric model.SLAMetric, eventType string, elapsed time.Duration) {
	m.publish(ctx, model.ProcessEvent{
		ProcessID: metric.ProcessID,
		TaskID:    metric.TaskID,
		Type:      eventType,
		Actor:     "sla-monitor",
		Payload: map[string]any{
			"kind":     metric.Kind,
			"deadline": metric.Deadline,
			"target":   metric.Target.String(),
			"elapsed":  elapsed.String(),
		},
	})
}

// publish appends to the audit trail and fans out on the bus.
func (m *Monitor) publish(ctx context.Context, event model.ProcessEvent) {
	event.ID = uuid.New().String()
	event.Severity = model.EventSeverity(event.Type)
	event.CreatedAt = m.now().UTC()

	if err := m.store.AppendEvent(ctx, event); err != nil {
		m.logger.Error("appending sla event",
			zap.String("process_id", event.ProcessID),
			zap.String("type", event.Type),
			zap.Error(err),
		)
	}
	if m.bus != nil {
		if err := m.bus.Publish(event); err != nil {
			m.logger.Error("publishing sla event",
				zap.String("process_id", event.ProcessID),
				zap.String("type", event.Type),
				zap.Error(err),
			)
		}
	}
}
