package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/scoopworks/retail-audit-backend/internal/domain/audit"
	"github.com/scoopworks/retail-audit-backend/internal/domain/ops"
	"github.com/scoopworks/retail-audit-backend/internal/domain/security"
	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/telemetry"
)

var tracer = telemetry.Tracer("compliance")

// UserDirectory is the read-only view over the platform's user base.
type UserDirectory interface {
	CountUsers(ctx context.Context) (int64, error)
}

// ComplianceReport summarizes activity over a rolling window. Counts are
// gathered independently and non-transactionally; under concurrent writes
// they describe slightly different instants, which is acceptable for a
// summary document.
type ComplianceReport struct {
	WindowStart       time.Time          `json:"window_start"`
	WindowEnd         time.Time          `json:"window_end"`
	TotalUsers        int64              `json:"total_users"`
	ActiveUsers       int64              `json:"active_users"`
	TotalActions      int64              `json:"total_actions"`
	SecurityEvents    int64              `json:"security_events"`
	DataAccess        int64              `json:"data_access"`
	DataModifications int64              `json:"data_modifications"`
	Activity          *audit.Stats       `json:"activity"`
	Maintenance       MaintenanceSummary `json:"maintenance"`
	GeneratedAt       time.Time          `json:"generated_at"`
}

// MaintenanceSummary covers maintenance windows overlapping the report window.
type MaintenanceSummary struct {
	ActiveWindows int64                    `json:"active_windows"`
	Windows       []*ops.MaintenanceWindow `json:"windows,omitempty"`
}

var dataAccessActions = []string{audit.ActionRead, audit.ActionExport, audit.ActionAccess}
var dataModificationActions = []string{audit.ActionCreate, audit.ActionUpdate, audit.ActionDelete}

// ComplianceGenerator assembles compliance reports from the audit trail,
// security events, maintenance windows and the user directory.
type ComplianceGenerator struct {
	audits      audit.Repository
	incidents   security.Repository
	maintenance ops.MaintenanceRepository
	users       UserDirectory
	window      time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func NewComplianceGenerator(
	audits audit.Repository,
	incidents security.Repository,
	maintenance ops.MaintenanceRepository,
	users UserDirectory,
	window time.Duration,
	logger *slog.Logger,
) *ComplianceGenerator {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ComplianceGenerator{
		audits:      audits,
		incidents:   incidents,
		maintenance: maintenance,
		users:       users,
		window:      window,
		logger:      logger,
		now:         time.Now,
	}
}

// Generate builds a report for the rolling window ending now. Any failing
// sub-count fails the whole report; a partially populated summary would be
// worse than none.
func (g *ComplianceGenerator) Generate(ctx context.Context) (*ComplianceReport, error) {
	ctx, span := tracer.Start(ctx, "compliance.generate")
	defer span.End()

	end := g.now().UTC()
	start := end.Add(-g.window)

	report, err := g.gather(ctx, start, end)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	report.GeneratedAt = g.now().UTC()
	g.logger.InfoContext(ctx, "compliance report generated",
		"window_start", start,
		"window_end", end,
		"total_actions", report.TotalActions,
		"security_events", report.SecurityEvents)
	return report, nil
}

func (g *ComplianceGenerator) gather(ctx context.Context, start, end time.Time) (*ComplianceReport, error) {
	report := &ComplianceReport{
		WindowStart: start,
		WindowEnd:   end,
	}

	var err error
	if report.TotalUsers, err = g.users.CountUsers(ctx); err != nil {
		return nil, err
	}
	if report.ActiveUsers, err = g.audits.CountDistinctActorsInWindow(ctx, start, end); err != nil {
		return nil, err
	}
	if report.Activity, err = g.audits.StatsInWindow(ctx, start, end); err != nil {
		return nil, err
	}
	report.TotalActions = report.Activity.Total
	if report.SecurityEvents, err = g.incidents.CountInWindow(ctx, start, end); err != nil {
		return nil, err
	}
	if report.DataAccess, err = g.audits.CountByActionsInWindow(ctx, dataAccessActions, start, end); err != nil {
		return nil, err
	}
	if report.DataModifications, err = g.audits.CountByActionsInWindow(ctx, dataModificationActions, start, end); err != nil {
		return nil, err
	}

	if report.Maintenance.ActiveWindows, err = g.maintenance.CountActiveInWindow(ctx, start, end); err != nil {
		return nil, err
	}
	if report.Maintenance.Windows, err = g.maintenance.ListOverlapping(ctx, start, end); err != nil {
		return nil, err
	}

	return report, nil
}
