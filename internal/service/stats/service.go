package stats

import (
	"context"

	"log/slog"

	"github.com/Ourajeenn/MoonOps-V2/internal/domain"
	"github.com/Ourajeenn/MoonOps-V2/internal/repository"
)

// Service serves dashboard counters and alerts.
type Service struct {
	stats  repository.StatsRepository
	alerts repository.AlertRepository
	logger *slog.Logger
}

// New constructs a Service.
func New(stats repository.StatsRepository, alerts repository.AlertRepository, logger *slog.Logger) Service {
	return Service{stats: stats, alerts: alerts, logger: logger}
}

// Dashboard returns the tenant's aggregate counters.
func (s Service) Dashboard(ctx context.Context, tenantID string) (domain.DashboardStats, error) {
	return s.stats.GetDashboardStats(ctx, tenantID)
}

// ActiveAlerts returns the tenant's most recent active alerts.
func (s Service) ActiveAlerts(ctx context.Context, tenantID string, limit int) ([]domain.Alert, error) {
	return s.alerts.ListActiveAlertsByTenant(ctx, tenantID, limit)
}
