package repository

import (
	"context"

	"github.com/Ourajeenn/MoonOps-V2/internal/domain"
)

// TenantRepository resolves tenant records.
type TenantRepository interface {
	GetTenantByID(ctx context.Context, tenantID string) (*domain.Tenant, error)
}

// UserRepository persists users.
type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// ProjectRepository persists project metadata. Every query is scoped by
// tenant id; no cross-tenant read goes through this interface.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProject(ctx context.Context, tenantID, projectID string) (*domain.Project, error)
	ListProjectsByTenant(ctx context.Context, tenantID string) ([]domain.Project, error)
	DeleteProject(ctx context.Context, tenantID, projectID string) error
	MarkProjectDeployed(ctx context.Context, tenantID, projectID string) error
}

// EnvironmentRepository manages deploy targets under projects.
type EnvironmentRepository interface {
	FindEnvironment(ctx context.Context, projectID, name string) (*domain.Environment, error)
	CreateEnvironment(ctx context.Context, environment *domain.Environment) error
}

// PipelineRepository records CI runs.
type PipelineRepository interface {
	CreatePipeline(ctx context.Context, pipeline *domain.Pipeline) error
	ListPipelinesByTenant(ctx context.Context, tenantID string, limit int) ([]domain.Pipeline, error)
}

// DeploymentRepository records released versions.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	ListDeploymentsByTenant(ctx context.Context, tenantID string, limit int) ([]domain.Deployment, error)
}

// AlertRepository reads project alerts.
type AlertRepository interface {
	ListActiveAlertsByTenant(ctx context.Context, tenantID string, limit int) ([]domain.Alert, error)
}

// StatsRepository aggregates dashboard counters.
type StatsRepository interface {
	GetDashboardStats(ctx context.Context, tenantID string) (domain.DashboardStats, error)
}
