package project

import (
	"context"
	"errors"

	"log/slog"

	"github.com/Ourajeenn/MoonOps-V2/internal/domain"
	"github.com/Ourajeenn/MoonOps-V2/internal/repository"
)

// Service reads and removes stored projects.
type Service struct {
	projects repository.ProjectRepository
	logger   *slog.Logger
}

// New constructs a Service.
func New(projects repository.ProjectRepository, logger *slog.Logger) Service {
	return Service{projects: projects, logger: logger}
}

var errMissingProjectID = errors.New("project id required")

// List returns the tenant's projects, newest first.
func (s Service) List(ctx context.Context, tenantID string) ([]domain.Project, error) {
	return s.projects.ListProjectsByTenant(ctx, tenantID)
}

// Get returns one project owned by the tenant.
func (s Service) Get(ctx context.Context, tenantID, projectID string) (*domain.Project, error) {
	if projectID == "" {
		return nil, errMissingProjectID
	}
	return s.projects.GetProject(ctx, tenantID, projectID)
}

// Delete removes a project together with its deployments, environments and
// pipelines. Only the tenant owning the project may delete it.
func (s Service) Delete(ctx context.Context, tenantID, projectID string) error {
	if projectID == "" {
		return errMissingProjectID
	}
	if err := s.projects.DeleteProject(ctx, tenantID, projectID); err != nil {
		return err
	}
	s.logger.Info("project deleted", "project_id", projectID, "tenant_id", tenantID)
	return nil
}
