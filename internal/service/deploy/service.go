package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/Ourajeenn/MoonOps-V2/internal/domain"
	"github.com/Ourajeenn/MoonOps-V2/internal/repository"
)

// Service simulates deployments and records their audit trail.
type Service struct {
	projects     repository.ProjectRepository
	environments repository.EnvironmentRepository
	pipelines    repository.PipelineRepository
	deployments  repository.DeploymentRepository
	logger       *slog.Logger
	now          func() time.Time
}

// New constructs a Service.
func New(projects repository.ProjectRepository, environments repository.EnvironmentRepository, pipelines repository.PipelineRepository, deployments repository.DeploymentRepository, logger *slog.Logger) Service {
	return Service{
		projects:     projects,
		environments: environments,
		pipelines:    pipelines,
		deployments:  deployments,
		logger:       logger,
		now:          time.Now,
	}
}

var errMissingProjectID = errors.New("project id required")

// Input names the project and target environment of a deployment.
type Input struct {
	TenantID    string
	ProjectID   string
	Environment string
}

// Result reports the recorded pipeline and deployment.
type Result struct {
	Pipeline    *domain.Pipeline
	Deployment  *domain.Deployment
	Environment string
}

// Deploy records a successful pipeline run and deployment for the project,
// creating the target environment on first use, and flips the project to
// ACTIVE. Only the owning tenant may deploy.
func (s Service) Deploy(ctx context.Context, input Input) (*Result, error) {
	if input.ProjectID == "" {
		return nil, errMissingProjectID
	}
	project, err := s.projects.GetProject(ctx, input.TenantID, input.ProjectID)
	if err != nil {
		return nil, err
	}

	envName := environmentName(input.Environment)
	env, err := s.environments.FindEnvironment(ctx, project.ID, envName)
	if errors.Is(err, repository.ErrNotFound) {
		env = &domain.Environment{
			ID:        uuid.NewString(),
			ProjectID: project.ID,
			Name:      envName,
			URL:       fmt.Sprintf("https://%s.moonops.app", strings.ToLower(envName)),
			Status:    "RUNNING",
			CreatedAt: s.now().UTC(),
		}
		if createErr := s.environments.CreateEnvironment(ctx, env); createErr != nil {
			return nil, createErr
		}
	} else if err != nil {
		return nil, err
	}

	now := s.now()
	finished := now
	pipeline := &domain.Pipeline{
		ID:         uuid.NewString(),
		ProjectID:  project.ID,
		Branch:     "main",
		Status:     "SUCCESS",
		StartedAt:  now,
		FinishedAt: &finished,
	}
	if err := s.pipelines.CreatePipeline(ctx, pipeline); err != nil {
		return nil, err
	}

	deployment := &domain.Deployment{
		ID:          uuid.NewString(),
		ProjectID:   project.ID,
		Environment: envName,
		Version:     fmt.Sprintf("v1.%s", now.Format("150405")),
		Status:      "SUCCESS",
		DeployedAt:  now,
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		return nil, err
	}

	if err := s.projects.MarkProjectDeployed(ctx, input.TenantID, project.ID); err != nil {
		return nil, err
	}

	s.logger.Info("deployment recorded",
		"project_id", project.ID, "environment", envName, "version", deployment.Version)
	return &Result{Pipeline: pipeline, Deployment: deployment, Environment: envName}, nil
}

// ListDeployments returns the tenant's most recent deployments.
func (s Service) ListDeployments(ctx context.Context, tenantID string, limit int) ([]domain.Deployment, error) {
	return s.deployments.ListDeploymentsByTenant(ctx, tenantID, limit)
}

// ListPipelines returns the tenant's most recent pipeline runs.
func (s Service) ListPipelines(ctx context.Context, tenantID string, limit int) ([]domain.Pipeline, error) {
	return s.pipelines.ListPipelinesByTenant(ctx, tenantID, limit)
}

// environmentName maps request shorthands onto stored environment names.
// Anything unrecognized lands in DEVELOPMENT.
func environmentName(env string) string {
	switch strings.ToUpper(strings.TrimSpace(env)) {
	case "STAGING", "STAGE":
		return domain.EnvironmentStaging
	case "PRODUCTION", "PROD":
		return domain.EnvironmentProduction
	default:
		return domain.EnvironmentDevelopment
	}
}
