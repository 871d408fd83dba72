package domain

import "time"

// Environment names mapped from deploy requests.
const (
	EnvironmentDevelopment = "DEVELOPMENT"
	EnvironmentStaging     = "STAGING"
	EnvironmentProduction  = "PRODUCTION"
)

// Environment is a deploy target attached to a project.
type Environment struct {
	ID        string
	ProjectID string
	Name      string
	URL       string
	Status    string
	CreatedAt time.Time
}

// Pipeline records a CI run for a project branch.
type Pipeline struct {
	ID          string
	ProjectID   string
	ProjectName string
	Branch      string
	Status      string
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// Deployment captures a released version on an environment.
type Deployment struct {
	ID          string
	ProjectID   string
	ProjectName string
	Environment string
	Version     string
	Status      string
	DeployedAt  time.Time
}
