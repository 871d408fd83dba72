package domain

import "time"

// Alert is an active or resolved notification attached to a project.
type Alert struct {
	ID          string
	ProjectID   string
	ProjectName string
	Severity    string
	Message     string
	Status      string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// DashboardStats aggregates tenant-wide counters for the overview screen.
type DashboardStats struct {
	TotalProjects       int `json:"total_projects"`
	ActiveProjects      int `json:"active_projects"`
	TotalDeployments    int `json:"total_deployments"`
	SuccessfulPipelines int `json:"total_pipelines"`
	ActiveAlerts        int `json:"total_alerts"`
}
