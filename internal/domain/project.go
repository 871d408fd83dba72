package domain

import "time"

// Project lifecycle statuses.
const (
	ProjectStatusPending = "PENDING"
	ProjectStatusActive  = "ACTIVE"
)

// Project describes a provisioned unit of work scoped to a tenant.
type Project struct {
	ID             string
	TenantID       string
	Name           string
	Description    string
	TemplateType   string
	Status         string
	RepositoryURL  string
	CreatedAt      time.Time
	LastDeployedAt *time.Time
}
