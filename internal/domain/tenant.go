package domain

import "time"

// Tenant is an isolated customer organization owning projects and a
// dedicated namespace on the repository host.
type Tenant struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// User belongs to exactly one tenant and authenticates with email/password.
type User struct {
	ID           string
	TenantID     string
	Email        string
	FullName     string
	Role         string
	PasswordHash []byte
	IsActive     bool
	CreatedAt    time.Time
}
