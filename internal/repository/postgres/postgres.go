package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ourajeenn/MoonOps-V2/internal/domain"
	"github.com/Ourajeenn/MoonOps-V2/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.TenantRepository      = (*Repository)(nil)
	_ repository.UserRepository        = (*Repository)(nil)
	_ repository.ProjectRepository     = (*Repository)(nil)
	_ repository.EnvironmentRepository = (*Repository)(nil)
	_ repository.PipelineRepository    = (*Repository)(nil)
	_ repository.DeploymentRepository  = (*Repository)(nil)
	_ repository.AlertRepository       = (*Repository)(nil)
	_ repository.StatsRepository       = (*Repository)(nil)
)

// GetTenantByID fetches a tenant record.
func (r *Repository) GetTenantByID(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	const query = `SELECT id, name, created_at FROM tenants WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, tenantID)
	var t domain.Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// GetUserByEmail fetches an active user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, tenant_id, email, full_name, role, password_hash, is_active, created_at
		FROM users WHERE email = $1 AND is_active = TRUE`
	return r.scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, tenant_id, email, full_name, role, password_hash, is_active, created_at
		FROM users WHERE id = $1 AND is_active = TRUE`
	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *Repository) scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.FullName, &u.Role, &u.PasswordHash, &u.IsActive, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateProject inserts a project and fills the store-assigned id and
// creation timestamp back into the struct.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (tenant_id, name, description, template_type, status, repository_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query,
		project.TenantID,
		project.Name,
		project.Description,
		project.TemplateType,
		project.Status,
		project.RepositoryURL,
	).Scan(&project.ID, &project.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23503":
				return repository.ErrNotFound
			case "23514", "22P02", "23505":
				return repository.ErrInvalidArgument
			}
		}
		return err
	}
	return nil
}

// GetProject fetches a project owned by the tenant.
func (r *Repository) GetProject(ctx context.Context, tenantID, projectID string) (*domain.Project, error) {
	const query = `SELECT id, tenant_id, name, description, template_type, status, repository_url, created_at, last_deployed_at
		FROM projects WHERE id = $1 AND tenant_id = $2`
	row := r.pool.QueryRow(ctx, query, projectID, tenantID)
	var (
		p          domain.Project
		lastDeploy sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Description, &p.TemplateType, &p.Status, &p.RepositoryURL, &p.CreatedAt, &lastDeploy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if lastDeploy.Valid {
		value := lastDeploy.Time.UTC()
		p.LastDeployedAt = &value
	}
	return &p, nil
}

// ListProjectsByTenant returns the tenant's projects, newest first.
func (r *Repository) ListProjectsByTenant(ctx context.Context, tenantID string) ([]domain.Project, error) {
	const query = `SELECT id, tenant_id, name, description, template_type, status, repository_url, created_at, last_deployed_at
		FROM projects WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		var (
			p          domain.Project
			lastDeploy sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Description, &p.TemplateType, &p.Status, &p.RepositoryURL, &p.CreatedAt, &lastDeploy); err != nil {
			return nil, err
		}
		if lastDeploy.Valid {
			value := lastDeploy.Time.UTC()
			p.LastDeployedAt = &value
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteProject removes a tenant's project together with its deployments,
// environments and pipelines in one transaction.
func (r *Repository) DeleteProject(ctx context.Context, tenantID, projectID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var owned string
	err = tx.QueryRow(ctx, `SELECT id FROM projects WHERE id = $1 AND tenant_id = $2`, projectID, tenantID).Scan(&owned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM deployments
		WHERE environment_id IN (SELECT id FROM environments WHERE project_id = $1)`, projectID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM environments WHERE project_id = $1`, projectID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM pipelines WHERE project_id = $1`, projectID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM alerts WHERE project_id = $1`, projectID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM projects WHERE id = $1`, projectID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MarkProjectDeployed flips a project to ACTIVE and stamps the deploy time.
func (r *Repository) MarkProjectDeployed(ctx context.Context, tenantID, projectID string) error {
	const query = `UPDATE projects SET status = $3, last_deployed_at = NOW()
		WHERE id = $1 AND tenant_id = $2`
	cmdTag, err := r.pool.Exec(ctx, query, projectID, tenantID, domain.ProjectStatusActive)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// FindEnvironment looks up a named environment under a project.
func (r *Repository) FindEnvironment(ctx context.Context, projectID, name string) (*domain.Environment, error) {
	const query = `SELECT id, project_id, name, url, status, created_at
		FROM environments WHERE project_id = $1 AND name = $2`
	row := r.pool.QueryRow(ctx, query, projectID, name)
	var env domain.Environment
	if err := row.Scan(&env.ID, &env.ProjectID, &env.Name, &env.URL, &env.Status, &env.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &env, nil
}

// CreateEnvironment inserts a new environment record.
func (r *Repository) CreateEnvironment(ctx context.Context, environment *domain.Environment) error {
	const query = `INSERT INTO environments (id, project_id, name, url, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		environment.ID,
		environment.ProjectID,
		environment.Name,
		environment.URL,
		environment.Status,
		environment.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return repository.ErrNotFound
		}
		return err
	}
	return nil
}

// CreatePipeline inserts a pipeline run.
func (r *Repository) CreatePipeline(ctx context.Context, pipeline *domain.Pipeline) error {
	const query = `INSERT INTO pipelines (id, project_id, branch, status, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		pipeline.ID,
		pipeline.ProjectID,
		pipeline.Branch,
		pipeline.Status,
		pipeline.StartedAt,
		pipeline.FinishedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return repository.ErrNotFound
		}
		return err
	}
	return nil
}

// ListPipelinesByTenant returns recent pipelines across the tenant's projects.
func (r *Repository) ListPipelinesByTenant(ctx context.Context, tenantID string, limit int) ([]domain.Pipeline, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `SELECT p.id, p.project_id, pr.name, p.branch, p.status, p.started_at, p.finished_at
		FROM pipelines p
		INNER JOIN projects pr ON pr.id = p.project_id
		WHERE pr.tenant_id = $1
		ORDER BY p.started_at DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pipelines := make([]domain.Pipeline, 0)
	for rows.Next() {
		var (
			p        domain.Pipeline
			finished sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.ProjectName, &p.Branch, &p.Status, &p.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			value := finished.Time.UTC()
			p.FinishedAt = &value
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

// CreateDeployment inserts a deployment record under an environment.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, environment_id, version, status, deployed_at)
		SELECT $1, e.id, $4, $5, $6 FROM environments e
		WHERE e.project_id = $2 AND e.name = $3`
	cmdTag, err := r.pool.Exec(ctx, query,
		deployment.ID,
		deployment.ProjectID,
		deployment.Environment,
		deployment.Version,
		deployment.Status,
		deployment.DeployedAt,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListDeploymentsByTenant returns recent deployments across the tenant's projects.
func (r *Repository) ListDeploymentsByTenant(ctx context.Context, tenantID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT d.id, p.id, p.name, e.name, d.version, d.status, d.deployed_at
		FROM deployments d
		INNER JOIN environments e ON e.id = d.environment_id
		INNER JOIN projects p ON p.id = e.project_id
		WHERE p.tenant_id = $1
		ORDER BY d.deployed_at DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.ProjectName, &d.Environment, &d.Version, &d.Status, &d.DeployedAt); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// ListActiveAlertsByTenant returns recent unresolved alerts for the tenant.
func (r *Repository) ListActiveAlertsByTenant(ctx context.Context, tenantID string, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `SELECT a.id, a.project_id, p.name, a.severity, a.message, a.status, a.created_at, a.resolved_at
		FROM alerts a
		INNER JOIN projects p ON p.id = a.project_id
		WHERE a.status = 'ACTIVE' AND p.tenant_id = $1
		ORDER BY a.created_at DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := make([]domain.Alert, 0)
	for rows.Next() {
		var (
			a        domain.Alert
			resolved sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.ProjectName, &a.Severity, &a.Message, &a.Status, &a.CreatedAt, &resolved); err != nil {
			return nil, err
		}
		if resolved.Valid {
			value := resolved.Time.UTC()
			a.ResolvedAt = &value
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// GetDashboardStats aggregates tenant counters for the dashboard.
func (r *Repository) GetDashboardStats(ctx context.Context, tenantID string) (domain.DashboardStats, error) {
	const query = `SELECT
		(SELECT COUNT(1) FROM projects WHERE tenant_id = $1),
		(SELECT COUNT(1) FROM projects WHERE tenant_id = $1 AND status = 'ACTIVE'),
		(SELECT COUNT(1) FROM deployments d
			INNER JOIN environments e ON e.id = d.environment_id
			INNER JOIN projects p ON p.id = e.project_id
			WHERE p.tenant_id = $1),
		(SELECT COUNT(1) FROM pipelines pl
			INNER JOIN projects p ON p.id = pl.project_id
			WHERE p.tenant_id = $1 AND pl.status = 'SUCCESS'),
		(SELECT COUNT(1) FROM alerts a
			INNER JOIN projects p ON p.id = a.project_id
			WHERE p.tenant_id = $1 AND a.status = 'ACTIVE')`
	var stats domain.DashboardStats
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&stats.TotalProjects,
		&stats.ActiveProjects,
		&stats.TotalDeployments,
		&stats.SuccessfulPipelines,
		&stats.ActiveAlerts,
	)
	if err != nil {
		return domain.DashboardStats{}, err
	}
	return stats, nil
}
