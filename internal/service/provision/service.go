package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"log/slog"

	"github.com/Ourajeenn/MoonOps-V2/internal/domain"
	"github.com/Ourajeenn/MoonOps-V2/internal/gitops"
	"github.com/Ourajeenn/MoonOps-V2/internal/repository"
	"github.com/Ourajeenn/MoonOps-V2/internal/scm"
)

// ErrorKind classifies provisioning failures for transport layers.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindHostAuthorization ErrorKind = "host_authorization"
	KindHostNameConflict  ErrorKind = "host_name_conflict"
	KindHostTransport     ErrorKind = "host_transport"
	KindHostAPI           ErrorKind = "host_api"
	KindExtraction        ErrorKind = "extraction"
	KindPublish           ErrorKind = "publish"
	KindPublishTimeout    ErrorKind = "publish_timeout"
	KindPersistence       ErrorKind = "persistence"
)

// Error is a classified provisioning failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("provision %s: %v", e.Kind, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// HostClient creates tenant namespaces and repositories on the repo host.
type HostClient interface {
	EnsureNamespace(ctx context.Context, tenant string) (int64, error)
	CreateRepository(ctx context.Context, name, description string, namespaceID int64) (scm.Repository, error)
}

// Extractor materializes an uploaded archive into a working tree.
type Extractor interface {
	Extract(data []byte, nameHint string) (string, error)
}

// Publisher pushes a working tree to a repository URL.
type Publisher interface {
	Publish(ctx context.Context, workTree, remoteURL, name string) error
}

// Workspaces removes working trees once publishing is over.
type Workspaces interface {
	Cleanup(path string) error
}

// ContentSource carries the optional initial content of a project. At most
// one of Archive and ExternalURL is set; neither set means the project
// starts from the host generated seed.
type ContentSource struct {
	Archive     []byte
	ExternalURL string
}

// Input describes a project provisioning request.
type Input struct {
	TenantID     string
	Name         string
	Description  string
	TemplateType string
	Source       ContentSource
}

// Result reports the stored project and its host repository.
type Result struct {
	Project    *domain.Project
	Repository scm.Repository
}

// Service runs the provisioning workflow end to end.
type Service struct {
	tenants    repository.TenantRepository
	projects   repository.ProjectRepository
	host       HostClient
	extractor  Extractor
	publisher  Publisher
	workspaces Workspaces
	logger     *slog.Logger
}

// New constructs a Service.
func New(tenants repository.TenantRepository, projects repository.ProjectRepository, host HostClient, extractor Extractor, publisher Publisher, workspaces Workspaces, logger *slog.Logger) Service {
	return Service{
		tenants:    tenants,
		projects:   projects,
		host:       host,
		extractor:  extractor,
		publisher:  publisher,
		workspaces: workspaces,
		logger:     logger,
	}
}

var (
	errProjectNameRequired = errors.New("project name is required")
	errTenantUnknown       = errors.New("tenant not found")
)

// Provision creates the host namespace and repository for the project,
// publishes uploaded content when an archive is part of the request, and
// records the project row only after every remote step succeeded. Remote
// artifacts created before a failure are left in place; only local working
// trees are cleaned up.
func (s Service) Provision(ctx context.Context, input Input) (*Result, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, &Error{Kind: KindValidation, Err: errProjectNameRequired}
	}

	tenant, err := s.tenants.GetTenantByID(ctx, input.TenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &Error{Kind: KindValidation, Err: errTenantUnknown}
		}
		return nil, &Error{Kind: KindPersistence, Err: err}
	}

	namespaceID, err := s.host.EnsureNamespace(ctx, tenant.Name)
	if err != nil {
		return nil, classifyHost(err)
	}
	repo, err := s.host.CreateRepository(ctx, name, hostDescription(input.TemplateType), namespaceID)
	if err != nil {
		return nil, classifyHost(err)
	}
	s.logger.Info("repository provisioned",
		"tenant_id", tenant.ID, "repository", repo.PathWithNamespace, "repository_id", repo.ID)

	if len(input.Source.Archive) > 0 {
		if err := s.publishArchive(ctx, input.Source.Archive, name, repo); err != nil {
			return nil, err
		}
	}

	project := &domain.Project{
		TenantID:      tenant.ID,
		Name:          name,
		Description:   composeDescription(input.Description, input.Source.ExternalURL),
		TemplateType:  input.TemplateType,
		Status:        domain.ProjectStatusPending,
		RepositoryURL: repositoryURL(repo, input.Source),
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		return nil, &Error{Kind: KindPersistence, Err: err}
	}

	s.logger.Info("project provisioned",
		"project_id", project.ID, "tenant_id", tenant.ID, "repository", repo.PathWithNamespace)
	return &Result{Project: project, Repository: repo}, nil
}

func (s Service) publishArchive(ctx context.Context, archive []byte, name string, repo scm.Repository) error {
	workTree, err := s.extractor.Extract(archive, name)
	if err != nil {
		return &Error{Kind: KindExtraction, Err: err}
	}
	defer func() {
		if cleanupErr := s.workspaces.Cleanup(workTree); cleanupErr != nil {
			s.logger.Warn("working tree cleanup failed", "work_tree", workTree, "error", cleanupErr)
		}
	}()

	if err := s.publisher.Publish(ctx, workTree, repo.HTTPURLToRepo, name); err != nil {
		var publishErr *gitops.PublishError
		if errors.As(err, &publishErr) && publishErr.Cause == gitops.CauseTimeout {
			return &Error{Kind: KindPublishTimeout, Err: err}
		}
		return &Error{Kind: KindPublish, Err: err}
	}
	return nil
}

func classifyHost(err error) *Error {
	var hostErr *scm.Error
	if errors.As(err, &hostErr) {
		switch hostErr.Kind {
		case scm.KindAuthorization:
			return &Error{Kind: KindHostAuthorization, Err: err}
		case scm.KindNameConflict:
			return &Error{Kind: KindHostNameConflict, Err: err}
		case scm.KindTransport:
			return &Error{Kind: KindHostTransport, Err: err}
		}
	}
	return &Error{Kind: KindHostAPI, Err: err}
}

func composeDescription(description, externalURL string) string {
	description = strings.TrimSpace(description)
	if externalURL = strings.TrimSpace(externalURL); externalURL != "" {
		if description == "" {
			return fmt.Sprintf("(Git: %s)", externalURL)
		}
		return fmt.Sprintf("%s (Git: %s)", description, externalURL)
	}
	return description
}

// repositoryURL picks the URL recorded on the project. A referenced
// external repository keeps its own URL; content pushed to the host, or
// an empty host seeded repository, records the host URL.
func repositoryURL(repo scm.Repository, source ContentSource) string {
	if len(source.Archive) == 0 {
		if external := strings.TrimSpace(source.ExternalURL); external != "" {
			return external
		}
	}
	if repo.WebURL != "" {
		return repo.WebURL
	}
	return repo.HTTPURLToRepo
}

func hostDescription(templateType string) string {
	templateType = strings.TrimSpace(templateType)
	if templateType == "" {
		return "Project created via MoonOps"
	}
	return fmt.Sprintf("%s project created via MoonOps", templateType)
}
