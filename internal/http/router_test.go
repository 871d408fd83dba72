package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Ourajeenn/MoonOps-V2/internal/domain"
	"github.com/Ourajeenn/MoonOps-V2/internal/repository"
	"github.com/Ourajeenn/MoonOps-V2/internal/scm"
	"github.com/Ourajeenn/MoonOps-V2/internal/service/auth"
	"github.com/Ourajeenn/MoonOps-V2/internal/service/deploy"
	"github.com/Ourajeenn/MoonOps-V2/internal/service/project"
	"github.com/Ourajeenn/MoonOps-V2/internal/service/provision"
	"github.com/Ourajeenn/MoonOps-V2/internal/service/stats"
	"github.com/Ourajeenn/MoonOps-V2/pkg/config"
	"github.com/Ourajeenn/MoonOps-V2/pkg/crypto"
	jwtpkg "github.com/Ourajeenn/MoonOps-V2/pkg/jwt"
)

// storeStub implements every repository interface backed by in-memory maps.
type storeStub struct {
	tenants     map[string]*domain.Tenant
	users       map[string]*domain.User
	projects    map[string]*domain.Project
	deleted     []string
	deployments []domain.Deployment
	pipelines   []domain.Pipeline
	alerts      []domain.Alert
	stats       domain.DashboardStats
}

func newStoreStub() *storeStub {
	return &storeStub{
		tenants:  map[string]*domain.Tenant{"ten-1": {ID: "ten-1", Name: "ACME"}},
		users:    map[string]*domain.User{},
		projects: map[string]*domain.Project{},
	}
}

func (s *storeStub) GetTenantByID(ctx context.Context, id string) (*domain.Tenant, error) {
	if tenant, ok := s.tenants[id]; ok {
		return tenant, nil
	}
	return nil, repository.ErrNotFound
}

func (s *storeStub) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *storeStub) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if user, ok := s.users[id]; ok {
		return user, nil
	}
	return nil, repository.ErrNotFound
}

func (s *storeStub) CreateProject(ctx context.Context, p *domain.Project) error {
	p.ID = "proj-new"
	p.CreatedAt = time.Now().UTC()
	s.projects[p.ID] = p
	return nil
}

func (s *storeStub) GetProject(ctx context.Context, tenantID, projectID string) (*domain.Project, error) {
	p, ok := s.projects[projectID]
	if !ok || p.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (s *storeStub) ListProjectsByTenant(ctx context.Context, tenantID string) ([]domain.Project, error) {
	out := []domain.Project{}
	for _, p := range s.projects {
		if p.TenantID == tenantID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *storeStub) DeleteProject(ctx context.Context, tenantID, projectID string) error {
	p, ok := s.projects[projectID]
	if !ok || p.TenantID != tenantID {
		return repository.ErrNotFound
	}
	delete(s.projects, projectID)
	s.deleted = append(s.deleted, projectID)
	return nil
}

func (s *storeStub) MarkProjectDeployed(ctx context.Context, tenantID, projectID string) error {
	return nil
}

func (s *storeStub) FindEnvironment(ctx context.Context, projectID, name string) (*domain.Environment, error) {
	return nil, repository.ErrNotFound
}

func (s *storeStub) CreateEnvironment(ctx context.Context, env *domain.Environment) error {
	return nil
}

func (s *storeStub) CreatePipeline(ctx context.Context, p *domain.Pipeline) error {
	s.pipelines = append(s.pipelines, *p)
	return nil
}

func (s *storeStub) ListPipelinesByTenant(ctx context.Context, tenantID string, limit int) ([]domain.Pipeline, error) {
	return s.pipelines, nil
}

func (s *storeStub) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	s.deployments = append(s.deployments, *d)
	return nil
}

func (s *storeStub) ListDeploymentsByTenant(ctx context.Context, tenantID string, limit int) ([]domain.Deployment, error) {
	return s.deployments, nil
}

func (s *storeStub) ListActiveAlertsByTenant(ctx context.Context, tenantID string, limit int) ([]domain.Alert, error) {
	return s.alerts, nil
}

func (s *storeStub) GetDashboardStats(ctx context.Context, tenantID string) (domain.DashboardStats, error) {
	return s.stats, nil
}

type hostStub struct {
	repo      scm.Repository
	ensureErr error
}

func (h *hostStub) EnsureNamespace(ctx context.Context, tenant string) (int64, error) {
	if h.ensureErr != nil {
		return 0, h.ensureErr
	}
	return 42, nil
}

func (h *hostStub) CreateRepository(ctx context.Context, name, description string, namespaceID int64) (scm.Repository, error) {
	return h.repo, nil
}

type extractorStub struct{ dir string }

func (e *extractorStub) Extract(data []byte, nameHint string) (string, error) { return e.dir, nil }

type publisherStub struct{ calls int }

func (p *publisherStub) Publish(ctx context.Context, workTree, remoteURL, name string) error {
	p.calls++
	return nil
}

type workspacesStub struct{}

func (workspacesStub) Cleanup(path string) error { return nil }

type testEnv struct {
	store     *storeStub
	host      *hostStub
	publisher *publisherStub
	router    *Router
	token     string
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.APIConfig{JWTSecret: "test-secret", AccessTokenTTL: time.Hour}

	store := newStoreStub()
	hash, err := crypto.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	store.users["user-1"] = &domain.User{
		ID:           "user-1",
		TenantID:     "ten-1",
		Email:        "dev@acme.example",
		PasswordHash: hash,
		IsActive:     true,
	}

	host := &hostStub{repo: scm.Repository{
		ID:                101,
		Name:              "demo-1700000000",
		PathWithNamespace: "client-acme/demo-1700000000",
		HTTPURLToRepo:     "https://gitlab.example.com/client-acme/demo-1700000000.git",
		WebURL:            "https://gitlab.example.com/client-acme/demo-1700000000",
	}}
	publisher := &publisherStub{}

	authSvc := auth.New(store, logger, cfg)
	projectSvc := project.New(store, logger)
	provisionSvc := provision.New(store, store, host, &extractorStub{dir: t.TempDir()}, publisher, workspacesStub{}, logger)
	deploySvc := deploy.New(store, store, store, store, logger)
	statsSvc := stats.New(store, store, logger)

	router := NewRouter(logger, authSvc, projectSvc, provisionSvc, deploySvc, statsSvc, nil, 1<<20, nil)
	t.Cleanup(router.Close)

	token, err := jwtpkg.GenerateToken("user-1", "ten-1", "admin", cfg.JWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return &testEnv{store: store, host: host, publisher: publisher, router: router, token: token}
}

func doJSON(t *testing.T, env *testEnv, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, payload)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestLoginReturnsSession(t *testing.T) {
	env := setupRouter(t)
	rec := doJSON(t, env, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "dev@acme.example",
		"password": "hunter2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		AccessToken string `json:"access_token"`
		User        struct {
			TenantID string `json:"tenant_id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.AccessToken == "" {
		t.Error("access_token missing")
	}
	if payload.User.TenantID != "ten-1" {
		t.Errorf("tenant_id = %q, want ten-1", payload.User.TenantID)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := setupRouter(t)
	rec := doJSON(t, env, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "dev@acme.example",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestProjectsRequireAuth(t *testing.T) {
	env := setupRouter(t)
	rec := doJSON(t, env, http.MethodGet, "/projects", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateProjectProvisionsRepository(t *testing.T) {
	env := setupRouter(t)
	rec := doJSON(t, env, http.MethodPost, "/projects", env.token, map[string]string{
		"name":          "demo",
		"description":   "a demo",
		"template_type": "react",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Success bool `json:"success"`
		Project struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"project"`
		Repository struct {
			WebURL string `json:"web_url"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Success || payload.Project.Status != "PENDING" {
		t.Errorf("payload = %+v, want success with PENDING project", payload)
	}
	if payload.Repository.WebURL != env.host.repo.WebURL {
		t.Errorf("repository web_url = %q", payload.Repository.WebURL)
	}
	if env.publisher.calls != 0 {
		t.Errorf("publisher called for JSON create without archive")
	}
}

func TestCreateProjectHostFailureMapsToBadGateway(t *testing.T) {
	env := setupRouter(t)
	env.host.ensureErr = &scm.Error{Kind: scm.KindAuthorization, StatusCode: 403}
	rec := doJSON(t, env, http.MethodPost, "/projects", env.token, map[string]string{"name": "demo"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502; body %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Kind != string(provision.KindHostAuthorization) {
		t.Errorf("kind = %q, want host_authorization", payload.Kind)
	}
}

func TestCreateProjectEmptyNameRejected(t *testing.T) {
	env := setupRouter(t)
	rec := doJSON(t, env, http.MethodPost, "/projects", env.token, map[string]string{"name": " "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUploadPublishesArchive(t *testing.T) {
	env := setupRouter(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "demo.zip")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("fake zip payload"))
	mw.WriteField("name", "demo")
	mw.WriteField("template_type", "react")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/projects/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+env.token)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if env.publisher.calls != 1 {
		t.Errorf("publisher calls = %d, want 1", env.publisher.calls)
	}
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	env := setupRouter(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "big.zip")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(bytes.Repeat([]byte("x"), 2<<20))
	mw.WriteField("name", "big")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/projects/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+env.token)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413; body %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteProjectTenantScoped(t *testing.T) {
	env := setupRouter(t)
	env.store.projects["proj-1"] = &domain.Project{ID: "proj-1", TenantID: "ten-1", Name: "demo"}
	env.store.projects["proj-2"] = &domain.Project{ID: "proj-2", TenantID: "ten-other", Name: "foreign"}

	rec := doJSON(t, env, http.MethodDelete, "/projects/proj-1", env.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, env, http.MethodDelete, "/projects/proj-2", env.token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign delete status = %d, want 404", rec.Code)
	}
}

func TestDeployEndpoint(t *testing.T) {
	env := setupRouter(t)
	env.store.projects["proj-1"] = &domain.Project{ID: "proj-1", TenantID: "ten-1", Name: "demo"}

	rec := doJSON(t, env, http.MethodPost, "/deploy", env.token, map[string]string{
		"project_id":  "proj-1",
		"environment": "STAGING",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Success     bool   `json:"success"`
		Status      string `json:"status"`
		Environment string `json:"environment"`
		Version     string `json:"version"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Success || payload.Status != "SUCCESS" {
		t.Errorf("payload = %+v", payload)
	}
	if payload.Environment != domain.EnvironmentStaging {
		t.Errorf("environment = %q, want STAGING", payload.Environment)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := setupRouter(t)
	env.store.stats = domain.DashboardStats{TotalProjects: 3, ActiveProjects: 2}

	rec := doJSON(t, env, http.MethodGet, "/stats", env.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["total_projects"] != 3 || payload["active_projects"] != 2 {
		t.Errorf("payload = %v", payload)
	}
}

func TestHealthzDegradedDatabase(t *testing.T) {
	env := setupRouter(t)
	env.router.dbHealth = func(ctx context.Context) error { return errors.New("connection refused") }

	rec := doJSON(t, env, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	env := setupRouter(t)
	body := map[string]string{"email": "dev@acme.example", "password": "wrong"}
	var last int
	for i := 0; i < rateLimitLogin+1; i++ {
		rec := doJSON(t, env, http.MethodPost, "/auth/login", "", body)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("final status = %d, want 429", last)
	}
}
