package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ourajeenn/MoonOps-V2/internal/domain"
	"github.com/Ourajeenn/MoonOps-V2/internal/service/auth"
	"github.com/Ourajeenn/MoonOps-V2/internal/service/deploy"
	"github.com/Ourajeenn/MoonOps-V2/internal/service/project"
	"github.com/Ourajeenn/MoonOps-V2/internal/service/provision"
	"github.com/Ourajeenn/MoonOps-V2/internal/service/stats"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	auth        auth.Service
	projects    project.Service
	provisioner provision.Service
	deployer    deploy.Service
	stats       stats.Service
	limiter     RateLimiter
	uploadMax   int64
	dbHealth    func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	provisionTotal     *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateLimitLogin     = 12
	rateLimitRead      = 120
	rateLimitWrite     = 60
	rateLimitUpload    = 10
	defaultListLimit   = 10
	maxListLimit       = 100
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, projectSvc project.Service, provisionSvc provision.Service, deploySvc deploy.Service, statsSvc stats.Service, limiter RateLimiter, uploadMax int64, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		auth:        authSvc,
		projects:    projectSvc,
		provisioner: provisionSvc,
		deployer:    deploySvc,
		stats:       statsSvc,
		limiter:     limiter,
		uploadMax:   uploadMax,
		dbHealth:    dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/login", r.audit(r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/projects", r.audit(r.handlerAuthRate("/projects", rateLimitWrite, rateWindowDefault, r.handleProjects)))
	r.mux.HandleFunc("/projects/upload", r.audit(r.handlerAuthRate("/projects/upload", rateLimitUpload, rateWindowDefault, r.handleProjectUpload)))
	r.mux.HandleFunc("/projects/", r.audit(r.handlerAuthRate("/projects/", rateLimitWrite, rateWindowDefault, r.handleProjectSubroutes)))
	r.mux.HandleFunc("/deploy", r.audit(r.handlerAuthRate("/deploy", rateLimitWrite, rateWindowDefault, r.handleDeploy)))
	r.mux.HandleFunc("/deployments", r.audit(r.handlerAuthRate("/deployments", rateLimitRead, rateWindowDefault, r.handleDeployments)))
	r.mux.HandleFunc("/pipelines", r.audit(r.handlerAuthRate("/pipelines", rateLimitRead, rateWindowDefault, r.handlePipelines)))
	r.mux.HandleFunc("/alerts", r.audit(r.handlerAuthRate("/alerts", rateLimitRead, rateWindowDefault, r.handleAlerts)))
	r.mux.HandleFunc("/stats", r.audit(r.handlerAuthRate("/stats", rateLimitRead, rateWindowDefault, r.handleStats)))
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, session, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":        user.ID,
			"email":     user.Email,
			"full_name": user.FullName,
			"role":      user.Role,
			"tenant_id": user.TenantID,
		},
		"access_token": session.AccessToken,
		"expires_in":   int(session.ExpiresIn.Seconds()),
	})
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.handleProjectList(w, req)
	case http.MethodPost:
		r.handleProjectCreate(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectList(w http.ResponseWriter, req *http.Request) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	projects, err := r.projects.List(req.Context(), info.TenantID)
	if err != nil {
		writeRepositoryError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(projects))
	for i := range projects {
		payload = append(payload, projectJSON(&projects[i]))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleProjectCreate(w http.ResponseWriter, req *http.Request) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	var payload struct {
		Name         string `json:"name"`
		Description  string `json:"description"`
		TemplateType string `json:"template_type"`
		GitURL       string `json:"git_url"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := r.provisioner.Provision(req.Context(), provision.Input{
		TenantID:     info.TenantID,
		Name:         payload.Name,
		Description:  payload.Description,
		TemplateType: payload.TemplateType,
		Source:       provision.ContentSource{ExternalURL: payload.GitURL},
	})
	if err != nil {
		r.recordProvisionOutcome("error")
		writeProvisionError(w, err)
		return
	}
	r.recordProvisionOutcome("success")
	writeJSON(w, http.StatusCreated, provisionJSON(result))
}

func (r *Router) handleProjectUpload(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	req.Body = http.MaxBytesReader(w, req.Body, r.uploadMax)
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "archive exceeds upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, _, err := req.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "archive file is required")
		return
	}
	defer file.Close()
	archive, err := io.ReadAll(file)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "archive exceeds upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read archive")
		return
	}

	result, err := r.provisioner.Provision(req.Context(), provision.Input{
		TenantID:     info.TenantID,
		Name:         req.FormValue("name"),
		Description:  req.FormValue("description"),
		TemplateType: req.FormValue("template_type"),
		Source: provision.ContentSource{
			Archive:     archive,
			ExternalURL: req.FormValue("git_url"),
		},
	})
	if err != nil {
		r.recordProvisionOutcome("error")
		writeProvisionError(w, err)
		return
	}
	r.recordProvisionOutcome("success")
	writeJSON(w, http.StatusCreated, provisionJSON(result))
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	projectID := strings.TrimPrefix(req.URL.Path, "/projects/")
	if projectID == "" || strings.Contains(projectID, "/") {
		r.notFound(w)
		return
	}
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	switch req.Method {
	case http.MethodGet:
		proj, err := r.projects.Get(req.Context(), info.TenantID, projectID)
		if err != nil {
			writeRepositoryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, projectJSON(proj))
	case http.MethodDelete:
		if err := r.projects.Delete(req.Context(), info.TenantID, projectID); err != nil {
			writeRepositoryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": projectID})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	var payload struct {
		ProjectID   string `json:"project_id"`
		Environment string `json:"environment"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := r.deployer.Deploy(req.Context(), deploy.Input{
		TenantID:    info.TenantID,
		ProjectID:   payload.ProjectID,
		Environment: payload.Environment,
	})
	if err != nil {
		writeRepositoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"status":      result.Deployment.Status,
		"pipeline_id": result.Pipeline.ID,
		"environment": result.Environment,
		"version":     result.Deployment.Version,
	})
}

func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	deployments, err := r.deployer.ListDeployments(req.Context(), info.TenantID, listLimit(req))
	if err != nil {
		writeRepositoryError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(deployments))
	for _, d := range deployments {
		payload = append(payload, map[string]any{
			"id":           d.ID,
			"project_id":   d.ProjectID,
			"project_name": d.ProjectName,
			"environment":  d.Environment,
			"version":      d.Version,
			"status":       d.Status,
			"deployed_at":  d.DeployedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handlePipelines(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	pipelines, err := r.deployer.ListPipelines(req.Context(), info.TenantID, listLimit(req))
	if err != nil {
		writeRepositoryError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(pipelines))
	for _, p := range pipelines {
		entry := map[string]any{
			"id":           p.ID,
			"project_id":   p.ProjectID,
			"project_name": p.ProjectName,
			"branch":       p.Branch,
			"status":       p.Status,
			"started_at":   p.StartedAt.UTC().Format(time.RFC3339),
		}
		if p.FinishedAt != nil {
			entry["finished_at"] = p.FinishedAt.UTC().Format(time.RFC3339)
		}
		payload = append(payload, entry)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleAlerts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	alerts, err := r.stats.ActiveAlerts(req.Context(), info.TenantID, listLimit(req))
	if err != nil {
		writeRepositoryError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(alerts))
	for _, a := range alerts {
		payload = append(payload, map[string]any{
			"id":           a.ID,
			"project_id":   a.ProjectID,
			"project_name": a.ProjectName,
			"severity":     a.Severity,
			"message":      a.Message,
			"status":       a.Status,
			"created_at":   a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	dashboard, err := r.stats.Dashboard(req.Context(), info.TenantID)
	if err != nil {
		writeRepositoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// mustAuthInfo fetches the tenant identity placed by requireAuth. A missing
// identity on an authenticated route is a wiring bug, not a client error.
func (r *Router) mustAuthInfo(w http.ResponseWriter, req *http.Request) (authInfo, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return authInfo{}, false
	}
	return info, true
}

func projectJSON(p *domain.Project) map[string]any {
	entry := map[string]any{
		"id":             p.ID,
		"name":           p.Name,
		"description":    p.Description,
		"template_type":  p.TemplateType,
		"status":         p.Status,
		"repository_url": p.RepositoryURL,
		"created_at":     p.CreatedAt.UTC().Format(time.RFC3339),
	}
	if p.LastDeployedAt != nil {
		entry["last_deployed_at"] = p.LastDeployedAt.UTC().Format(time.RFC3339)
	}
	return entry
}

func provisionJSON(result *provision.Result) map[string]any {
	return map[string]any{
		"success": true,
		"project": projectJSON(result.Project),
		"repository": map[string]any{
			"id":                  result.Repository.ID,
			"name":                result.Repository.Name,
			"path_with_namespace": result.Repository.PathWithNamespace,
			"web_url":             result.Repository.WebURL,
		},
	}
}

func listLimit(req *http.Request) int {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID, "tenant_id", info.TenantID)
		}
		fields = append(fields, "actor", actor)
		r.recordRequestMetrics(req.Method, routeLabel(req.URL.Path), status, duration)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// routeLabel collapses id-bearing paths so metric cardinality stays bounded.
func routeLabel(path string) string {
	if strings.HasPrefix(path, "/projects/") && path != "/projects/upload" {
		return "/projects/{id}"
	}
	return path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
