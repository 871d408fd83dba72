package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	AccessTokenTTL     time.Duration
	GitLabURL          string
	GitLabToken        string
	GitLabReadTimeout  time.Duration
	GitLabWriteTimeout time.Duration
	GitStepTimeout     time.Duration
	GitPushTimeout     time.Duration
	CommitterName      string
	CommitterEmail     string
	WorkspaceRoot      string
	UploadMaxBytes     int64
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":5000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://moonops:moonops@db:5432/moonops_appdb?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:     time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 60)) * time.Minute,
		GitLabURL:          GetString("GITLAB_URL", "http://gitlab"),
		GitLabToken:        GetString("GITLAB_TOKEN", ""),
		GitLabReadTimeout:  time.Duration(GetInt("GITLAB_READ_TIMEOUT_SECONDS", 10)) * time.Second,
		GitLabWriteTimeout: time.Duration(GetInt("GITLAB_WRITE_TIMEOUT_SECONDS", 30)) * time.Second,
		GitStepTimeout:     time.Duration(GetInt("GIT_STEP_TIMEOUT_SECONDS", 60)) * time.Second,
		GitPushTimeout:     time.Duration(GetInt("GIT_PUSH_TIMEOUT_SECONDS", 120)) * time.Second,
		CommitterName:      GetString("GIT_COMMITTER_NAME", "MoonOps"),
		CommitterEmail:     GetString("GIT_COMMITTER_EMAIL", "moonops@techconsulting.fr"),
		WorkspaceRoot:      GetString("WORKSPACE_ROOT", "/tmp/moonops_projects"),
		UploadMaxBytes:     GetInt64("UPLOAD_MAX_BYTES", 100*1024*1024),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
