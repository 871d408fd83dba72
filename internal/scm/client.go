package scm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrorKind classifies repository host failures for callers.
type ErrorKind string

const (
	// KindAuthorization covers rejected or expired host credentials.
	KindAuthorization ErrorKind = "authorization"
	// KindNameConflict covers repository or group names already taken.
	KindNameConflict ErrorKind = "name_conflict"
	// KindTransport covers network level failures reaching the host.
	KindTransport ErrorKind = "transport"
	// KindAPI covers every other non-2xx host response.
	KindAPI ErrorKind = "api"
)

// Error is a classified repository host failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("repo host %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("repo host %s: status %d: %s", e.Kind, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error { return e.Err }

// Group is a host namespace holding one tenant's repositories.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Repository is a created project repository on the host.
type Repository struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	HTTPURLToRepo     string `json:"http_url_to_repo"`
	WebURL            string `json:"web_url"`
}

// Client talks to a GitLab compatible repository host.
type Client struct {
	baseURL string
	token   string
	read    *http.Client
	write   *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// New returns a Client for the host at baseURL authenticating with token.
// Reads and writes carry separate timeouts since repository creation is
// noticeably slower than lookups.
func New(baseURL, token string, readTimeout, writeTimeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		read:    &http.Client{Timeout: readTimeout},
		write:   &http.Client{Timeout: writeTimeout},
		logger:  logger,
		now:     time.Now,
	}
}

// EnsureNamespace returns the id of the tenant's group, creating the group
// when the host does not have it yet. The group path is derived from the
// tenant name as client-<slug>.
func (c *Client) EnsureNamespace(ctx context.Context, tenant string) (int64, error) {
	slug := "client-" + slugify(tenant)

	groups := []Group{}
	err := c.do(ctx, c.read, http.MethodGet, "/api/v4/groups?search="+url.QueryEscape(slug), nil, &groups)
	if err != nil {
		return 0, err
	}
	for _, g := range groups {
		// Search is a substring match on the host side, only an exact
		// path hit counts as the tenant's group.
		if g.Path == slug {
			return g.ID, nil
		}
	}

	created := Group{}
	body := map[string]any{"name": slug, "path": slug, "visibility": "private"}
	if err := c.do(ctx, c.write, http.MethodPost, "/api/v4/groups", body, &created); err != nil {
		return 0, err
	}
	c.logger.Info("tenant group created", "path", slug, "group_id", created.ID)
	return created.ID, nil
}

// CreateRepository creates a private repository under the namespace. The
// repository name gets a unix timestamp suffix so retries for the same
// project name never collide on the host.
func (c *Client) CreateRepository(ctx context.Context, name, description string, namespaceID int64) (Repository, error) {
	repoName := fmt.Sprintf("%s-%d", slugify(name), c.now().Unix())

	created := Repository{}
	body := map[string]any{
		"name":                   repoName,
		"description":            description,
		"namespace_id":           namespaceID,
		"visibility":             "private",
		"initialize_with_readme": true,
	}
	if err := c.do(ctx, c.write, http.MethodPost, "/api/v4/projects", body, &created); err != nil {
		return Repository{}, err
	}
	c.logger.Info("repository created", "repository", created.PathWithNamespace, "repository_id", created.ID)
	return created, nil
}

func (c *Client) do(ctx context.Context, client *http.Client, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindAPI, Err: err}
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return &Error{Kind: KindAPI, Err: err}
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindTransport, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Kind: KindAPI, StatusCode: resp.StatusCode, Body: string(raw), Err: err}
		}
	}
	return nil
}

func classify(status int, body []byte) *Error {
	e := &Error{Kind: KindAPI, StatusCode: status, Body: string(body)}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuthorization
	case status == http.StatusBadRequest && strings.Contains(e.Body, "has already been taken"):
		e.Kind = KindNameConflict
	case status == http.StatusConflict:
		e.Kind = KindNameConflict
	}
	return e
}

func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
