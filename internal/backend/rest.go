package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultRequestTimeout = 30 * time.Second
	sessionSafetyMargin   = time.Minute
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type uploadResponse struct {
	AttachmentRef string `json:"attachmentRef"`
}

type createJobResponse struct {
	JobID string `json:"jobId"`
}

var _ Client = (*RESTClient)(nil)

// RESTClient talks to the fax submission API over HTTP. It owns a bearer
// session token and re-authenticates when the token is missing or about to
// expire.
type RESTClient struct {
	client   *resty.Client
	baseURL  string
	username string
	password string

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	now func() time.Time
}

func NewRESTClient(baseURL, username, password string) (*RESTClient, error) {
	client := resty.New()
	client.SetTimeout(defaultRequestTimeout)
	client.SetRetryCount(0)

	return NewRESTClientWithClient(baseURL, username, password, client)
}

func NewRESTClientWithClient(baseURL, username, password string, client *resty.Client) (*RESTClient, error) {
	trimmedURL := strings.TrimSpace(baseURL)
	if trimmedURL == "" {
		return nil, fmt.Errorf("backend base url is required")
	}
	if _, err := url.ParseRequestURI(trimmedURL); err != nil {
		return nil, fmt.Errorf("invalid backend base url: %w", err)
	}
	if strings.TrimSpace(username) == "" {
		return nil, fmt.Errorf("backend username is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultRequestTimeout)
	}
	client.SetRetryCount(0)

	return &RESTClient{
		client:   client,
		baseURL:  strings.TrimRight(trimmedURL, "/"),
		username: username,
		password: password,
		now:      time.Now,
	}, nil
}

func (c *RESTClient) EnsureSession(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("backend client is not initialized")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Add(sessionSafetyMargin).Before(c.expiresAt) {
		return nil
	}
	return c.loginLocked(ctx)
}

func (c *RESTClient) loginLocked(ctx context.Context) error {
	var result loginResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(loginRequest{Username: c.username, Password: c.password}).
		SetResult(&result).
		Post(c.baseURL + "/v1/sessions")
	if err != nil {
		return &BackendError{Message: "login request failed", Transient: true, Cause: err}
	}
	if resp.IsError() {
		return errorFromResponse(resp, "login rejected")
	}
	if strings.TrimSpace(result.Token) == "" {
		return &BackendError{StatusCode: resp.StatusCode(), Message: "login response missing token"}
	}

	c.token = result.Token
	c.expiresAt = result.ExpiresAt
	if c.expiresAt.IsZero() {
		c.expiresAt = c.now().Add(time.Hour)
	}
	return nil
}

func (c *RESTClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()

	if token == "" {
		return nil
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		Delete(c.baseURL + "/v1/sessions")
	if err != nil {
		return &BackendError{Message: "logout request failed", Transient: true, Cause: err}
	}
	if resp.IsError() && resp.StatusCode() != http.StatusUnauthorized {
		return errorFromResponse(resp, "logout rejected")
	}
	return nil
}

func (c *RESTClient) UploadAttachment(ctx context.Context, filePath string) (string, error) {
	if _, err := os.Stat(filePath); err != nil {
		return "", &BackendError{Message: fmt.Sprintf("attachment %q is not readable", filePath), Cause: err}
	}

	var result uploadResponse
	resp, err := c.authorizedRequest(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetFile("file", filePath).
			SetResult(&result).
			Post(c.baseURL + "/v1/attachments")
	})
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", errorFromResponse(resp, "attachment upload rejected")
	}
	if strings.TrimSpace(result.AttachmentRef) == "" {
		return "", &BackendError{StatusCode: resp.StatusCode(), Message: "upload response missing attachment ref"}
	}
	return result.AttachmentRef, nil
}

func (c *RESTClient) CreateJob(ctx context.Context, spec JobSpec) (string, error) {
	var result createJobResponse
	resp, err := c.authorizedRequest(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetHeader("Content-Type", "application/json").
			SetBody(spec).
			SetResult(&result).
			Post(c.baseURL + "/v1/jobs")
	})
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", errorFromResponse(resp, "job creation rejected")
	}
	if strings.TrimSpace(result.JobID) == "" {
		return "", &BackendError{StatusCode: resp.StatusCode(), Message: "job response missing job id"}
	}
	return result.JobID, nil
}

func (c *RESTClient) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var result JobStatus
	resp, err := c.authorizedRequest(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetResult(&result).
			Get(c.baseURL + "/v1/jobs/" + url.PathEscape(jobID))
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, errorFromResponse(resp, "job status lookup failed")
	}
	return &result, nil
}

func (c *RESTClient) GetDocumentsForJob(ctx context.Context, jobID string) ([]Document, error) {
	var result []Document
	resp, err := c.authorizedRequest(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetResult(&result).
			Get(c.baseURL + "/v1/jobs/" + url.PathEscape(jobID) + "/documents")
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, errorFromResponse(resp, "document lookup failed")
	}
	return result, nil
}

func (c *RESTClient) GetActivities(ctx context.Context, documentID string) ([]Activity, error) {
	var result []Activity
	resp, err := c.authorizedRequest(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetResult(&result).
			Get(c.baseURL + "/v1/documents/" + url.PathEscape(documentID) + "/activities")
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, errorFromResponse(resp, "activity lookup failed")
	}
	return result, nil
}

// authorizedRequest runs call with the current session token, re-logging in
// and retrying once on 401.
func (c *RESTClient) authorizedRequest(
	ctx context.Context,
	call func(req *resty.Request) (*resty.Response, error),
) (*resty.Response, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("backend client is not initialized")
	}

	if err := c.EnsureSession(ctx); err != nil {
		return nil, err
	}

	resp, err := call(c.client.R().SetContext(ctx).SetAuthToken(c.currentToken()))
	if err != nil {
		return nil, &BackendError{Message: "backend request failed", Transient: true, Cause: err}
	}
	if resp.StatusCode() != http.StatusUnauthorized {
		return resp, nil
	}

	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()

	if err := c.EnsureSession(ctx); err != nil {
		return nil, err
	}

	resp, err = call(c.client.R().SetContext(ctx).SetAuthToken(c.currentToken()))
	if err != nil {
		return nil, &BackendError{Message: "backend request failed after re-login", Transient: true, Cause: err}
	}
	return resp, nil
}

func (c *RESTClient) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func errorFromResponse(resp *resty.Response, message string) error {
	status := resp.StatusCode()
	return &BackendError{
		StatusCode: status,
		Message:    message,
		Transient:  status == http.StatusTooManyRequests || status >= http.StatusInternalServerError,
	}
}
