// Package airstory is a client for the Airstory REST API, the source of imported documents.
package airstory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/hyperjump/storyhook/internal/models"
)

const (
	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://api.airstory.co/v1"

	// DefaultTimeout bounds each request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxContentBytes caps rendered document content.
	DefaultMaxContentBytes = 20 << 20
)

var (
	// ErrMissingToken is returned before any request is made when no token is available.
	ErrMissingToken = errors.New("an Airstory token is required to make this request")
	// ErrInvalidJSON is returned when a response body is not the expected JSON.
	ErrInvalidJSON = errors.New("the request did not return valid JSON")
	// ErrMissingLink is returned when a target registration response has no Link header.
	ErrMissingLink = errors.New("invalid response from Airstory when connecting account")
)

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Temporary reports whether retrying the request later may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Project is a project as returned by the API.
type Project struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// User is the authenticated user's profile.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// Target is a webhook destination registered against a user.
type Target struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name,omitempty"`
	URL        string `json:"url,omitempty"`
	Type       string `json:"type,omitempty"`
}

type documentResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
}

// Client holds the settings shared by every session: base URL, transport, timeout and
// an outbound rate limit.
type Client struct {
	baseURL         string
	transport       http.RoundTripper
	timeout         time.Duration
	limiter         *rate.Limiter
	maxContentBytes int64
	userAgent       string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTransport sets the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit limits outbound requests. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMaxContentBytes caps the size of document content responses.
func WithMaxContentBytes(n int64) Option {
	return func(c *Client) { c.maxContentBytes = n }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient returns a client. Defaults: production base URL, 30s timeout, 5 req/s.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:         DefaultBaseURL,
		transport:       http.DefaultTransport,
		timeout:         DefaultTimeout,
		limiter:         rate.NewLimiter(rate.Limit(5), 10),
		maxContentBytes: DefaultMaxContentBytes,
		userAgent:       "storyhook",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session is a client bound to one user's token. It is cheap; create one per request.
type Session struct {
	c     *Client
	token string
	http  *http.Client
}

// Session returns a session authenticated with token.
func (c *Client) Session(token string) *Session {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return &Session{
		c:     c,
		token: token,
		http: &http.Client{
			Transport: &oauth2.Transport{Source: ts, Base: c.transport},
			Timeout:   c.timeout,
		},
	}
}

// GetProject returns a project.
func (s *Session) GetProject(ctx context.Context, projectID string) (*Project, error) {
	var p Project
	if err := s.getJSON(ctx, "/projects/"+url.PathEscape(projectID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetDocument returns document metadata. RenderedHTML is left empty.
func (s *Session) GetDocument(ctx context.Context, projectID, documentID string) (*models.Document, error) {
	var d documentResponse
	if err := s.getJSON(ctx, documentPath(projectID, documentID), &d); err != nil {
		return nil, err
	}
	return &models.Document{ProjectID: projectID, DocumentID: documentID, Title: d.Title}, nil
}

// GetDocumentContent returns the rendered HTML of a document, shell included.
func (s *Session) GetDocumentContent(ctx context.Context, projectID, documentID string) (string, error) {
	resp, err := s.do(ctx, http.MethodGet, documentPath(projectID, documentID)+"/content", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.MethodGet, documentPath(projectID, documentID)+"/content"); err != nil {
		return "", err
	}
	body, err := readLimited(resp.Body, s.c.maxContentBytes)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// GetUser returns the profile of the token's owner.
func (s *Session) GetUser(ctx context.Context) (*User, error) {
	var u User
	if err := s.getJSON(ctx, "/user", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// PostTarget registers a webhook target and returns the new target id taken from the
// Link response header.
func (s *Session) PostTarget(ctx context.Context, email string, target Target) (string, error) {
	p := "/users/" + url.PathEscape(email) + "/targets"
	resp, err := s.doJSON(ctx, http.MethodPost, p, target)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.MethodPost, p); err != nil {
		return "", err
	}
	id := targetIDFromLink(resp.Header.Get("Link"))
	if id == "" {
		return "", ErrMissingLink
	}
	return id, nil
}

// PutTarget updates an existing target. Any status other than 200 is an error.
func (s *Session) PutTarget(ctx context.Context, email, targetID string, target Target) error {
	p := "/users/" + url.PathEscape(email) + "/targets/" + url.PathEscape(targetID)
	resp, err := s.doJSON(ctx, http.MethodPut, p, target)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp, http.MethodPut, p)
	}
	return nil
}

// DeleteTarget removes a target.
func (s *Session) DeleteTarget(ctx context.Context, email, targetID string) error {
	p := "/users/" + url.PathEscape(email) + "/targets/" + url.PathEscape(targetID)
	resp, err := s.do(ctx, http.MethodDelete, p, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.MethodDelete, p)
}

func documentPath(projectID, documentID string) string {
	return "/projects/" + url.PathEscape(projectID) + "/documents/" + url.PathEscape(documentID)
}

func (s *Session) getJSON(ctx context.Context, path string, out any) error {
	resp, err := s.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.MethodGet, path); err != nil {
		return err
	}
	body, err := readLimited(resp.Body, s.c.maxContentBytes)
	if err != nil {
		return err
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("GET %s: %w", path, ErrInvalidJSON)
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("GET %s: %w: %v", path, ErrInvalidJSON, err)
	}
	return nil
}

func (s *Session) doJSON(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return s.do(ctx, method, path, data)
}

func (s *Session) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if s.token == "" {
		return nil, ErrMissingToken
	}
	if s.c.limiter != nil {
		if err := s.c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if s.c.userAgent != "" {
		req.Header.Set("User-Agent", s.c.userAgent)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response, method, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return statusError(resp, method, path)
}

func statusError(resp *http.Response, method, path string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(snippet)),
	}
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > max {
		return nil, fmt.Errorf("response too large (exceeds %d bytes)", max)
	}
	return body, nil
}

// targetIDFromLink extracts the target id from a Link header. The header may be a bare
// id, a URL, or an RFC 8288 "<url>; rel=..." value; the last path segment is the id.
func targetIDFromLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	if strings.HasPrefix(link, "<") {
		if end := strings.Index(link, ">"); end > 0 {
			link = link[1:end]
		}
	}
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		link = u.Path
	}
	link = strings.TrimRight(link, "/")
	if i := strings.LastIndex(link, "/"); i >= 0 {
		link = link[i+1:]
	}
	return link
}
