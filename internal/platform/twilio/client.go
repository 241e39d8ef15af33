// Package twilio is a minimal client for the parts of the Twilio REST API the dashboard
// calls, plus webhook signature validation.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.twilio.com"

// APIError is the error body Twilio returns with non-2xx responses.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	MoreInfo   string `json:"more_info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio: status %d, code %d: %s", e.HTTPStatus, e.Code, e.Message)
}

type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, accountSID, authToken string, httpClient *http.Client, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		httpClient: httpClient,
		logger:     logger.With("component", "twilio_client"),
	}
}

// accountURL returns the URL of an account-scoped resource, e.g. "Messages.json".
func (c *Client) accountURL(resource string) string {
	return fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s", c.baseURL, url.PathEscape(c.accountSID), resource)
}

// PostForm posts form to an account resource and decodes the JSON response into out.
func (c *Client) PostForm(ctx context.Context, resource string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.accountURL(resource), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("twilio: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

// Get fetches an account resource with the given query.
func (c *Client) Get(ctx context.Context, resource string, query url.Values, out any) error {
	u := c.accountURL(resource)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("twilio: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) Delete(ctx context.Context, resource string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.accountURL(resource), nil)
	if err != nil {
		return fmt.Errorf("twilio: build request: %w", err)
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twilio: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("twilio: read response (status %d): %w", resp.StatusCode, err)
	}
	c.logger.DebugContext(req.Context(), "Twilio response", "method", req.Method, "path", req.URL.Path, "status_code", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("twilio: decode response: %w", err)
	}
	return nil
}

// IsClientError reports whether err is a 4xx rejection by Twilio, as opposed to a
// transport failure or a 5xx.
func IsClientError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.HTTPStatus >= 400 && apiErr.HTTPStatus < 500
}
