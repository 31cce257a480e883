package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"cfsutil/pkg/logging"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

const subsystem = "Gateway"

// APIError indicates a failed request to a service behind the API gateway.
// It carries the operation context needed to diagnose the failure without a
// debugger: method, URL, and any status or problem details the service
// returned.
type APIError struct {
	// Method is the HTTP method of the failed request.
	Method string
	// URL is the full URL of the failed request.
	URL string
	// StatusCode is the HTTP status code, or zero for transport failures.
	StatusCode int
	// Title and Detail are taken from a problem-details error body, if the
	// service returned one.
	Title  string
	Detail string
	// Err is the underlying transport or decoding error, if any.
	Err error
}

// Error returns a message in the same shape for transport, status, and
// decoding failures.
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		msg := fmt.Sprintf("%s request to URL %q failed with status code %d", e.Method, e.URL, e.StatusCode)
		if e.Title != "" {
			msg += ". " + e.Title
		}
		if e.Detail != "" {
			msg += " Detail: " + e.Detail
		}
		return msg
	}
	return fmt.Sprintf("%s request to URL %q failed: %v", e.Method, e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error {
	return e.Err
}

// problemDetails is the error body format used by services behind the gateway.
type problemDetails struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Client issues requests to services behind the API gateway. A Client is
// scoped to one service by its base resource path (e.g. "cfs/v2" or
// "smd/hsm/v2"); all requests go to https://<host>/apis/<base>/<resource...>.
type Client struct {
	host     string
	basePath string
	timeout  time.Duration
	client   *retryablehttp.Client
}

// NewClient creates a gateway client for the service at basePath. The
// httpClient carries the authenticated session transport; pass nil to use
// http.DefaultClient (useful for unauthenticated endpoints and tests).
func NewClient(host, basePath string, httpClient *http.Client, timeout time.Duration) *Client {
	retryClient := retryablehttp.NewClient()
	if httpClient != nil {
		retryClient.HTTPClient = httpClient
	}
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = retryLogger{}

	return &Client{
		host:     host,
		basePath: basePath,
		timeout:  timeout,
		client:   retryClient,
	}
}

// HTTPClient exposes the underlying http.Client, primarily so tests can
// install mock transports.
func (c *Client) HTTPClient() *http.Client {
	return c.client.HTTPClient
}

// resourceURL builds the full gateway URL for the given resource path
// components and query parameters.
func (c *Client) resourceURL(params url.Values, resource ...string) string {
	u := url.URL{
		Scheme: "https",
		Host:   c.host,
		Path:   path.Join(append([]string{"apis", c.basePath}, resource...)...),
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method string, params url.Values, body interface{}, resource ...string) ([]byte, error) {
	reqURL := c.resourceURL(params, resource...)

	var rawBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, &APIError{Method: method, URL: reqURL, Err: err}
		}
		rawBody = bytes.NewReader(encoded)
	}

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := retryablehttp.NewRequestWithContext(reqCtx, method, reqURL, rawBody)
	if err != nil {
		return nil, &APIError{Method: method, URL: reqURL, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	logging.Debug(subsystem, "Issuing %s request to URL %q (request ID %s)", method, reqURL, requestID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &APIError{Method: method, URL: reqURL, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Method: method, URL: reqURL, StatusCode: resp.StatusCode, Err: err}
	}

	logging.Debug(subsystem, "Received response to %s request to URL %q with status code %d (request ID %s)",
		method, reqURL, resp.StatusCode, requestID)

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Method: method, URL: reqURL, StatusCode: resp.StatusCode}
		var problem problemDetails
		if err := json.Unmarshal(respBody, &problem); err == nil {
			apiErr.Title = problem.Title
			apiErr.Detail = problem.Detail
		}
		return nil, apiErr
	}

	return respBody, nil
}

// GetJSON issues a GET request and decodes the JSON response into out.
// A malformed response body is reported the same way as a transport failure.
func (c *Client) GetJSON(ctx context.Context, out interface{}, params url.Values, resource ...string) error {
	body, err := c.do(ctx, http.MethodGet, params, nil, resource...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{Method: http.MethodGet, URL: c.resourceURL(params, resource...), Err: fmt.Errorf("invalid JSON in response: %w", err)}
	}
	return nil
}

// Put issues a PUT request with the given JSON body and decodes any JSON
// response into out when out is non-nil.
func (c *Client) Put(ctx context.Context, out, body interface{}, resource ...string) error {
	respBody, err := c.do(ctx, http.MethodPut, nil, body, resource...)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &APIError{Method: http.MethodPut, URL: c.resourceURL(nil, resource...), Err: fmt.Errorf("invalid JSON in response: %w", err)}
		}
	}
	return nil
}

// Patch issues a PATCH request with the given JSON body.
func (c *Client) Patch(ctx context.Context, body interface{}, resource ...string) error {
	_, err := c.do(ctx, http.MethodPatch, nil, body, resource...)
	return err
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, resource ...string) error {
	_, err := c.do(ctx, http.MethodDelete, nil, nil, resource...)
	return err
}

// retryLogger bridges retryablehttp's leveled logger onto the logging package.
type retryLogger struct{}

func (retryLogger) Error(msg string, keysAndValues ...interface{}) {
	logging.Error(subsystem, nil, "%s %v", msg, keysAndValues)
}

func (retryLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Debug(subsystem, "%s %v", msg, keysAndValues)
}

func (retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	logging.Debug(subsystem, "%s %v", msg, keysAndValues)
}

func (retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	logging.Warn(subsystem, "%s %v", msg, keysAndValues)
}
