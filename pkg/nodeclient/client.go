// Package nodeclient talks to remote storage nodes over HTTP.
package nodeclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"nodebroker/pkg/log"
	"nodebroker/pkg/models"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultRetryMax       = 3
	defaultRetryWaitMin   = 100 * time.Millisecond
	defaultRetryWaitMax   = 2 * time.Second
	defaultRequestTimeout = 30 * time.Second

	healthPath        = "/health"
	uploadPath        = "/storage/upload"
	downloadPath      = "/storage/download/"
	deletePath        = "/storage/delete/"
	resourceUsagePath = "/status/resource-usage"
	authAttemptsPath  = "/status/auth-attempts"

	maxStatusBodySize = 1 << 20
)

// Config controls retries, timeouts and TLS trust for node requests.
type Config struct {
	RetryMax       int
	RetryWaitMin   time.Duration
	RetryWaitMax   time.Duration
	RequestTimeout time.Duration
	// CAFile adds a PEM bundle to the trusted roots. Certificates are always verified.
	CAFile string
}

// Client is the remote node transfer client. Transfers retry on connection
// errors only; health checks are never retried because the caller counts
// attempts itself.
type Client struct {
	client         *retryablehttp.Client
	requestTimeout time.Duration
}

// New creates a node client.
func New(cfg Config) (*Client, error) {
	if cfg.RetryMax < 0 {
		cfg.RetryMax = defaultRetryMax
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = defaultRetryWaitMin
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = defaultRetryWaitMax
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	client := CreateRetryableClient(cfg.RetryMax, cfg.RetryWaitMin, cfg.RetryWaitMax)

	if cfg.CAFile != "" {
		if err := trustCAFile(client.HTTPClient, cfg.CAFile); err != nil {
			return nil, err
		}
	}

	return &Client{
		client:         client,
		requestTimeout: cfg.RequestTimeout,
	}, nil
}

// CreateRetryableClient creates a retryable HTTP client for node requests.
func CreateRetryableClient(retryMax int, retryWaitMin, retryWaitMax time.Duration) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = retryWaitMin
	client.RetryWaitMax = retryWaitMax
	client.Logger = nil
	client.CheckRetry = retryOnTransportError
	// Return the last response instead of a generic "giving up" error.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

// retryOnTransportError only retries when no response was received, so node
// status codes are surfaced to the caller unchanged.
func retryOnTransportError(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp != nil {
		return false, nil
	}
	return IsTransportError(err), nil
}

func trustCAFile(httpClient *http.Client, caFile string) error {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return fmt.Errorf("read CA file: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return fmt.Errorf("no certificates found in %s", caFile)
	}

	transport, ok := httpClient.Transport.(*http.Transport)
	if !ok {
		return fmt.Errorf("unexpected transport type %T", httpClient.Transport)
	}
	transport.TLSClientConfig = &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}
	return nil
}

// HealthCheck calls GET {endpoint}/health once and measures the round trip.
// A non-nil error means no response was received; a response with a
// non-2xx status returns false with a nil error.
func (c *Client) HealthCheck(ctx context.Context, endpoint, token string) (bool, time.Duration, error) {
	if endpoint == "" || token == "" {
		return false, 0, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(endpoint, healthPath), nil)
	if err != nil {
		return false, 0, err
	}
	setBearer(req.Header, token)

	start := time.Now()
	resp, err := c.client.HTTPClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return false, latency, err
	}
	closeBody(resp, endpoint)

	return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices, latency, nil
}

// Put uploads data to the node under objectID.
func (c *Client) Put(ctx context.Context, endpoint, token, objectID string, data []byte) error {
	if endpoint == "" || token == "" {
		return ErrNotConfigured
	}

	body, contentType, err := multipartBody(objectID, data)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, joinURL(endpoint, uploadPath), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	setBearer(req.Header, token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp, endpoint)

	return statusToError(resp.StatusCode)
}

// Get downloads the object stored under objectID.
func (c *Client) Get(ctx context.Context, endpoint, token, objectID string) ([]byte, error) {
	if endpoint == "" || token == "" {
		return nil, ErrNotConfigured
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodGet,
		joinURL(endpoint, downloadPath+url.PathEscape(objectID)), nil)
	if err != nil {
		return nil, err
	}
	setBearer(req.Header, token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp, endpoint)

	if err := statusToError(resp.StatusCode); err != nil {
		return nil, err
	}

	return io.ReadAll(resp.Body)
}

// Delete removes the object stored under objectID. An object that is
// already gone counts as deleted.
func (c *Client) Delete(ctx context.Context, endpoint, token, objectID string) error {
	if endpoint == "" || token == "" {
		return ErrNotConfigured
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodDelete,
		joinURL(endpoint, deletePath+url.PathEscape(objectID)), nil)
	if err != nil {
		return err
	}
	setBearer(req.Header, token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp, endpoint)

	err = statusToError(resp.StatusCode)
	if errors.Is(err, ErrObjectNotFound) {
		log.Debug().Str("endpoint", endpoint).Str("object_id", objectID).Msg("Object already absent on node")
		return nil
	}
	return err
}

// ResourceUsage fetches CPU and memory usage from the node.
func (c *Client) ResourceUsage(ctx context.Context, endpoint, token string) (*models.ResourceUsage, error) {
	var usage models.ResourceUsage
	if err := c.getJSON(ctx, endpoint, token, resourceUsagePath, &usage); err != nil {
		return nil, err
	}
	return &usage, nil
}

// AuthAttempts fetches the node's failed authentication counter.
func (c *Client) AuthAttempts(ctx context.Context, endpoint, token string) (*models.AuthAttempts, error) {
	var attempts models.AuthAttempts
	if err := c.getJSON(ctx, endpoint, token, authAttemptsPath, &attempts); err != nil {
		return nil, err
	}
	return &attempts, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, token, path string, out any) error {
	if endpoint == "" || token == "" {
		return ErrNotConfigured
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodGet, joinURL(endpoint, path), nil)
	if err != nil {
		return err
	}
	setBearer(req.Header, token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp, endpoint)

	if err := statusToError(resp.StatusCode); err != nil {
		return err
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxStatusBodySize)).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

func multipartBody(objectID string, data []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", objectID)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("filename", objectID); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return body, writer.FormDataContentType(), nil
}

func joinURL(endpoint, path string) string {
	return strings.TrimRight(endpoint, "/") + path
}

func setBearer(header http.Header, token string) {
	header.Set("Authorization", "Bearer "+token)
}

func closeBody(resp *http.Response, endpoint string) {
	if closeErr := resp.Body.Close(); closeErr != nil {
		log.Warn().Err(closeErr).Str("endpoint", endpoint).Msg("Failed to close node response body")
	}
}
