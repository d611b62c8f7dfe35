package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

const defaultRequestTimeout = 30 * time.Second
const maxErrorBodySize = 4096

// Client talks to the orchestrator. Every Client owns a cookie jar, so cookies the
// orchestrator sets (the inbound access cookie) are sent back on later calls, the way a
// browser sends credentials with every fetch.
type Client struct {
	baseUrl        string
	httpClient     *http.Client
	requestTimeout time.Duration
}

type ClientOption func(*Client)

func WithHttpClient(httpClient *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = httpClient
	}
}

func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(client *Client) {
		client.requestTimeout = timeout
	}
}

func New(baseUrl string, options ...ClientOption) (*Client, error) {
	if baseUrl == "" {
		return nil, errors.New("orchestrator base url is empty")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookiejar.New() failed: %w", err)
	}

	client := &Client{
		baseUrl: strings.TrimSuffix(baseUrl, "/"),
		// No client timeout: chat streams stay open as long as the server talks.
		httpClient:     &http.Client{Jar: jar},
		requestTimeout: defaultRequestTimeout,
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

func (instance *Client) BaseUrl() string {
	return instance.baseUrl
}

// StatusError is returned for every non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (statusError *StatusError) Error() string {
	if statusError.Body == "" {
		return fmt.Sprintf("%s %s: status %d", statusError.Method, statusError.Path, statusError.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", statusError.Method, statusError.Path, statusError.StatusCode, statusError.Body)
}

// ApiError is returned when a 2xx response reports success false.
type ApiError struct {
	Message string
}

func (apiError *ApiError) Error() string {
	return apiError.Message
}

// Envelope is embedded in every orchestrator response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (envelope Envelope) check(fallback string) error {
	if envelope.Success {
		return nil
	}
	if envelope.Message != "" {
		return &ApiError{Message: envelope.Message}
	}
	return &ApiError{Message: fallback}
}

func (instance *Client) newRequest(ctx context.Context, method string, path string, token string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		encoded, err := sonic.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("sonic.Marshal() failed: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, instance.baseUrl+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("http.NewRequestWithContext() failed: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Accept", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	return request, nil
}

// doRequest sends a JSON request and decodes the JSON response into result. The body
// of a non-2xx response is still decoded when possible, then a *StatusError is returned.
func (instance *Client) doRequest(ctx context.Context, method string, path string, token string, body any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, instance.requestTimeout)
	defer cancel()

	request, err := instance.newRequest(ctx, method, path, token, body)
	if err != nil {
		return err
	}

	response, err := instance.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	content, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("%s %s: reading response failed: %w", method, path, err)
	}

	success := response.StatusCode >= 200 && response.StatusCode < 300
	if result != nil && len(bytes.TrimSpace(content)) > 0 {
		if err := sonic.Unmarshal(content, result); err != nil && success {
			return fmt.Errorf("%s %s: decoding response failed: %w", method, path, err)
		}
	}

	if !success {
		statusError := &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: response.StatusCode,
			Body:       truncate(string(content), maxErrorBodySize),
		}
		log.Debug().Err(statusError).Msg("orchestrator request failed")
		return statusError
	}
	return nil
}

func truncate(value string, size int) string {
	value = strings.TrimSpace(value)
	if len(value) <= size {
		return value
	}
	return value[:size]
}
