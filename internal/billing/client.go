package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mattjoyce/switchboard/internal/log"
)

const (
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultTimeout    = 10 * time.Second
)

// Client talks to the billing REST service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retryDelay time.Duration
	logger     *slog.Logger

	rest *resty.Client
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithToken sets the bearer token sent with each request.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// WithRetryDelay sets the fixed delay before the single retry.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.retryDelay = d }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client for the billing service at baseURL. A network
// failure is retried exactly once after the fixed retry delay; responses of
// any status are final.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.WithComponent("billing_client")
	}

	c.rest = resty.NewWithClient(c.httpClient).
		SetBaseURL(c.baseURL).
		SetLogger(restyLogger{c.logger}).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(1).
		SetRetryWaitTime(c.retryDelay).
		SetRetryMaxWaitTime(c.retryDelay).
		AddRetryCondition(func(_ *resty.Response, err error) bool { return err != nil }).
		AddRetryHook(func(resp *resty.Response, err error) {
			var messageID string
			if resp != nil && resp.Request != nil {
				if req, ok := resp.Request.Body.(TransactionRequest); ok {
					messageID = req.MessageID
				}
			}
			c.logger.Warn("billing request failed, retrying",
				"message_id", messageID,
				"retry_in", c.retryDelay.String(),
				"error", err,
			)
		})
	if c.token != "" {
		c.rest.SetAuthToken(c.token)
	}
	return c
}

// CreateTransaction records a metered message.
func (c *Client) CreateTransaction(ctx context.Context, req TransactionRequest) (*TransactionResponse, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(req).
		Post("/transactions")
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &ServiceError{StatusCode: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
	}

	var out TransactionResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, &ServiceError{StatusCode: http.StatusOK, Body: fmt.Sprintf("undecodable response: %v", err)}
	}
	return &out, nil
}

// restyLogger routes resty's own diagnostics to debug level; retries are
// reported by the retry hook.
type restyLogger struct{ l *slog.Logger }

func (r restyLogger) Errorf(format string, v ...any) { r.l.Debug(fmt.Sprintf(format, v...)) }
func (r restyLogger) Warnf(format string, v ...any) { r.l.Debug(fmt.Sprintf(format, v...)) }
func (r restyLogger) Debugf(format string, v ...any) { r.l.Debug(fmt.Sprintf(format, v...)) }
