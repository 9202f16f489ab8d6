package smartsheet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hylla/datetrack/internal/domain"
	"github.com/hylla/datetrack/internal/retry"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public Smartsheet REST endpoint.
const DefaultBaseURL = "https://api.smartsheet.com/2.0"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// ErrUnauthorized and related errors describe client failures.
var (
	ErrUnauthorized  = errors.New("smartsheet token rejected")
	ErrMissingToken  = errors.New("smartsheet token is required")
	ErrInvalidSheet  = errors.New("invalid sheet id")
	ErrDecodeFailure = errors.New("decode smartsheet response")
)

// HTTPClient allows injecting test transports.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	BaseURL           string
	Token             string
	HTTPClient        HTTPClient
	RequestsPerMinute int
	Timeout           time.Duration
}

// Client reads sheets over the Smartsheet REST API.
type Client struct {
	baseURL string
	token   string
	http    HTTPClient
	limiter *rate.Limiter
}

// NewClient constructs a client. One client is shared for a whole run.
func NewClient(opts Options) (*Client, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, ErrMissingToken
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RequestsPerMinute))
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// APIError carries a non-2xx Smartsheet response.
type APIError struct {
	Status    int    `json:"-"`
	ErrorCode int    `json:"errorCode"`
	Message   string `json:"message"`
	RefID     string `json:"refId"`
}

// Error formats the API failure.
func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.ErrorCode != 0 {
		return fmt.Sprintf("smartsheet api %d (code %d): %s", e.Status, e.ErrorCode, msg)
	}
	return fmt.Sprintf("smartsheet api %d: %s", e.Status, msg)
}

// Retryable reports whether the failure is transient.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Unwrap maps auth failures onto ErrUnauthorized.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

// GetSheet fetches all columns and rows of one sheet.
func (c *Client) GetSheet(ctx context.Context, sheetID int64) (domain.Sheet, error) {
	if sheetID <= 0 {
		return domain.Sheet{}, ErrInvalidSheet
	}
	var payload sheetPayload
	if err := c.get(ctx, "/sheets/"+strconv.FormatInt(sheetID, 10), &payload); err != nil {
		return domain.Sheet{}, err
	}
	return payload.toDomain(), nil
}

// Ping verifies the token by reading the current user.
func (c *Client) Ping(ctx context.Context) error {
	var me struct {
		Email string `json:"email"`
	}
	return c.get(ctx, "/users/me", &me)
}

// get performs one paced GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if len(bytes.TrimSpace(body)) > 0 {
			_ = json.Unmarshal(body, apiErr)
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("%w: %v", ErrDecodeFailure, err))
	}
	return nil
}
