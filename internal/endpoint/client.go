// ABOUTME: Authenticated HTTP client for delivering activities to a bot endpoint
// ABOUTME: Maps transport and status failures to the typed delivery error taxonomy

package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/southworks/botemulator/internal/activity"
)

// Delivery failure taxonomy. Callers match with errors.Is.
var (
	ErrNetwork  = errors.New("bot endpoint unreachable")
	ErrAuth     = errors.New("bot endpoint rejected credentials")
	ErrProtocol = errors.New("bot endpoint returned an error status")
	ErrTimeout  = errors.New("bot endpoint timed out")
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 30 * time.Second

// maxResponseBody caps how much of the bot's response is read back.
const maxResponseBody = 1 << 20

// Result is the outcome of a successful delivery. Replies carries any
// synchronous reply activities the bot returned in the response body
// (the "expectReplies" shape, {"activities": [...]}); most bots reply
// asynchronously through the callback server instead and leave it empty.
type Result struct {
	StatusCode int
	Replies    []*activity.Activity
}

// Client posts activities to a bot's messaging endpoint. It performs no
// retries; retry policy lives with the caller.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a delivery client. Pass nil for defaults.
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger.With("component", "endpoint"),
	}
}

// Post delivers one activity to the endpoint. A Bearer token is attached
// when the endpoint has credentials configured. 200, 201 and 202 count as
// success; everything else maps onto the typed failure taxonomy.
func (c *Client) Post(ctx context.Context, ep *BotEndpoint, a *activity.Activity) (*Result, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encoding activity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := ep.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquiring token: %v", ErrAuth, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	c.logger.Debug("activity delivered",
		"endpoint", ep.URL,
		"activity_id", a.ID,
		"status", resp.StatusCode,
		"elapsed", time.Since(start))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Result{StatusCode: resp.StatusCode, Replies: parseReplies(respBody)}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrProtocol, resp.StatusCode)
	}
}

// parseReplies extracts synchronous reply activities from a response body.
// Bodies that are empty or have any other shape yield nil.
func parseReplies(body []byte) []*activity.Activity {
	if len(body) == 0 {
		return nil
	}
	var wrapper struct {
		Activities []*activity.Activity `json:"activities"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil
	}
	return wrapper.Activities
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
