package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// RESTClient implements Client against the platform's HTTP API.
type RESTClient struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

// NewRESTClient creates a platform client with the given bot token and request timeout.
func NewRESTClient(baseURL, token string, timeout time.Duration, logger zerolog.Logger) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     logger,
	}
}

// createMessageRequest is the JSON body for posting a message.
type createMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage posts content to the channel and returns the created message ID.
func (c *RESTClient) SendMessage(ctx context.Context, channelID int64, content string) (int64, error) {
	body, err := json.Marshal(createMessageRequest{Content: content})
	if err != nil {
		return 0, fmt.Errorf("marshal message body: %w", err)
	}

	var created Message
	path := "/channels/" + strconv.FormatInt(channelID, 10) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, body, &created); err != nil {
		return 0, err
	}
	return created.ID, nil
}

// FetchMessage retrieves a single message from the channel.
func (c *RESTClient) FetchMessage(ctx context.Context, channelID, messageID int64) (*Message, error) {
	var msg Message
	path := "/channels/" + strconv.FormatInt(channelID, 10) + "/messages/" + strconv.FormatInt(messageID, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendNotice posts a short notice to the channel. It shares the message path; the distinction is semantic.
func (c *RESTClient) SendNotice(ctx context.Context, channelID int64, content string) error {
	_, err := c.SendMessage(ctx, channelID, content)
	return err
}

func (c *RESTClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build platform request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode platform response: %w", err)
	}
	return nil
}

func classifyStatus(status int) error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	default:
		return fmt.Errorf("platform returned status %d", status)
	}
}
