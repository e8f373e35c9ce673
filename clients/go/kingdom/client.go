// Package kingdom provides a client for the Kingdom Chat local bridge.
package kingdom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/Fidelis900/crown-commune/internal/chat"
	"github.com/Fidelis900/crown-commune/internal/handlers"
	"github.com/Fidelis900/crown-commune/internal/models"
)

// DefaultURL is where kingdomd listens by default.
const DefaultURL = "http://localhost:8080"

// APIError is a non-2xx response from the bridge.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("kingdom error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("kingdom error %d: %s", e.Status, e.Message)
}

// Client is a Kingdom Chat bridge client.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new client.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// do performs an HTTP request and decodes a JSON response into out when
// out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, out), "decode response")
}

// View fetches the session snapshot.
func (c *Client) View(ctx context.Context) (*chat.View, error) {
	var v chat.View
	if err := c.do(ctx, http.MethodGet, "/view", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListChannels lists the channels visible to the session user.
func (c *Client) ListChannels(ctx context.Context) (*handlers.ChannelListResponse, error) {
	var resp handlers.ChannelListResponse
	if err := c.do(ctx, http.MethodGet, "/channels", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SelectChannel switches the active channel.
func (c *Client) SelectChannel(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/select", nil, nil)
}

// Post sends a message, or a decree when isDecree is set.
func (c *Client) Post(ctx context.Context, content string, isDecree bool, replyTo string) (*handlers.SendResponse, error) {
	var resp handlers.SendResponse
	req := handlers.SendRequest{Content: content, IsDecree: isDecree, ReplyToID: replyTo}
	if err := c.do(ctx, http.MethodPost, "/messages", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Edit replaces the content of one of the user's messages.
func (c *Client) Edit(ctx context.Context, messageID, content string) error {
	return c.do(ctx, http.MethodPatch, "/messages/"+url.PathEscape(messageID), handlers.EditRequest{Content: content}, nil)
}

// Delete soft-deletes one of the user's messages.
func (c *Client) Delete(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
}

// React toggles the user's reaction on a message.
func (c *Client) React(ctx context.Context, messageID, emoji string) error {
	return c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/reactions", handlers.ReactionRequest{Emoji: emoji}, nil)
}

// SetStatus announces a presence status.
func (c *Client) SetStatus(ctx context.Context, status models.PresenceStatus) error {
	return c.do(ctx, http.MethodPut, "/status", handlers.StatusRequest{Status: status}, nil)
}

// Who fetches a profile card.
func (c *Client) Who(ctx context.Context, userID string) (*handlers.WhoResponse, error) {
	var resp handlers.WhoResponse
	if err := c.do(ctx, http.MethodGet, "/who/"+url.PathEscape(userID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks bridge health. A degraded bridge returns an *APIError with
// status 503.
func (c *Client) Health(ctx context.Context) (*handlers.HealthResponse, error) {
	var resp handlers.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
