package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/internal/model"
)

// APIError is a non-2xx response from the conversation API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

// Client talks to the conversation REST API on behalf of an agent.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates an API client. baseURL is the API root without a
// trailing slash, token the agent's bearer token.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{},
		logger:  logger,
	}
}

type conversationsResponse struct {
	Conversations []model.Conversation `json:"conversations"`
	Pagination    model.Pagination     `json:"pagination"`
}

type messagesResponse struct {
	Messages   []model.Message  `json:"messages"`
	Pagination model.Pagination `json:"pagination"`
}

type messageResponse struct {
	Message model.Message `json:"message"`
}

// ListConversations fetches one page of the agent's conversation list.
func (c *Client) ListConversations(ctx context.Context, page, pageSize int, orderBy string) ([]model.Conversation, model.Pagination, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	if orderBy != "" {
		q.Set("order_by", orderBy)
	}

	var resp conversationsResponse
	if err := c.do(ctx, http.MethodGet, "/conversations?"+q.Encode(), nil, &resp); err != nil {
		return nil, model.Pagination{}, err
	}
	return resp.Conversations, resp.Pagination, nil
}

// GetMessages fetches one page of a conversation's messages. The server
// returns newest first; callers reverse for display.
func (c *Client) GetMessages(ctx context.Context, conversationUUID string, page, pageSize int) ([]model.Message, model.Pagination, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))

	path := fmt.Sprintf("/conversations/%s/messages?%s", url.PathEscape(conversationUUID), q.Encode())
	var resp messagesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, model.Pagination{}, err
	}
	return resp.Messages, resp.Pagination, nil
}

// JoinConversation takes the conversation over for the calling agent.
// The returned system message's created_at is the join time.
func (c *Client) JoinConversation(ctx context.Context, conversationUUID string) (*model.Message, error) {
	path := fmt.Sprintf("/conversations/%s/join", url.PathEscape(conversationUUID))
	var resp messageResponse
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

// CloseConversation closes the conversation. The returned system
// message's created_at becomes the conversation's closed_at.
func (c *Client) CloseConversation(ctx context.Context, conversationUUID string) (*model.Message, error) {
	path := fmt.Sprintf("/conversations/%s/close", url.PathEscape(conversationUUID))
	var resp messageResponse
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

// SendAgentMessage posts an agent message and returns the confirmed
// server copy.
func (c *Client) SendAgentMessage(ctx context.Context, conversationUUID, content string) (*model.Message, error) {
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationUUID))
	body := map[string]string{"content": content}
	var msg model.Message
	if err := c.do(ctx, http.MethodPost, path, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errBody); err == nil {
			apiErr.Message = errBody.Message
			if apiErr.Message == "" {
				apiErr.Message = errBody.Error
			}
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
