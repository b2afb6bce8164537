// Package client keeps a local view of the caller's messages in sync with the server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"inbox/internal/contract"
	"inbox/internal/domain/message"
)

// API is the remote surface the synchronizer drives.
type API interface {
	SendMessage(ctx context.Context, recipientID, content string) (contract.MessageWithUsers, error)
	Conversations(ctx context.Context) (contract.ConversationsResponse, error)
	Thread(ctx context.Context, otherUserID string, limit, offset int) (contract.ThreadResponse, error)
	MarkRead(ctx context.Context, ids []string) (int, error)
	DeleteMessage(ctx context.Context, id string) error
	UnreadCount(ctx context.Context) (int, error)
}

// ErrUnauthorized is wrapped by APIError for 401 responses.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response. Unwrap yields the matching domain error,
// so callers can use message.IsNotFound and friends on remote failures.
type APIError struct {
	Status int
	Body   contract.ErrorResponse
	err    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("inbox api: %d %s: %s", e.Status, e.Body.Code, e.Body.Error)
}

func (e *APIError) Unwrap() error {
	return e.err
}

func newAPIError(status int, body contract.ErrorResponse) *APIError {
	e := &APIError{Status: status, Body: body}
	switch {
	case status == http.StatusUnauthorized:
		e.err = ErrUnauthorized
	case status == http.StatusNotFound && body.MessageID != "":
		e.err = &message.NotFoundError{ID: body.MessageID}
	case status == http.StatusForbidden:
		e.err = &message.AuthorizationError{MessageID: body.MessageID, Action: message.Action(body.Action)}
	case status == http.StatusBadRequest && body.Code == contract.CodeValidation && body.Rule != "":
		e.err = &message.ValidationError{Rule: message.Rule(body.Rule), Detail: body.Error}
	case status == http.StatusServiceUnavailable:
		e.err = &message.RepositoryError{Op: "remote", Err: errors.New(body.Error)}
	}
	return e
}

// HTTPClient talks to the JSON API with a bearer token.
type HTTPClient struct {
	baseURL string
	token   string
	hc      *http.Client
}

var _ API = (*HTTPClient)(nil)

// NewHTTPClient creates a client for baseURL. hc may be nil.
func NewHTTPClient(baseURL, token string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), token: token, hc: hc}
}

// BaseURL returns the server root the client was built with.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

func (c *HTTPClient) SendMessage(ctx context.Context, recipientID, content string) (contract.MessageWithUsers, error) {
	var resp contract.SendMessageResponse
	err := c.do(ctx, http.MethodPost, "/messages", contract.SendMessageRequest{RecipientID: recipientID, Content: content}, &resp)
	return resp.Message, err
}

func (c *HTTPClient) Conversations(ctx context.Context) (contract.ConversationsResponse, error) {
	var resp contract.ConversationsResponse
	err := c.do(ctx, http.MethodGet, "/messages/conversations", nil, &resp)
	return resp, err
}

func (c *HTTPClient) Thread(ctx context.Context, otherUserID string, limit, offset int) (contract.ThreadResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var resp contract.ThreadResponse
	err := c.do(ctx, http.MethodGet, "/messages/conversation/"+url.PathEscape(otherUserID)+"?"+q.Encode(), nil, &resp)
	return resp, err
}

func (c *HTTPClient) MarkRead(ctx context.Context, ids []string) (int, error) {
	var resp contract.MarkReadResponse
	err := c.do(ctx, http.MethodPut, "/messages/read", contract.MarkReadRequest{MessageIDs: ids}, &resp)
	return resp.UpdatedCount, err
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) UnreadCount(ctx context.Context) (int, error) {
	var resp contract.UnreadCountResponse
	err := c.do(ctx, http.MethodGet, "/messages/unread-count", nil, &resp)
	return resp.UnreadCount, err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb contract.ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &eb) != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(raw))
		}
		return newAPIError(resp.StatusCode, eb)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
