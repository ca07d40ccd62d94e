package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// RESTClient talks to the Email Provider Service over its JSON API.
type RESTClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRESTClient creates a mail provider client. apiKey must be non-empty;
// the pipeline is unusable without provider credentials, so construction
// fails fast rather than failing on the first send.
func NewRESTClient(baseURL, apiKey string) (*RESTClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("mail provider base URL is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("mail provider API key is required")
	}
	return &RESTClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *RESTClient) ListUnread(ctx context.Context, inbox string, limit int) ([]RawMessage, error) {
	q := url.Values{}
	q.Set("inbox", inbox)
	q.Set("limit", strconv.Itoa(limit))

	var out struct {
		Messages []RawMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/messages/unread?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *RESTClient) Send(ctx context.Context, inbox, to, subject, text, html string) (*SendResult, error) {
	body := map[string]string{
		"inbox":   inbox,
		"to":      to,
		"subject": subject,
		"text":    text,
	}
	if html != "" {
		body["html"] = html
	}
	var out SendResult
	if err := c.do(ctx, http.MethodPost, "/v1/messages/send", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RESTClient) Reply(ctx context.Context, threadID, text string) (*SendResult, error) {
	body := map[string]string{"text": text}
	var out SendResult
	if err := c.do(ctx, http.MethodPost, "/v1/threads/"+url.PathEscape(threadID)+"/reply", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RESTClient) MarkRead(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodPost, "/v1/messages/"+url.PathEscape(messageID)+"/read", nil, nil)
}

// do performs one API call, mapping HTTP failures to typed errors.
func (c *RESTClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &ProviderError{Kind: KindUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Kind: KindUnavailable, Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProviderError{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s %s: %s", method, path, string(respBody)),
		}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &ProviderError{Kind: KindUnavailable, Message: fmt.Sprintf("parse response: %v", err)}
		}
	}
	return nil
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindUnauthorized
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusNotFound:
		return KindNotFound
	default:
		return KindUnavailable
	}
}
