package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ChatRequest is the wire shape of one outgoing message. MessageID is the
// caller-generated idempotency key, reused across retries of the same
// logical send.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
}

type Streamer interface {
	StreamChat(ctx context.Context, req ChatRequest) (*Stream, error)
}

// Client talks to the upstream chat endpoint. It performs no retries; a
// failed request or non-success response is one terminal failure.
type Client struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func (c Client) StreamChat(ctx context.Context, req ChatRequest) (*Stream, error) {
	if strings.TrimSpace(c.BaseURL) == "" {
		return nil, fmt.Errorf("CHAT_URL is not set")
	}
	httpc := c.Client
	if httpc == nil {
		// no client timeout: the response body is a long-lived stream,
		// cancellation comes from ctx
		httpc = &http.Client{}
	}

	b, _ := json.Marshal(req)
	url := strings.TrimRight(c.BaseURL, "/") + "/chat"
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")
	if strings.TrimSpace(c.APIKey) != "" {
		hreq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := httpc.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("chat http error: %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	return NewStream(ctx, resp.Body), nil
}
