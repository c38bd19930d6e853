package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	postmarkBaseURL = "https://api.postmarkapp.com"

	// postmarkStream is the transactional stream invoice notifications use.
	postmarkStream = "outbound"
)

// PostmarkSender delivers notifications through the Postmark HTTP API.
type PostmarkSender struct {
	apiKey  string
	baseURL string
	stream  string
	client  *http.Client
}

type postmarkEmail struct {
	From          string            `json:"From"`
	To            string            `json:"To"`
	ReplyTo       string            `json:"ReplyTo,omitempty"`
	Subject       string            `json:"Subject"`
	HtmlBody      string            `json:"HtmlBody,omitempty"`
	TextBody      string            `json:"TextBody,omitempty"`
	Tag           string            `json:"Tag,omitempty"`
	Metadata      map[string]string `json:"Metadata,omitempty"`
	MessageStream string            `json:"MessageStream"`
}

type postmarkResponse struct {
	To        string `json:"To"`
	MessageID string `json:"MessageID"`
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// PostmarkOption configures a PostmarkSender.
type PostmarkOption func(*PostmarkSender)

// WithPostmarkBaseURL points the sender at a different API host.
func WithPostmarkBaseURL(url string) PostmarkOption {
	return func(p *PostmarkSender) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithPostmarkHTTPClient replaces the default HTTP client.
func WithPostmarkHTTPClient(client *http.Client) PostmarkOption {
	return func(p *PostmarkSender) { p.client = client }
}

// WithPostmarkStream sends through a message stream other than "outbound".
func WithPostmarkStream(stream string) PostmarkOption {
	return func(p *PostmarkSender) { p.stream = stream }
}

// NewPostmarkSender creates a new Postmark email sender
func NewPostmarkSender(apiKey string, opts ...PostmarkOption) *PostmarkSender {
	p := &PostmarkSender{
		apiKey:  apiKey,
		baseURL: postmarkBaseURL,
		stream:  postmarkStream,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Send posts one message to /email. A non-200 status or a non-zero Postmark
// error code is reported as ErrProviderRejected.
func (p *PostmarkSender) Send(ctx context.Context, email *Email) (string, error) {
	if len(email.To) == 0 {
		return "", ErrMissingRecipient
	}

	body, err := json.Marshal(postmarkEmail{
		From:          email.From,
		To:            strings.Join(email.To, ","),
		ReplyTo:       email.ReplyTo,
		Subject:       email.Subject,
		HtmlBody:      email.HTMLBody,
		TextBody:      email.TextBody,
		Tag:           email.Tag,
		Metadata:      email.Metadata,
		MessageStream: p.stream,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/email", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var result postmarkResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil && resp.StatusCode == http.StatusOK {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
	}

	if resp.StatusCode != http.StatusOK || result.ErrorCode != 0 {
		return "", fmt.Errorf("%w: postmark status %d, error %d: %s",
			ErrProviderRejected, resp.StatusCode, result.ErrorCode, result.Message)
	}

	return result.MessageID, nil
}
