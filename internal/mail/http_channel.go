package mail

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
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBodyBytes  = 512
)

// HTTPChannelConfig identifies the account and template on a hosted mail API.
type HTTPChannelConfig struct {
	URL        string
	ServiceID  string
	TemplateID string
	PublicKey  string
	Client     *http.Client
}

// HTTPChannel posts reset messages to a hosted template mail API.
type HTTPChannel struct {
	url        string
	serviceID  string
	templateID string
	publicKey  string
	client     *http.Client
}

type templateRequest struct {
	ServiceID      string         `json:"service_id"`
	TemplateID     string         `json:"template_id"`
	UserID         string         `json:"user_id"`
	TemplateParams templateParams `json:"template_params"`
}

type templateParams struct {
	Email    string `json:"email"`
	Link     string `json:"link"`
	AppName  string `json:"app_name"`
	FromName string `json:"from_name"`
	Message  string `json:"message"`
}

func NewHTTPChannel(cfg HTTPChannelConfig) (*HTTPChannel, error) {
	if strings.TrimSpace(cfg.URL) == "" || cfg.ServiceID == "" || cfg.TemplateID == "" || cfg.PublicKey == "" {
		return nil, fmt.Errorf("mail: http channel requires url, service id, template id and public key")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPChannel{
		url:        cfg.URL,
		serviceID:  cfg.ServiceID,
		templateID: cfg.TemplateID,
		publicKey:  cfg.PublicKey,
		client:     client,
	}, nil
}

func (c *HTTPChannel) Name() string {
	return "http"
}

func (c *HTTPChannel) SendReset(ctx context.Context, message ResetMessage) error {
	payload, err := json.Marshal(templateRequest{
		ServiceID:  c.serviceID,
		TemplateID: c.templateID,
		UserID:     c.publicKey,
		TemplateParams: templateParams{
			Email:    message.To,
			Link:     message.Link,
			AppName:  message.AppName,
			FromName: message.FromName,
			Message:  message.Intro,
		},
	})
	if err != nil {
		return fmt.Errorf("mail: encode request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mail: build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := c.client.Do(request)
	if err != nil {
		return fmt.Errorf("mail: post: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return fmt.Errorf("mail: api status %d: %s", response.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}
