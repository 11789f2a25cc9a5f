package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultURL is the Expo push endpoint the mobile clients register with.
const DefaultURL = "https://exp.host/--/api/v2/push/send"

// Message is one device push as sent on the wire.
type Message struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Gateway hands a push to a delivery service.
type Gateway interface {
	Send(ctx context.Context, msg Message) error
	Name() string
	Close() error
}

// HTTPGateway posts each push as JSON to a push service endpoint.
type HTTPGateway struct {
	url    string
	client *http.Client
}

// NewHTTPGateway creates a gateway posting to url (DefaultURL when empty).
func NewHTTPGateway(url string) *HTTPGateway {
	if url == "" {
		url = DefaultURL
	}
	return &HTTPGateway{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (g *HTTPGateway) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("post push: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push service returned %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (g *HTTPGateway) Name() string { return "http" }

func (g *HTTPGateway) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

// NoopGateway drops pushes after logging them. It stands in when push is
// disabled or the configured gateway is unreachable.
type NoopGateway struct {
	Reason string
	logger *zap.Logger
}

// NewNoopGateway creates a gateway that only logs.
func NewNoopGateway(reason string, logger *zap.Logger) *NoopGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoopGateway{Reason: reason, logger: logger}
}

func (g *NoopGateway) Send(_ context.Context, msg Message) error {
	g.logger.Debug("push dropped", zap.String("reason", g.Reason), zap.String("title", msg.Title))
	return nil
}

func (g *NoopGateway) Name() string { return "noop" }

func (g *NoopGateway) Close() error { return nil }
