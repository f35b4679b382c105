// Package notify delivers triage advice back to patients over SMS.
// Delivery is best-effort: a failed send is logged and swallowed so the
// USSD session still completes.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/afya-pulse/triage-api/internal/config"
)

// Sender delivers a text message to a single phone number.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// SMSGateway posts messages to an Africa's Talking style messaging API
// (api key header, form-encoded username/to/message body).
type SMSGateway struct {
	cfg    config.SMSConfig
	client *http.Client
	logger *zap.Logger
}

func NewSMSGateway(cfg config.SMSConfig, logger *zap.Logger) *SMSGateway {
	return &SMSGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (g *SMSGateway) Send(ctx context.Context, phone, message string) error {
	if !g.cfg.Enabled {
		g.logger.Debug("sms disabled, skipping send", zap.String("phone", phone))
		return nil
	}

	form := url.Values{}
	form.Set("username", g.cfg.Username)
	form.Set("to", phone)
	form.Set("message", message)
	if g.cfg.SenderID != "" {
		form.Set("from", g.cfg.SenderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms provider returned status %d", resp.StatusCode)
	}

	g.logger.Info("sms dispatched", zap.String("phone", phone))
	return nil
}

// NoopSender discards messages. Used when no provider is configured and
// in tests.
type NoopSender struct{}

func (NoopSender) Send(context.Context, string, string) error { return nil }
