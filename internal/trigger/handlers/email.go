package handlers

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/approval-service/internal/config"
	"github.com/spec-kit/approval-service/internal/trigger"
)

type emailConfig struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body"`
}

// EmailHandler hands rendered messages to the notification webhook. Without
// a webhook the message is only logged.
type EmailHandler struct {
	cfg    config.NotificationConfig
	logger *zap.Logger
}

// NewEmailHandler sends through cfg.WebhookURL, or only logs when it is empty.
func NewEmailHandler(cfg config.NotificationConfig, logger *zap.Logger) *EmailHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailHandler{cfg: cfg, logger: logger}
}

// Name returns the binding name "email".
func (h *EmailHandler) Name() string { return "email" }

// Execute delivers one message.
func (h *EmailHandler) Execute(ctx context.Context, inv trigger.Invocation) (map[string]any, error) {
	var cfg emailConfig
	if err := bindConfig(inv, &cfg); err != nil {
		return nil, err
	}
	output := map[string]any{"to": cfg.To, "subject": cfg.Subject, "delivered": false}

	if h.cfg.WebhookURL == "" {
		h.logger.Info("email notification",
			zap.Int64("ticket_id", inv.TicketID),
			zap.String("from", h.cfg.EmailFrom),
			zap.String("to", cfg.To),
			zap.String("subject", cfg.Subject),
		)
		return output, nil
	}

	resp, err := send(ctx, outboundRequest{
		Method: fiber.MethodPost,
		URL:    h.cfg.WebhookURL,
		Body: fiber.Map{
			"from":      h.cfg.EmailFrom,
			"to":        cfg.To,
			"subject":   cfg.Subject,
			"body":      cfg.Body,
			"ticket_id": inv.TicketID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("post email webhook: %w", err)
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, fmt.Errorf("email webhook returned %d", resp.Status)
	}
	output["delivered"] = true
	return output, nil
}
