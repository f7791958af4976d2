package handlers

import (
	"context"
	"fmt"
	"os"

	"github.com/spec-kit/approval-service/internal/trigger"
)

type documentConfig struct {
	Template string `json:"template" validate:"required"`
	Filename string `json:"filename"`
}

// DocumentHandler renders a text template into a file.
type DocumentHandler struct {
	dir string
}

// NewDocumentHandler writes documents below dir.
func NewDocumentHandler(dir string) *DocumentHandler {
	return &DocumentHandler{dir: dir}
}

// Name returns the binding name "document".
func (h *DocumentHandler) Name() string { return "document" }

// Execute renders the template and writes it to the output directory.
func (h *DocumentHandler) Execute(ctx context.Context, inv trigger.Invocation) (map[string]any, error) {
	var cfg documentConfig
	if err := bindConfig(inv, &cfg); err != nil {
		return nil, err
	}
	if cfg.Filename == "" {
		cfg.Filename = fmt.Sprintf("%s-%s.txt", ticketKey(inv.Variables), inv.Event)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := outputPath(h.dir, cfg.Filename)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(cfg.Template), 0o644); err != nil {
		return nil, fmt.Errorf("write document: %w", err)
	}
	return map[string]any{"path": path, "bytes": len(cfg.Template)}, nil
}
