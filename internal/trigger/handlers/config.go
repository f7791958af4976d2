// Package handlers holds the side-effect handlers that trigger bindings run.
package handlers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/spec-kit/approval-service/internal/trigger"
)

var validate = validator.New()

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// bindConfig resolves {$.var} tokens in the binding config against the
// invocation variables, decodes the result into dst and validates it.
func bindConfig(inv trigger.Invocation, dst any) error {
	raw, err := trigger.DecodeConfig(inv.Config)
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	resolved, err := json.Marshal(trigger.ResolveParams(inv.Variables, raw))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := json.Unmarshal(resolved, dst); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// outputPath places name inside dir, creating dir when needed. The name is
// reduced to a safe base filename.
func outputPath(dir, name string) (string, error) {
	base := unsafeFileChars.ReplaceAllString(filepath.Base(strings.TrimSpace(name)), "_")
	if base == "" || base == "." || base == "_" {
		return "", fmt.Errorf("invalid filename %q", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return filepath.Join(dir, base), nil
}

func ticketKey(vars map[string]any) string {
	if key, ok := vars["ticket_key"].(string); ok && key != "" {
		return key
	}
	return fmt.Sprintf("ticket-%v", vars["ticket_id"])
}
