package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"

	"github.com/spec-kit/approval-service/internal/trigger"
)

type scriptConfig struct {
	Script string `json:"script" validate:"required"`
}

// ScriptHandler evaluates JavaScript with $ bound to the trigger variables.
// Whatever $ holds afterwards becomes the handler output.
type ScriptHandler struct{}

// NewScriptHandler constructs the script handler.
func NewScriptHandler() *ScriptHandler { return &ScriptHandler{} }

// Name returns the binding name "script".
func (h *ScriptHandler) Name() string { return "script" }

// Execute runs the configured script with $ bound to the trigger variables
// and returns $ after the script finishes.
func (h *ScriptHandler) Execute(ctx context.Context, inv trigger.Invocation) (map[string]any, error) {
	var sc scriptConfig
	if len(inv.Config) > 0 {
		if err := json.Unmarshal(inv.Config, &sc); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := validate.Struct(sc); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	data, err := json.Marshal(inv.Variables)
	if err != nil {
		return nil, fmt.Errorf("encode variables: %w", err)
	}

	vm := goja.New()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	if _, err := vm.RunString(fmt.Sprintf("var $ = %s;\n%s", data, sc.Script)); err != nil {
		return nil, fmt.Errorf("error executing javascript: %w", err)
	}
	val, err := vm.RunString("$")
	if err != nil {
		return nil, fmt.Errorf("error executing javascript: %w", err)
	}

	res, err := json.Marshal(val.Export())
	if err != nil {
		return nil, err
	}
	var output map[string]any
	if err := json.Unmarshal(res, &output); err != nil {
		return map[string]any{"result": json.RawMessage(res)}, nil
	}
	return output, nil
}
