package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/approval-service/pkg/util/errorutil"
)

// BindingCache drops cached trigger bindings of a service.
type BindingCache interface {
	InvalidateService(serviceID int64)
}

// AdminHandler serves operator endpoints.
type AdminHandler struct {
	bindings BindingCache
}

// NewAdminHandler constructs handler.
func NewAdminHandler(bindings BindingCache) *AdminHandler {
	return &AdminHandler{bindings: bindings}
}

// InvalidateTriggers POST /admin/services/:id/triggers/invalidate. Used after
// binding rows are edited so the relay picks up the change before the cache
// expires.
func (h *AdminHandler) InvalidateTriggers(c *fiber.Ctx) error {
	serviceID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || serviceID <= 0 {
		return apperrors.NewValidationError("invalid service id", map[string]any{"id": c.Params("id")})
	}
	h.bindings.InvalidateService(serviceID)
	return respond(c, http.StatusOK, "trigger bindings reloaded", fiber.Map{"service_id": serviceID})
}
