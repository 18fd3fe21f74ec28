package middleware

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/deskrelay/deskrelay/app/repository"
	"github.com/deskrelay/deskrelay/internal/pkg/tenantctx"
)

// TenantIDLocal is the fiber Locals key carrying the resolved tenant id
const TenantIDLocal = "TENANT_ID"

// HeaderTenantID identifies the tenant on every API request. The
// authenticating proxy in front of this service has already verified the
// caller may act for that tenant.
const HeaderTenantID = "X-Tenant-ID"

// TenantMiddleware resolves and validates the tenant header, then binds
// the tenant id into the request context so every downstream call is
// scoped. Requests without a valid tenant never reach business logic.
func TenantMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Get(HeaderTenantID)
		if raw == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Missing " + HeaderTenantID + " header"})
		}
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || id == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid tenant id"})
		}

		tenant, err := repository.GetGlobalRepositories().Tenant.GetByID(uint(id))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown tenant"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Tenant lookup failed"})
		}
		if !tenant.Active {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Tenant inactive"})
		}

		tenantID := tenantctx.TenantID(tenant.ID)
		c.Locals(TenantIDLocal, tenantID)
		c.SetUserContext(tenantctx.WithTenant(c.UserContext(), tenantID))
		return c.Next()
	}
}

// GetTenantID returns the tenant bound to the request by TenantMiddleware
func GetTenantID(c *fiber.Ctx) tenantctx.TenantID {
	if id, ok := c.Locals(TenantIDLocal).(tenantctx.TenantID); ok {
		return id
	}
	return 0
}
