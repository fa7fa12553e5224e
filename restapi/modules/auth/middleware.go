package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// tokenFrom reads a bearer token from the Authorization header, falling back
// to the auth_token cookie.
func tokenFrom(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return c.Cookies("auth_token")
}

func setIdentity(c *fiber.Ctx, claims *Claims) {
	c.Locals("is_authenticated", true)
	c.Locals("username", claims.Username)
	c.Locals("role", claims.Role)
}

// RequireAuth middleware validates the bearer token and blocks guests
func RequireAuth(c *fiber.Ctx) error {
	token := tokenFrom(c)
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Authentication required",
		})
	}

	claims, err := ValidateJWT(token)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Invalid or expired token",
		})
	}

	setIdentity(c, claims)
	return c.Next()
}

// OptionalAuth identifies the caller if a token is present but does not block guests.
func OptionalAuth(c *fiber.Ctx) error {
	token := tokenFrom(c)
	if token == "" {
		c.Locals("is_authenticated", false)
		return c.Next()
	}

	claims, err := ValidateJWT(token)
	if err != nil {
		// Treat invalid/expired tokens as guest access
		c.Locals("is_authenticated", false)
		return c.Next()
	}

	setIdentity(c, claims)
	return c.Next()
}

// RequireRole middleware checks if user has one of the required roles.
// Admins pass every role check.
func RequireRole(allowedRoles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userRole, ok := c.Locals("role").(string)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "Authentication required",
			})
		}
		if userRole == RoleAdmin {
			return c.Next()
		}

		for _, role := range allowedRoles {
			if userRole == role {
				return c.Next()
			}
		}

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"message": "Insufficient permissions",
		})
	}
}

// CurrentUser returns the authenticated caller, if any.
func CurrentUser(c *fiber.Ctx) (Identity, bool) {
	username, ok := c.Locals("username").(string)
	if !ok || username == "" {
		return Identity{}, false
	}
	role, _ := c.Locals("role").(string)
	return Identity{Username: username, Role: role}, true
}
