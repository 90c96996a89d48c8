package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/commentpilot/user-service/internal/config"
	"github.com/commentpilot/user-service/internal/dto"
	"github.com/commentpilot/user-service/internal/models"
	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AdminHeader carries the static admin token used by internal dashboards.
const AdminHeader = "X-Admin-Token"

// AdminRequired admits a request when one of these holds:
// 1. the X-Admin-Token header matches ADMIN_TOKEN
// 2. the JWT email or subject is listed in ADMIN_EMAILS / ADMIN_USER_IDS
// 3. the user row has role "admin"
func AdminRequired(db *gorm.DB, cfg *config.Config) fiber.Handler {
	adminEmails := parseCSV(cfg.AdminEmails)
	adminUserIDs := parseCSV(cfg.AdminUserIDs)

	authorize := func(c *fiber.Ctx) error {
		claims, err := tokenClaims(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}

		email, _ := claims["email"].(string)
		sub, _ := claims["sub"].(string)

		if contains(adminEmails, strings.ToLower(email)) || contains(adminUserIDs, sub) {
			c.Locals("admin_actor", "admin:"+email)
			return c.Next()
		}

		if userID, err := uuid.Parse(sub); err == nil {
			var user models.User
			if err := db.WithContext(c.UserContext()).Select("id", "role").First(&user, "id = ?", userID).Error; err == nil {
				if user.Role == "admin" {
					c.Locals("admin_actor", "admin:"+email)
					return c.Next()
				}
			}
		}

		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
			Error: true, Message: "Admin access required",
		})
	}

	viaJWT := jwtware.New(jwtware.Config{
		SigningKey:     jwtware.SigningKey{Key: []byte(cfg.JWTSecret)},
		SuccessHandler: authorize,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		},
	})

	return func(c *fiber.Ctx) error {
		if cfg.AdminToken != "" {
			if subtle.ConstantTimeCompare([]byte(c.Get(AdminHeader)), []byte(cfg.AdminToken)) == 1 {
				c.Locals("admin_actor", "admin:token")
				return c.Next()
			}
		}
		return viaJWT(c)
	}
}

// AdminActor names the admin behind the current request for audit fields.
func AdminActor(c *fiber.Ctx) string {
	if actor, ok := c.Locals("admin_actor").(string); ok {
		return actor
	}
	return "admin"
}

func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(p))
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func contains(list []string, val string) bool {
	for _, item := range list {
		if item == val {
			return true
		}
	}
	return false
}
