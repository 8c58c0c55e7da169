package coordinator

import (
	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyGuard is a static single-key admission gate: the coordinator has
// no client/tenant model, only an operator-issued key compared against a
// bcrypt hash held in memory. The spec is silent on authentication, so
// this is additive rather than a feature the Non-goals exclude.
type APIKeyGuard struct {
	hash []byte
}

func NewAPIKeyGuard(apiKey string) (*APIKeyGuard, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &APIKeyGuard{hash: hash}, nil
}

func (g *APIKeyGuard) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("X-API-Key")
		if key == "" || bcrypt.CompareHashAndPassword(g.hash, []byte(key)) != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or missing API key"})
		}
		return c.Next()
	}
}
