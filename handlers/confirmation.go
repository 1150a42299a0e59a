// handlers/confirmation.go
package handlers

import (
	"crypto/subtle"
	"time"

	"github.com/gofiber/fiber/v2"

	"debate-tournament-system/services"
)

type confirmationCallback struct {
	SlotID   uint   `json:"slot_id"`
	PlayerID uint   `json:"player_id"`
	Action   string `json:"action"`
}

type scheduleRequest struct {
	Date string `json:"date"` // YYYY-MM-DD, defaults to tomorrow
}

// SetupMatchRoutes wires the webhook the notification channel calls back on
// plus the manual scheduling trigger. Secured routes live under /s and
// require the shared callback secret.
func SetupMatchRoutes(app *fiber.App, coordinator *services.ConfirmationCoordinator, scheduler *services.MatchScheduler, callbackSecret string) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	secured := app.Group("/s", func(c *fiber.Ctx) error {
		got := c.Get("X-Callback-Secret")
		if callbackSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(callbackSecret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid callback secret",
			})
		}
		return c.Next()
	})

	secured.Post("/callbacks/confirmation", func(c *fiber.Ctx) error {
		var cb confirmationCallback
		if err := c.BodyParser(&cb); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid callback payload",
				"cause": err.Error(),
			})
		}
		if cb.SlotID == 0 || cb.PlayerID == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "slot_id and player_id are required",
			})
		}

		var err error
		switch cb.Action {
		case "confirm":
			err = coordinator.Confirm(c.Context(), cb.SlotID, cb.PlayerID)
		case "decline":
			err = coordinator.Decline(c.Context(), cb.SlotID, cb.PlayerID)
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "action must be confirm or decline",
			})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to apply confirmation action",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	secured.Post("/matches/schedule", func(c *fiber.Ctx) error {
		var req scheduleRequest
		// empty body means "schedule tomorrow"
		_ = c.BodyParser(&req)

		day := time.Now().UTC().Add(24 * time.Hour)
		if req.Date != "" {
			parsed, err := time.Parse("2006-01-02", req.Date)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "date must be YYYY-MM-DD",
				})
			}
			day = parsed
		}

		paired, err := scheduler.SchedulePairings(c.Context(), day)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to schedule pairings",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"status": "ok", "paired": paired})
	})
}
