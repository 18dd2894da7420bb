package credential

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/onlinebank/onlinebank/internal/validation"
)

// Handler exposes PIN management endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a credential HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type setPINRequest struct {
	CurrentPIN string `json:"current_pin" validate:"omitempty,pin"`
	PIN        string `json:"pin" validate:"required,pin"`
	ConfirmPIN string `json:"confirm_pin" validate:"required,eqfield=PIN"`
}

// SetPIN sets or changes the transaction PIN of the :number account.
func (h *Handler) SetPIN(c *fiber.Ctx) error {
	var req setPINRequest
	if err := validation.Bind(c, &req); err != nil {
		return err
	}
	number := c.Params("number")
	err := h.service.SetPIN(c.UserContext(), SetPINInput{
		AccountNumber: number,
		CurrentPIN:    req.CurrentPIN,
		NewPIN:        req.PIN,
		ConfirmPIN:    req.ConfirmPIN,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_number": number,
		"pin_set":        true,
	})
}
