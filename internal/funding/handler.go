package funding

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/onlinebank/onlinebank/internal/account"
	"github.com/onlinebank/onlinebank/internal/bankerr"
	"github.com/onlinebank/onlinebank/internal/credential"
	"github.com/onlinebank/onlinebank/internal/money"
	"github.com/onlinebank/onlinebank/internal/statement"
	"github.com/onlinebank/onlinebank/internal/validation"
)

// Handler exposes HTTP endpoints for funding flows.
type Handler struct {
	service     *Service
	credentials *credential.Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service, credentials *credential.Service) *Handler {
	return &Handler{service: service, credentials: credentials}
}

// Deposit credits the :number account.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req DepositRequest
	if err := validation.Bind(c, &req); err != nil {
		return err
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		return err
	}
	result, err := h.service.Deposit(c.UserContext(), DepositInput{
		AccountNumber: c.Params("number"),
		Amount:        amount,
		Description:   req.Description,
		Reference:     req.Reference,
	})
	return respond(c, result, err)
}

// TopUp processes account top-ups funded by cards.
func (h *Handler) TopUp(c *fiber.Ctx) error {
	var req TopUpRequest
	if err := validation.Bind(c, &req); err != nil {
		return err
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		return err
	}
	result, err := h.service.TopUp(c.UserContext(), TopUpInput{
		AccountNumber: c.Params("number"),
		Amount:        amount,
		Reference:     req.Reference,
		CardNumber:    req.CardNumber,
		Expiry:        req.Expiry,
		CVV:           req.CVV,
	})
	return respond(c, result, err)
}

// Withdraw debits the :number account after verifying the PIN.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req WithdrawRequest
	if err := validation.Bind(c, &req); err != nil {
		return err
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		return err
	}
	number := c.Params("number")
	authz, err := h.credentials.Authorize(c.UserContext(), number, req.PIN)
	if err != nil {
		return err
	}
	owner, _ := c.Locals(account.OwnerLocal).(string)

	result, err := h.service.Withdraw(c.UserContext(), WithdrawInput{
		AccountNumber: number,
		Amount:        amount,
		Description:   req.Description,
		Reference:     req.Reference,
		Authorization: authz,
		RequestorID:   owner,
	})
	return respond(c, result, err)
}

func respond(c *fiber.Ctx, result Result, err error) error {
	switch {
	case errors.Is(err, bankerr.ErrDuplicate):
		return c.Status(http.StatusOK).JSON(toResponse(result))
	case err != nil:
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(result))
}

func toResponse(result Result) FundingResponse {
	return FundingResponse{
		AccountNumber:     result.Account.Number,
		Balance:           money.Format(result.Account.Balance),
		Entry:             statement.ToEntryResponse(result.Entry),
		AcquirerReference: result.AcquirerReference,
	}
}
