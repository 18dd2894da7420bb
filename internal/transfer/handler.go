package transfer

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/onlinebank/onlinebank/internal/account"
	"github.com/onlinebank/onlinebank/internal/bankerr"
	"github.com/onlinebank/onlinebank/internal/credential"
	"github.com/onlinebank/onlinebank/internal/money"
	"github.com/onlinebank/onlinebank/internal/statement"
	"github.com/onlinebank/onlinebank/internal/validation"
)

// Handler exposes transfer endpoints.
type Handler struct {
	service     *Service
	credentials *credential.Service
}

// NewHandler constructs a transfer handler.
func NewHandler(service *Service, credentials *credential.Service) *Handler {
	return &Handler{service: service, credentials: credentials}
}

type transferRequest struct {
	ReceiverAccount string `json:"receiver_account" validate:"required,account_number"`
	Amount          string `json:"amount" validate:"required,amount"`
	Description     string `json:"description" validate:"max=255"`
	PIN             string `json:"pin" validate:"required,pin"`
	Reference       string `json:"reference" validate:"omitempty,max=64"`
}

type transferResponse struct {
	TransferID      string                   `json:"transfer_id"`
	SenderAccount   string                   `json:"sender_account"`
	ReceiverAccount string                   `json:"receiver_account,omitempty"`
	Amount          string                   `json:"amount"`
	SenderBalance   string                   `json:"sender_balance"`
	Debit           statement.EntryResponse  `json:"debit"`
	Credit          *statement.EntryResponse `json:"credit,omitempty"`
	CompletedAt     time.Time                `json:"completed_at"`
}

// Create transfers funds from the :number account.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req transferRequest
	if err := validation.Bind(c, &req); err != nil {
		return err
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		return err
	}

	sender := c.Params("number")
	authz, err := h.credentials.Authorize(c.UserContext(), sender, req.PIN)
	if err != nil {
		return err
	}
	owner, _ := c.Locals(account.OwnerLocal).(string)

	res, err := h.service.Transfer(c.UserContext(), Request{
		SenderAccount:   sender,
		ReceiverAccount: req.ReceiverAccount,
		Amount:          amount,
		Description:     req.Description,
		Authorization:   authz,
		Reference:       req.Reference,
		RequestorID:     owner,
	})
	switch {
	case errors.Is(err, bankerr.ErrDuplicate):
		return c.Status(http.StatusOK).JSON(toResponse(res))
	case err != nil:
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(res))
}

func toResponse(res Result) transferResponse {
	out := transferResponse{
		TransferID:      res.TransferID,
		SenderAccount:   res.Debit.AccountNumber,
		ReceiverAccount: res.Receiver.Number,
		Amount:          money.Format(res.Debit.Amount),
		SenderBalance:   money.Format(res.Debit.BalanceAfter),
		Debit:           statement.ToEntryResponse(res.Debit),
		CompletedAt:     res.CompletedAt,
	}
	if res.Credit.ID != 0 {
		credit := statement.ToEntryResponse(res.Credit)
		out.Credit = &credit
	}
	return out
}
