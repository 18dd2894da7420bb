package account

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/onlinebank/onlinebank/internal/bankerr"
	"github.com/onlinebank/onlinebank/internal/money"
	"github.com/onlinebank/onlinebank/internal/validation"
)

const (
	// OwnerLocal is the fiber local holding the authenticated owner id.
	OwnerLocal = "owner_id"
	// OperatorLocal is true when the caller holds the operator role.
	OperatorLocal = "operator"
)

// IsOperator reports whether the authenticated caller is bank staff.
func IsOperator(c *fiber.Ctx) bool {
	op, _ := c.Locals(OperatorLocal).(bool)
	return op
}

// Handler exposes account HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type openRequest struct {
	OwnerID string `json:"owner_id" validate:"omitempty,uuid"`
	Kind    string `json:"kind" validate:"omitempty,oneof=savings checking"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=active frozen closed"`
}

// Response is the public representation of an account.
type Response struct {
	Number    string    `json:"account_number"`
	OwnerID   string    `json:"owner_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Balance   string    `json:"balance"`
	HasPIN    bool      `json:"has_pin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToResponse renders acct for API consumers.
func ToResponse(acct Account) Response {
	return Response{
		Number:    acct.Number,
		OwnerID:   acct.OwnerID,
		Kind:      string(acct.Kind),
		Status:    string(acct.Status),
		Balance:   money.Format(acct.Balance),
		HasPIN:    acct.HasPIN(),
		CreatedAt: acct.CreatedAt,
		UpdatedAt: acct.UpdatedAt,
	}
}

// Open provisions an account for the authenticated owner.
func (h *Handler) Open(c *fiber.Ctx) error {
	var req openRequest
	if err := validation.Bind(c, &req); err != nil {
		return err
	}
	if owner, _ := c.Locals(OwnerLocal).(string); owner != "" {
		if req.OwnerID != "" && req.OwnerID != owner {
			return bankerr.ErrNotOwner
		}
		req.OwnerID = owner
	}

	acct, err := h.service.Open(c.UserContext(), OpenInput{OwnerID: req.OwnerID, Kind: Kind(req.Kind)})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(ToResponse(acct))
}

// Get returns the account addressed by the :number path parameter.
func (h *Handler) Get(c *fiber.Ctx) error {
	acct, err := h.owned(c)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(ToResponse(acct))
}

// ChangeStatus freezes, unfreezes or closes an account. Owners may freeze or
// close their own account; reactivation is reserved to operators.
func (h *Handler) ChangeStatus(c *fiber.Ctx) error {
	var req statusRequest
	if err := validation.Bind(c, &req); err != nil {
		return err
	}
	if _, err := h.owned(c); err != nil {
		return err
	}
	if Status(req.Status) == StatusActive && !IsOperator(c) {
		return bankerr.New(bankerr.Forbidden, "only an operator can reactivate an account")
	}
	acct, err := h.service.ChangeStatus(c.UserContext(), c.Params("number"), Status(req.Status))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(ToResponse(acct))
}

// owned loads the path account and checks it belongs to the caller when the
// request is authenticated. Operators act on any account.
func (h *Handler) owned(c *fiber.Ctx) (Account, error) {
	acct, err := h.service.Get(c.UserContext(), c.Params("number"))
	if err != nil {
		return Account{}, err
	}
	if IsOperator(c) {
		return acct, nil
	}
	if owner, _ := c.Locals(OwnerLocal).(string); owner != "" && owner != acct.OwnerID {
		return Account{}, bankerr.ErrNotOwner
	}
	return acct, nil
}

// RequireOwner is middleware rejecting requests whose caller does not own the
// :number account.
func (h *Handler) RequireOwner(c *fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return err
	}
	return c.Next()
}
