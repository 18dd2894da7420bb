package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/onlinebank/onlinebank/internal/account"
	"github.com/onlinebank/onlinebank/internal/credential"
	"github.com/onlinebank/onlinebank/internal/funding"
	"github.com/onlinebank/onlinebank/internal/middleware"
	"github.com/onlinebank/onlinebank/internal/statement"
	"github.com/onlinebank/onlinebank/internal/transfer"
)

// AccountHandlers groups the handlers mounted under /accounts.
type AccountHandlers struct {
	Accounts    *account.Handler
	Credentials *credential.Handler
	Funding     *funding.Handler
	Transfers   *transfer.Handler
	Statements  *statement.Handler
	PINLimit    fiber.Handler
}

// RegisterAccountRoutes wires account lifecycle, money movement and
// statement endpoints.
func RegisterAccountRoutes(r fiber.Router, h AccountHandlers) {
	r.Post("/accounts", h.Accounts.Open)

	acct := r.Group("/accounts/:number", h.Accounts.RequireOwner)
	acct.Get("", h.Accounts.Get)
	acct.Post("/status", h.Accounts.ChangeStatus)
	acct.Post("/pin", h.PINLimit, h.Credentials.SetPIN)

	acct.Post("/deposits", middleware.RequireOperator(), h.Funding.Deposit)
	acct.Post("/topups", h.Funding.TopUp)
	acct.Post("/withdrawals", h.PINLimit, h.Funding.Withdraw)
	acct.Post("/transfers", h.PINLimit, h.Transfers.Create)

	acct.Get("/transactions", h.Statements.History)
	acct.Get("/reconciliation", h.Statements.Reconcile)
}
