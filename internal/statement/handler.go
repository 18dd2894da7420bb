package statement

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/onlinebank/onlinebank/internal/bankerr"
	"github.com/onlinebank/onlinebank/internal/ledger"
)

// Handler exposes history and reconciliation endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a statement handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// History lists entries of the :number account. Query parameters cursor and
// limit page through older entries.
func (h *Handler) History(c *fiber.Ctx) error {
	cursor := c.QueryInt("cursor", 0)
	limit := c.QueryInt("limit", ledger.DefaultPageSize)
	if limit <= 0 || limit > ledger.MaxPageSize {
		return bankerr.Invalid("limit", "limit must be between 1 and 100")
	}

	page, err := h.service.History(c.UserContext(), c.Params("number"), ledger.Page{Cursor: int64(cursor), Limit: limit})
	if err != nil {
		return err
	}

	resp := HistoryResponse{Entries: make([]EntryResponse, 0, len(page.Entries)), NextCursor: page.NextCursor}
	for _, e := range page.Entries {
		resp.Entries = append(resp.Entries, ToEntryResponse(e))
	}
	return c.Status(http.StatusOK).JSON(resp)
}

// Reconcile reports whether the :number account balance matches its entries.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	r, err := h.service.Reconcile(c.UserContext(), c.Params("number"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(ToReconciliationResponse(r))
}
