package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/onlinebank/onlinebank/internal/auth"
	"github.com/onlinebank/onlinebank/internal/bankerr"
	"github.com/onlinebank/onlinebank/internal/logging"
)

func TestAuthenticate(t *testing.T) {
	secret := []byte("test-secret")
	logger := logging.Discard()
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger)})
	app.Use(Authenticate(secret, logger))
	app.Get("/me", func(c *fiber.Ctx) error {
		owner, _ := c.Locals(OwnerLocal).(string)
		return c.SendString(owner)
	})

	owner := uuid.NewString()
	sign := func(claims map[string]any) string {
		token, err := auth.SignHS256(claims, secret)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return "Bearer " + token
	}

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"expired", sign(map[string]any{"sub": owner, "exp": time.Now().Add(-time.Minute).Unix()}), http.StatusUnauthorized},
		{"non uuid subject", sign(map[string]any{"sub": "alice"}), http.StatusUnauthorized},
		{"valid", sign(map[string]any{"sub": owner, "exp": time.Now().Add(time.Minute).Unix()}), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tc.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d got %d", tc.status, resp.StatusCode)
			}
			if tc.status == http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				if string(body) != owner {
					t.Fatalf("expected owner %s in locals, got %s", owner, body)
				}
			}
		})
	}
}

func TestRequireOperator(t *testing.T) {
	secret := []byte("test-secret")
	logger := logging.Discard()
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger)})
	app.Use(Authenticate(secret, logger))
	app.Post("/credit", RequireOperator(), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusCreated)
	})

	sign := func(claims map[string]any) string {
		claims["sub"] = uuid.NewString()
		claims["exp"] = time.Now().Add(time.Minute).Unix()
		token, err := auth.SignHS256(claims, secret)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return "Bearer " + token
	}

	cases := []struct {
		name   string
		claims map[string]any
		status int
	}{
		{"customer", map[string]any{}, http.StatusForbidden},
		{"other role", map[string]any{"role": "auditor"}, http.StatusForbidden},
		{"operator", map[string]any{"roles": []string{auth.RoleOperator}}, http.StatusCreated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodPost, "/credit", nil)
			req.Header.Set(fiber.HeaderAuthorization, sign(tc.claims))
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d got %d", tc.status, resp.StatusCode)
			}
		})
	}
}

func TestPINAttemptLimit(t *testing.T) {
	cache := newRedis(t)
	logger := logging.Discard()
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger)})
	app.Post("/accounts/:number/withdrawals", PINAttemptLimit(cache, 3, logger), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusCreated)
	})

	hit := func(number string) int {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/accounts/"+number+"/withdrawals", nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	for i := 0; i < 3; i++ {
		if status := hit("100000000001"); status != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d", i+1, status)
		}
	}
	if status := hit("100000000001"); status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", status)
	}
	if status := hit("100000000002"); status != http.StatusCreated {
		t.Fatalf("limit must be per account, got %d", status)
	}
}

func TestErrorHandlerMapsCodes(t *testing.T) {
	logger := logging.Discard()
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger)})
	errs := map[string]error{
		"funds":   bankerr.ErrInsufficientFunds,
		"busy":    bankerr.Wrap(bankerr.Busy, "account is busy", errors.New("timeout")),
		"missing": fmt.Errorf("lookup: %w", bankerr.ErrAccountNotFound),
		"fiber":   fiber.ErrMethodNotAllowed,
		"plain":   errors.New("boom"),
		"staff":   bankerr.ErrForbidden,
	}
	app.Get("/:name", func(c *fiber.Ctx) error { return errs[c.Params("name")] })

	cases := []struct {
		name   string
		status int
		code   string
	}{
		{"funds", http.StatusUnprocessableEntity, "insufficient_funds"},
		{"busy", http.StatusTooManyRequests, "busy"},
		{"missing", http.StatusNotFound, "account_not_found"},
		{"fiber", http.StatusMethodNotAllowed, "http_error"},
		{"plain", http.StatusInternalServerError, "internal"},
		{"staff", http.StatusForbidden, "forbidden"},
	}
	for _, tc := range cases {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/"+tc.name, nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tc.status || !strings.Contains(string(body), `"code":"`+tc.code+`"`) {
			t.Fatalf("%s: unexpected %d %s", tc.name, resp.StatusCode, body)
		}
		if tc.name == "busy" && resp.Header.Get(fiber.HeaderRetryAfter) == "" {
			t.Fatalf("expected Retry-After on retryable errors")
		}
		if tc.name == "plain" && strings.Contains(string(body), "boom") {
			t.Fatalf("internal error details leaked: %s", body)
		}
	}
}
