package routes

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/onlinebank/onlinebank/internal/auth"
	"github.com/onlinebank/onlinebank/internal/config"
	"github.com/onlinebank/onlinebank/internal/middleware"
	"github.com/onlinebank/onlinebank/internal/notification"
	"github.com/onlinebank/onlinebank/internal/telemetry"
)

const testSecret = "route-test-secret"

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	tel := telemetry.Discard()
	cfg := config.Config{
		AppName:     "OnlineBank",
		AppEnv:      "test",
		LogFormat:   "json",
		JWTSecret:   testSecret,
		LockBackend: config.LockBackendLocal,
		LockTimeout: time.Second,
		BcryptCost:  4,
		PINAttempts: 5,
	}
	dispatcher := notification.NewDispatcher(notification.NewLoggerNotifier(tel.Logger), time.Second, tel)
	t.Cleanup(dispatcher.Wait)

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(tel.Logger)})
	if err := Setup(app, Deps{Cfg: cfg, Tel: tel, Dispatcher: dispatcher}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return app
}

func tokenFor(t *testing.T, owner string, roles ...string) string {
	t.Helper()
	claims := map[string]any{
		"sub": owner,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	tok, err := auth.SignHS256(claims, []byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func call(t *testing.T, app *fiber.App, method, path, token string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type accountBody struct {
	Number  string `json:"account_number"`
	Balance string `json:"balance"`
	HasPIN  bool   `json:"has_pin"`
}

type errorBody struct {
	Code  string `json:"code"`
	Field string `json:"field"`
}

func openAccount(t *testing.T, app *fiber.App, token string) accountBody {
	t.Helper()
	var acct accountBody
	if status := call(t, app, http.MethodPost, "/api/v1/accounts", token, map[string]string{"kind": "checking"}, &acct); status != http.StatusCreated {
		t.Fatalf("open account: status %d", status)
	}
	return acct
}

func TestHealthAndPing(t *testing.T) {
	app := newTestApp(t)

	var health map[string]any
	if status := call(t, app, http.MethodGet, "/healthz", "", nil, &health); status != http.StatusOK {
		t.Fatalf("health: status %d", status)
	}
	if status := call(t, app, http.MethodGet, "/api/v1/ping", "", nil, nil); status != http.StatusOK {
		t.Fatalf("ping: status %d", status)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app := newTestApp(t)

	var e errorBody
	if status := call(t, app, http.MethodPost, "/api/v1/accounts", "", map[string]string{}, &e); status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	if e.Code != "bad_credential" {
		t.Fatalf("unexpected error code %q", e.Code)
	}
}

func TestTransferFlow(t *testing.T) {
	app := newTestApp(t)
	alice := tokenFor(t, uuid.NewString())
	bob := tokenFor(t, uuid.NewString())
	teller := tokenFor(t, uuid.NewString(), auth.RoleOperator)

	from := openAccount(t, app, alice)
	to := openAccount(t, app, bob)
	base := "/api/v1/accounts/" + from.Number

	var pin map[string]any
	if status := call(t, app, http.MethodPost, base+"/pin", alice, map[string]string{"pin": "1234", "confirm_pin": "1234"}, &pin); status != http.StatusOK {
		t.Fatalf("set pin: status %d", status)
	}

	var deposit struct {
		Balance string `json:"balance"`
	}
	if status := call(t, app, http.MethodPost, base+"/deposits", teller, map[string]string{"amount": "1500.00", "reference": "dep-1"}, &deposit); status != http.StatusCreated {
		t.Fatalf("deposit: status %d", status)
	}
	if deposit.Balance != "1500.00" {
		t.Fatalf("expected balance 1500.00, got %s", deposit.Balance)
	}
	if status := call(t, app, http.MethodPost, base+"/deposits", teller, map[string]string{"amount": "1500.00", "reference": "dep-1"}, nil); status != http.StatusOK {
		t.Fatalf("replayed deposit: expected 200, got %d", status)
	}

	var tr struct {
		TransferID    string `json:"transfer_id"`
		SenderBalance string `json:"sender_balance"`
	}
	status := call(t, app, http.MethodPost, base+"/transfers", alice, map[string]string{
		"receiver_account": to.Number,
		"amount":           "200.00",
		"pin":              "1234",
	}, &tr)
	if status != http.StatusCreated {
		t.Fatalf("transfer: status %d", status)
	}
	if tr.TransferID == "" || tr.SenderBalance != "1300.00" {
		t.Fatalf("unexpected transfer response %+v", tr)
	}

	var receiver accountBody
	if status := call(t, app, http.MethodGet, "/api/v1/accounts/"+to.Number, bob, nil, &receiver); status != http.StatusOK {
		t.Fatalf("get receiver: status %d", status)
	}
	if receiver.Balance != "200.00" {
		t.Fatalf("expected receiver balance 200.00, got %s", receiver.Balance)
	}

	var history struct {
		Entries []struct {
			Kind   string `json:"kind"`
			Amount string `json:"amount"`
		} `json:"entries"`
	}
	if status := call(t, app, http.MethodGet, base+"/transactions?limit=10", alice, nil, &history); status != http.StatusOK {
		t.Fatalf("history: status %d", status)
	}
	if len(history.Entries) != 2 || history.Entries[0].Kind != "debit" || history.Entries[0].Amount != "200.00" {
		t.Fatalf("unexpected history %+v", history.Entries)
	}

	var rec struct {
		Balance  string `json:"balance"`
		Balanced bool   `json:"balanced"`
	}
	if status := call(t, app, http.MethodGet, base+"/reconciliation", alice, nil, &rec); status != http.StatusOK {
		t.Fatalf("reconcile: status %d", status)
	}
	if !rec.Balanced || rec.Balance != "1300.00" {
		t.Fatalf("unexpected reconciliation %+v", rec)
	}
}

func TestTransferRejections(t *testing.T) {
	app := newTestApp(t)
	alice := tokenFor(t, uuid.NewString())
	bob := tokenFor(t, uuid.NewString())
	teller := tokenFor(t, uuid.NewString(), auth.RoleOperator)

	from := openAccount(t, app, alice)
	to := openAccount(t, app, bob)
	base := "/api/v1/accounts/" + from.Number

	if status := call(t, app, http.MethodPost, base+"/pin", alice, map[string]string{"pin": "1234", "confirm_pin": "1234"}, nil); status != http.StatusOK {
		t.Fatalf("set pin: status %d", status)
	}
	if status := call(t, app, http.MethodPost, base+"/deposits", teller, map[string]string{"amount": "50.00"}, nil); status != http.StatusCreated {
		t.Fatalf("deposit: status %d", status)
	}

	cases := []struct {
		name   string
		token  string
		body   map[string]string
		status int
		code   string
	}{
		{"not owner", bob, map[string]string{"receiver_account": to.Number, "amount": "1.00", "pin": "1234"}, http.StatusForbidden, "not_owner"},
		{"wrong pin", alice, map[string]string{"receiver_account": to.Number, "amount": "1.00", "pin": "9999"}, http.StatusUnauthorized, "bad_credential"},
		{"insufficient funds", alice, map[string]string{"receiver_account": to.Number, "amount": "50.01", "pin": "1234"}, http.StatusUnprocessableEntity, "insufficient_funds"},
		{"self transfer", alice, map[string]string{"receiver_account": from.Number, "amount": "1.00", "pin": "1234"}, http.StatusBadRequest, "self_transfer"},
		{"bad amount", alice, map[string]string{"receiver_account": to.Number, "amount": "1.001", "pin": "1234"}, http.StatusBadRequest, "invalid_amount"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var e errorBody
			if status := call(t, app, http.MethodPost, base+"/transfers", tc.token, tc.body, &e); status != tc.status {
				t.Fatalf("expected %d, got %d (%+v)", tc.status, status, e)
			}
			if e.Code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, e.Code)
			}
		})
	}

	var acct accountBody
	call(t, app, http.MethodGet, base, alice, nil, &acct)
	if acct.Balance != "50.00" {
		t.Fatalf("rejections must not move funds, balance %s", acct.Balance)
	}
}

func TestDepositsNeedOperator(t *testing.T) {
	app := newTestApp(t)
	alice := tokenFor(t, uuid.NewString())
	acct := openAccount(t, app, alice)
	base := "/api/v1/accounts/" + acct.Number

	var e errorBody
	if status := call(t, app, http.MethodPost, base+"/deposits", alice, map[string]string{"amount": "1000000.00"}, &e); status != http.StatusForbidden {
		t.Fatalf("owner deposit: expected 403, got %d", status)
	}
	if e.Code != "forbidden" {
		t.Fatalf("expected code forbidden, got %q", e.Code)
	}

	var got accountBody
	call(t, app, http.MethodGet, base, alice, nil, &got)
	if got.Balance != "0.00" {
		t.Fatalf("rejected deposit moved funds, balance %s", got.Balance)
	}
}

func TestReactivationNeedsOperator(t *testing.T) {
	app := newTestApp(t)
	alice := tokenFor(t, uuid.NewString())
	teller := tokenFor(t, uuid.NewString(), auth.RoleOperator)
	acct := openAccount(t, app, alice)
	status := "/api/v1/accounts/" + acct.Number + "/status"

	if code := call(t, app, http.MethodPost, status, alice, map[string]string{"status": "frozen"}, nil); code != http.StatusOK {
		t.Fatalf("owner freeze: expected 200, got %d", code)
	}

	var e errorBody
	if code := call(t, app, http.MethodPost, status, alice, map[string]string{"status": "active"}, &e); code != http.StatusForbidden {
		t.Fatalf("owner unfreeze: expected 403, got %d", code)
	}
	if e.Code != "forbidden" {
		t.Fatalf("expected code forbidden, got %q", e.Code)
	}

	var body struct {
		Status string `json:"status"`
	}
	if code := call(t, app, http.MethodPost, status, teller, map[string]string{"status": "active"}, &body); code != http.StatusOK {
		t.Fatalf("operator unfreeze: expected 200, got %d", code)
	}
	if body.Status != "active" {
		t.Fatalf("expected active, got %q", body.Status)
	}
}
