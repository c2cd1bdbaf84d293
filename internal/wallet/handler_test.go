package wallet

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledger/internal/httpx"
)

func newTestApp(h *Handler, user string) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := http.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(httpx.LocalUserID, user)
		return c.Next()
	})
	app.Get("/wallet", h.Get)
	app.Get("/wallet/transactions", h.Transactions)
	app.Get("/wallet/transactions/:transactionId", h.Transaction)
	return app
}

func get(t *testing.T, app *fiber.App, path string) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func TestHandlerWalletAndHistory(t *testing.T) {
	svc, _, rows := seeded(t, 1_000, 250)
	app := newTestApp(NewHandler(svc, "XAF", 0), "user-a")

	resp := get(t, app, "/wallet")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var w httpx.WalletView
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		t.Fatalf("decode wallet: %v", err)
	}
	if w.Balance != 1_250 || w.Available != 1_250 || w.BalanceDisplay != "1250" || w.Currency != "XAF" {
		t.Fatalf("unexpected wallet view: %+v", w)
	}

	resp = get(t, app, "/wallet/transactions?limit=1&kind=deposit")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var list listResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || !list.HasMore || list.Items[0].ID != rows[1].ID {
		t.Fatalf("unexpected list: %+v", list)
	}

	resp = get(t, app, "/wallet/transactions/"+rows[0].ID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHandlerRejectsBadQueriesAndForeignRows(t *testing.T) {
	svc, _, rows := seeded(t, 10)
	app := newTestApp(NewHandler(svc, "XAF", 0), "user-b")

	for _, path := range []string{
		"/wallet/transactions?page=0",
		"/wallet/transactions?limit=101",
		"/wallet/transactions?kind=refund",
	} {
		if resp := get(t, app, path); resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, resp.StatusCode)
		}
	}
	if resp := get(t, app, "/wallet/transactions/"+rows[0].ID); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's transaction, got %d", resp.StatusCode)
	}
}
