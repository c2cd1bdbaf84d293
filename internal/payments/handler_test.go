package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledger/internal/httpx"
	"github.com/congo-pay/ledger/internal/ledger"
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
	app.Post("/wallet/transfers", h.Transfer)
	return app
}

func doTransfer(t *testing.T, app *fiber.App, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/wallet/transfers", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func TestHandlerTransfer(t *testing.T) {
	svc, store, _, _ := newTestService(t, "alice", "bob")
	if _, err := ledger.SeedBalance(context.Background(), store, "alice", 500); err != nil {
		t.Fatalf("seed: %v", err)
	}
	app := newTestApp(NewHandler(svc, 2), "alice")

	resp := doTransfer(t, app, `{"recipient_id":"bob","amount":250,"description":"rent"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var view httpx.TransactionView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Kind != "TRANSFER_OUT" || view.Amount != -250 || view.AmountDisplay != "-2.50" || view.CounterpartyID != "bob" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestHandlerTransferErrors(t *testing.T) {
	svc, _, _, _ := newTestService(t, "alice", "bob")
	app := newTestApp(NewHandler(svc, 0), "alice")

	cases := map[string]int{
		`{"recipient_id":"bob","amount":0}`:                http.StatusBadRequest,
		`{"recipient_id":"bob","amount":1000000000000001}`: http.StatusBadRequest,
		`{"amount":10}`:                                    http.StatusBadRequest,
		`{"recipient_id":"alice","amount":10}`:             http.StatusBadRequest,
		`{"recipient_id":"zed","amount":10}`:               http.StatusNotFound,
		`{"recipient_id":"bob","amount":10}`:               http.StatusUnprocessableEntity,
		`not json`:                                         http.StatusBadRequest,
	}
	for body, want := range cases {
		if resp := doTransfer(t, app, body); resp.StatusCode != want {
			t.Fatalf("%s: expected %d, got %d", body, want, resp.StatusCode)
		}
	}
}
