package funding

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
)

const testSecret = "whsec_test"

func newTestApp(h *Handler) *fiber.App {
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
		if uid := c.Get("X-Test-User"); uid != "" {
			c.Locals(httpx.LocalUserID, uid)
		}
		return c.Next()
	})
	app.Post("/wallet/deposits", h.Deposit)
	app.Post("/wallet/withdrawals", h.Withdraw)
	app.Post("/webhooks/payments", h.Webhook)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, user string, body []byte, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	return resp
}

func TestHandlerDepositThenSignedWebhook(t *testing.T) {
	f := newFixture(t, nil)
	app := newTestApp(NewHandler(f.service, NewAdapter(f.service), testSecret, 0))

	resp := postJSON(t, app, "/wallet/deposits", "user-a", []byte(`{"amount":1500,"payment_method":"mobile_money"}`), nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created IntentResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.IntentRef == "" || created.Transaction.Status != "PENDING" || created.Transaction.AmountDisplay != "1500" {
		t.Fatalf("unexpected deposit response: %+v", created)
	}

	payload, _ := json.Marshal(WebhookRequest{IntentRef: created.IntentRef, TransactionID: created.Transaction.ID, Outcome: "COMPLETED"})

	resp = postJSON(t, app, "/webhooks/payments", "", payload, map[string]string{SignatureHeader: "deadbeef"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", resp.StatusCode)
	}

	signed := map[string]string{SignatureHeader: Sign([]byte(testSecret), payload)}
	resp = postJSON(t, app, "/webhooks/payments", "", payload, signed)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var ack WebhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ack.Applied || ack.Transaction.Status != "COMPLETED" {
		t.Fatalf("unexpected webhook ack: %+v", ack)
	}

	resp = postJSON(t, app, "/webhooks/payments", "", payload, signed)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected redelivery to succeed, got %d", resp.StatusCode)
	}
	if w := f.balance(t, "user-a"); w.Balance != 1_500 {
		t.Fatalf("expected balance 1500, got %d", w.Balance)
	}
}

func TestHandlerRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t, nil)
	app := newTestApp(NewHandler(f.service, NewAdapter(f.service), testSecret, 2))

	if resp := postJSON(t, app, "/wallet/deposits", "", []byte(`{"amount":10,"payment_method":"card"}`), nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user, got %d", resp.StatusCode)
	}
	if resp := postJSON(t, app, "/wallet/deposits", "user-a", []byte(`{"amount":0,"payment_method":"card"}`), nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero amount, got %d", resp.StatusCode)
	}
	if resp := postJSON(t, app, "/wallet/deposits", "user-a", []byte(`{"amount":1000000000000001,"payment_method":"card"}`), nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for amount above the cap, got %d", resp.StatusCode)
	}
	body := []byte(`{"amount":10,"withdrawal_method":"bank","account_details":"x"}`)
	if resp := postJSON(t, app, "/wallet/withdrawals", "user-a", body, nil); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for empty wallet, got %d", resp.StatusCode)
	}

	unknown := []byte(`{"intent_ref":"int_missing","outcome":"COMPLETED"}`)
	resp := postJSON(t, app, "/webhooks/payments", "", unknown, map[string]string{SignatureHeader: Sign([]byte(testSecret), unknown)})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown intent, got %d", resp.StatusCode)
	}
}

func TestHandlerGatewayFailureReturnsPendingTransaction(t *testing.T) {
	f := newFixture(t, ProcessorFunc(func(context.Context, IntentRequest) (Receipt, error) {
		return Receipt{}, errors.New("timeout")
	}))
	app := newTestApp(NewHandler(f.service, NewAdapter(f.service), testSecret, 0))

	resp := postJSON(t, app, "/wallet/deposits", "user-a", []byte(`{"amount":10,"payment_method":"card"}`), nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	var body IntentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Transaction.ID == "" || body.Transaction.Status != "PENDING" {
		t.Fatalf("expected pending transaction in body, got %+v", body)
	}
}
