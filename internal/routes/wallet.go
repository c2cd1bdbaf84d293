package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledger/internal/funding"
	"github.com/congo-pay/ledger/internal/payments"
	"github.com/congo-pay/ledger/internal/stats"
	"github.com/congo-pay/ledger/internal/wallet"
)

// RegisterWalletRoutes wires the caller's wallet endpoints.
func RegisterWalletRoutes(r fiber.Router, wallets *wallet.Handler, summary *stats.Handler, funds *funding.Handler, transfers *payments.Handler) {
	group := r.Group("/wallet")
	group.Get("", wallets.Get)
	group.Get("/transactions", wallets.Transactions)
	group.Get("/transactions/:transactionId", wallets.Transaction)
	group.Get("/stats", summary.Get)
	group.Post("/deposits", funds.Deposit)
	group.Post("/withdrawals", funds.Withdraw)
	group.Post("/transfers", transfers.Transfer)
}
