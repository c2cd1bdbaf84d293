package ledger

import "context"

// SeedBalance credits amount to userID through a completed deposit so the
// balance stays equal to the sum of the log. Intended for tests.
func SeedBalance(ctx context.Context, store Store, userID string, amount int64) (Transaction, error) {
	var seeded Transaction
	err := store.WithinTx(ctx, func(tx Tx) error {
		t, err := tx.AppendTransaction(ctx, Transaction{
			UserID: userID,
			Kind:   KindDeposit,
			Amount: amount,
			Method: "seed",
		})
		if err != nil {
			return err
		}
		if err := tx.TransitionTransaction(ctx, t.ID, StatusPending, StatusCompleted); err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, userID, amount); err != nil {
			return err
		}
		t.Status = StatusCompleted
		seeded = t
		return nil
	})
	return seeded, err
}
