package ledger

import (
	"context"
	"iter"
)

// DefaultPageSize is used by Iterate when pageSize is not positive.
const DefaultPageSize = 100

// Iterate walks a user's transactions newest first, fetching pageSize rows at
// a time. The sequence is lazy and restartable: every range starts over from
// the newest row. An empty kind matches all kinds. A fetch error is yielded
// once and ends the sequence.
func Iterate(ctx context.Context, store Store, userID string, kind Kind, pageSize int) iter.Seq2[Transaction, error] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return func(yield func(Transaction, error) bool) {
		offset := 0
		for {
			page, err := store.ListTransactions(ctx, userID, ListQuery{Kind: kind, Offset: offset, Limit: pageSize})
			if err != nil {
				yield(Transaction{}, err)
				return
			}
			for _, t := range page {
				if !yield(t, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			offset += len(page)
		}
	}
}
