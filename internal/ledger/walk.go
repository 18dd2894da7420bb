package ledger

import (
	"context"
	"iter"
)

// HistoryReader is the read side of a Store used by Walk.
type HistoryReader interface {
	Entries(ctx context.Context, number string, page Page) (EntryPage, error)
}

// Walk yields the history of number newest first, fetching pageSize entries
// at a time. Iteration stops at the first error, which is yielded once.
func Walk(ctx context.Context, r HistoryReader, number string, pageSize int) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		page := Page{Limit: pageSize}
		for {
			res, err := r.Entries(ctx, number, page)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range res.Entries {
				if !yield(e, nil) {
					return
				}
			}
			if res.NextCursor == 0 {
				return
			}
			page.Cursor = res.NextCursor
		}
	}
}
