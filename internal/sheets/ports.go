// Package sheets defines the outbound ports for the spreadsheet mirror.
package sheets

import (
	"context"

	"bilancio/internal/core"
)

// TransactionAppender writes one transaction row to the mirror sheet. The
// mirror is append-only: deletions stay local, the sheet is an audit trail.
type TransactionAppender interface {
	Append(ctx context.Context, tx core.Transaction) (rowRef string, err error)
}
