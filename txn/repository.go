package txn

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by single-record lookups that miss.
var ErrNotFound = errors.New("txn: record not found")

// ErrNotReversible is returned when a reversal is attempted against a
// transaction whose status is not in the reversible set.
var ErrNotReversible = errors.New("txn: original transaction is not reversible")

// Repository is the abstract persistence contract. Implementations must
// be safe for concurrent use.
type Repository interface {
	Save(ctx context.Context, t *Transaction) error

	FindByTransactionID(ctx context.Context, transactionID string) (*Transaction, error)
	FindByRRNAndSTAN(ctx context.Context, rrn, stan string) (*Transaction, error)
	FindByRRNSTANTerminal(ctx context.Context, rrn, stan, terminalID string) (*Transaction, error)
	FindByMaskedPANAndDateRange(ctx context.Context, maskedPAN string, from, to time.Time) ([]*Transaction, error)
	FindByTerminalIDAndDateRange(ctx context.Context, terminalID string, from, to time.Time) ([]*Transaction, error)
	FindByStatus(ctx context.Context, status Status) ([]*Transaction, error)

	UpdateStatus(ctx context.Context, transactionID string, status Status) error
	UpdateResponse(ctx context.Context, transactionID, responseCode, authorizationCode string) error

	ExistsByTransactionID(ctx context.Context, transactionID string) (bool, error)

	// IsDuplicate reports whether a transaction with the same rrn, stan
	// and terminalID was recorded within windowMinutes of now.
	IsDuplicate(ctx context.Context, rrn, stan, terminalID string, windowMinutes int) (bool, error)

	CountByStatusAndDate(ctx context.Context, status Status, date string) (int64, error)

	// FindOriginalForReversal returns the original transaction only if
	// its current status is in the reversible set, otherwise
	// ErrNotReversible.
	FindOriginalForReversal(ctx context.Context, transactionID string) (*Transaction, error)

	// MarkAsReversed atomically transitions the original transaction to
	// REVERSED, recording the reversal transaction's id.
	MarkAsReversed(ctx context.Context, transactionID, reversalTransactionID string) error
}
