package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/nilm987521/fep/txn"
	"github.com/nilm987521/fep/txn/memory"
)

func TestSaveAndFindByTransactionID(t *testing.T) {
	t.Parallel()
	repo := memory.New()
	ctx := context.Background()

	rec := &txn.Transaction{TransactionID: "TXN-1", Status: txn.StatusPending, CreatedAt: time.Now()}
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.FindByTransactionID(ctx, "TXN-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.TransactionID != "TXN-1" {
		t.Fatalf("got %q", got.TransactionID)
	}

	if _, err := repo.FindByTransactionID(ctx, "missing"); err != txn.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIsDuplicateWithinWindow(t *testing.T) {
	t.Parallel()
	repo := memory.New()
	ctx := context.Background()

	dup, err := repo.IsDuplicate(ctx, "RRN1", "000001", "ATM00001", 5)
	if err != nil {
		t.Fatalf("isDuplicate: %v", err)
	}
	if dup {
		t.Fatalf("expected first occurrence not to be a duplicate")
	}

	dup, err = repo.IsDuplicate(ctx, "RRN1", "000001", "ATM00001", 5)
	if err != nil {
		t.Fatalf("isDuplicate: %v", err)
	}
	if !dup {
		t.Fatalf("expected second occurrence within window to be a duplicate")
	}
}

func TestMarkAsReversedRequiresReversibleStatus(t *testing.T) {
	t.Parallel()
	repo := memory.New()
	ctx := context.Background()

	rec := &txn.Transaction{TransactionID: "TXN-A", Status: txn.StatusApproved, CreatedAt: time.Now()}
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := repo.FindOriginalForReversal(ctx, "TXN-A"); err != nil {
		t.Fatalf("expected TXN-A to be reversible, got %v", err)
	}

	if err := repo.MarkAsReversed(ctx, "TXN-A", "TXN-A-REV"); err != nil {
		t.Fatalf("markAsReversed: %v", err)
	}
	if rec.CurrentStatus() != txn.StatusReversed {
		t.Fatalf("expected REVERSED, got %s", rec.CurrentStatus())
	}

	if _, err := repo.FindOriginalForReversal(ctx, "TXN-A"); err != txn.ErrNotReversible {
		t.Fatalf("expected NotReversible for an already-reversed transaction, got %v", err)
	}
}
