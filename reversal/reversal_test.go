package reversal_test

import (
	"context"
	"testing"
	"time"

	"github.com/nilm987521/fep/pipeline"
	"github.com/nilm987521/fep/processor"
	"github.com/nilm987521/fep/reversal"
	"github.com/nilm987521/fep/txn"
	"github.com/nilm987521/fep/txn/memory"
	"github.com/nilm987521/fep/validate"
)

// TestReversalEndToEnd reverses a prior APPROVED transaction: the
// original becomes REVERSED and a second reversal attempt fails with
// NotReversible.
func TestReversalEndToEnd(t *testing.T) {
	t.Parallel()
	repo := memory.New()
	ctx := context.Background()

	original := &txn.Transaction{
		TransactionID:   "TXN-A",
		Status:          txn.StatusApproved,
		STAN:            "000001",
		RRN:             "RRN000001",
		TerminalID:      "ATM00001",
		TransactionDate: time.Now().Format("2006-01-02"),
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := repo.Save(ctx, original); err != nil {
		t.Fatalf("save original: %v", err)
	}

	router := processor.NewRouter(processor.Defaults()...)
	rules, _ := validate.ParseText("")
	p := pipeline.New(repo, rules, router, 5, nil)
	svc := reversal.New(repo, p)

	result, err := svc.Reverse(ctx, "TXN-A", "manual")
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}

	// Re-fetch the reversal's own audit row: the reference to the
	// original must have been persisted, not just set on the in-flight
	// struct.
	saved, err := repo.FindByTransactionID(ctx, result.Transaction.TransactionID)
	if err != nil {
		t.Fatalf("find reversal record: %v", err)
	}
	if saved.OriginalTransactionID != "TXN-A" {
		t.Fatalf("persisted reversal references %q, want TXN-A", saved.OriginalTransactionID)
	}

	got, err := repo.FindByTransactionID(ctx, "TXN-A")
	if err != nil {
		t.Fatalf("find TXN-A: %v", err)
	}
	if got.CurrentStatus() != txn.StatusReversed {
		t.Fatalf("TXN-A status = %s, want REVERSED", got.CurrentStatus())
	}

	if _, err := svc.Reverse(ctx, "TXN-A", "manual"); err != txn.ErrNotReversible {
		t.Fatalf("expected NotReversible on second reversal, got %v", err)
	}
}
