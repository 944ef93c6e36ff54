package postgres_test

import (
	"context"
	"testing"
	"time"

	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/nilm987521/fep/pipeline"
	"github.com/nilm987521/fep/processor"
	"github.com/nilm987521/fep/reversal"
	"github.com/nilm987521/fep/txn"
	fepPostgres "github.com/nilm987521/fep/txn/postgres"
	"github.com/nilm987521/fep/validate"
)

const (
	testUser     = "fep"
	testPassword = "fep"
	testDB       = "fep"
)

// startPostgres launches a Postgres container and returns a connected,
// migrated Repository. It is not skipped when no container runtime is
// available: the Run call fails and t.Fatalf fails the test.
func startPostgres(t *testing.T) *fepPostgres.Repository {
	t.Helper()

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase(testDB),
		tcpostgres.WithUsername(testUser),
		tcpostgres.WithPassword(testPassword),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}

	repo, err := fepPostgres.New(db)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	return repo
}

func TestSaveAndFindByTransactionID(t *testing.T) {
	repo := startPostgres(t)
	ctx := context.Background()

	rec := &txn.Transaction{
		TransactionID:   "TXN-PG-1",
		Status:          txn.StatusPending,
		MaskedPAN:       "411111******1111",
		TerminalID:      "ATM00001",
		TransactionDate: time.Now().Format("2006-01-02"),
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.FindByTransactionID(ctx, "TXN-PG-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.MaskedPAN != rec.MaskedPAN {
		t.Fatalf("masked pan mismatch: %q vs %q", got.MaskedPAN, rec.MaskedPAN)
	}
}

func TestMarkAsReversedEndToEnd(t *testing.T) {
	repo := startPostgres(t)
	ctx := context.Background()

	rec := &txn.Transaction{
		TransactionID:   "TXN-PG-A",
		Status:          txn.StatusApproved,
		TransactionDate: time.Now().Format("2006-01-02"),
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := repo.MarkAsReversed(ctx, "TXN-PG-A", "TXN-PG-A-REV"); err != nil {
		t.Fatalf("markAsReversed: %v", err)
	}

	got, err := repo.FindByTransactionID(ctx, "TXN-PG-A")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != txn.StatusReversed {
		t.Fatalf("expected REVERSED, got %s", got.Status)
	}

	if _, err := repo.FindOriginalForReversal(ctx, "TXN-PG-A"); err != txn.ErrNotReversible {
		t.Fatalf("expected NotReversible on second reversal, got %v", err)
	}
}

// TestReversalServicePersistsOriginalReference drives the reversal
// service end to end against the Postgres backend and re-fetches the
// reversal's own row: unlike the in-memory repository, this backend
// snapshots the record at Save time, so the reference to the original
// must be on the record before the audit stage persists it.
func TestReversalServicePersistsOriginalReference(t *testing.T) {
	repo := startPostgres(t)
	ctx := context.Background()

	original := &txn.Transaction{
		TransactionID:   "TXN-PG-ORIG",
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
	p := pipeline.New(repo, validate.RuleSet{}, router, 5, nil)
	svc := reversal.New(repo, p)

	result, err := svc.Reverse(ctx, "TXN-PG-ORIG", "manual")
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}

	saved, err := repo.FindByTransactionID(ctx, result.Transaction.TransactionID)
	if err != nil {
		t.Fatalf("find reversal row: %v", err)
	}
	if saved.OriginalTransactionID != "TXN-PG-ORIG" {
		t.Fatalf("persisted original_transaction_id = %q, want TXN-PG-ORIG", saved.OriginalTransactionID)
	}
	if saved.Type != processor.TypeReversal {
		t.Fatalf("persisted type = %q, want %q", saved.Type, processor.TypeReversal)
	}

	got, err := repo.FindByTransactionID(ctx, "TXN-PG-ORIG")
	if err != nil {
		t.Fatalf("find original: %v", err)
	}
	if got.Status != txn.StatusReversed {
		t.Fatalf("original status = %s, want REVERSED", got.Status)
	}
}
