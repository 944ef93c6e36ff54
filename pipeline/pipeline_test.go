package pipeline_test

import (
	"context"
	"testing"

	"github.com/nilm987521/fep/iso8583"
	"github.com/nilm987521/fep/pipeline"
	"github.com/nilm987521/fep/processor"
	"github.com/nilm987521/fep/txn"
	"github.com/nilm987521/fep/txn/memory"
	"github.com/nilm987521/fep/validate"
)

func withdrawalMessage() *iso8583.Message {
	return iso8583.NewMessage("0200", map[int][]byte{
		2:  []byte("4111111111111111"),
		3:  []byte("010000"),
		4:  []byte("000000010000"),
		11: []byte("000001"),
		37: []byte("RRN000001"),
		41: []byte("ATM00001"),
	})
}

func newPipeline() *pipeline.Pipeline {
	repo := memory.New()
	rules, _ := validate.ParseText("REQUIRED:2,3,4,11,41")
	router := processor.NewRouter(processor.Defaults()...)
	return pipeline.New(repo, rules, router, 5, nil)
}

// TestHappyPathWithdrawal drives a 0200 withdrawal end to end through
// the stage chain and checks the approved 0210 response.
func TestHappyPathWithdrawal(t *testing.T) {
	t.Parallel()
	p := newPipeline()

	result, err := p.Execute(context.Background(), withdrawalMessage(), processor.TypeWithdrawal)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Response.MTI != "0210" {
		t.Fatalf("MTI = %q, want 0210", result.Response.MTI)
	}
	if v, _ := result.Response.FieldString(39); v != "00" {
		t.Fatalf("field 39 = %q, want 00", v)
	}
	if result.Transaction.CurrentStatus() != txn.StatusApproved {
		t.Fatalf("status = %s, want APPROVED", result.Transaction.CurrentStatus())
	}
}

// TestDuplicateDetection checks that submitting the same
// RRN/STAN/terminal twice within the window short-circuits the second
// attempt without a second processor invocation, while both attempts
// still produce an audit row.
func TestDuplicateDetection(t *testing.T) {
	t.Parallel()
	p := newPipeline()
	ctx := context.Background()

	first, err := p.Execute(ctx, withdrawalMessage(), processor.TypeWithdrawal)
	if err != nil {
		t.Fatalf("execute 1: %v", err)
	}
	if v, _ := first.Response.FieldString(39); v != "00" {
		t.Fatalf("first response field 39 = %q, want 00", v)
	}

	second, err := p.Execute(ctx, withdrawalMessage(), processor.TypeWithdrawal)
	if err != nil {
		t.Fatalf("execute 2: %v", err)
	}
	if v, _ := second.Response.FieldString(39); v == "00" {
		t.Fatalf("expected non-approval response code on duplicate, got %q", v)
	}
	if first.Transaction.TransactionID == second.Transaction.TransactionID {
		t.Fatalf("expected two distinct audit rows")
	}
}

// TestValidationFailureBlocksProcessing checks that a message
// missing a required field short-circuits with no routing/processing and
// an audit record carrying the validation error.
func TestValidationFailureBlocksProcessing(t *testing.T) {
	t.Parallel()
	p := newPipeline()

	msg := iso8583.NewMessage("0200", map[int][]byte{
		2:  []byte("4111111111111111"),
		3:  []byte("010000"),
		4:  []byte("000000010000"),
		41: []byte("ATM00001"),
	})

	result, err := p.Execute(context.Background(), msg, processor.TypeWithdrawal)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Transaction.CurrentStatus() != txn.StatusFailed {
		t.Fatalf("status = %s, want FAILED", result.Transaction.CurrentStatus())
	}
	if result.Transaction.ErrorDetails != "Required field 11 is missing" {
		t.Fatalf("error details = %q", result.Transaction.ErrorDetails)
	}
	if v, _ := result.Response.FieldString(39); v == "00" {
		t.Fatalf("expected non-approval response on validation failure")
	}
}
