// Package reversal drives the compensating-transaction flow:
// locate the original, mint a reversal transaction, run it through the
// pipeline, and atomically mark the original REVERSED on success.
package reversal

import (
	"context"
	"fmt"

	"github.com/nilm987521/fep/iso8583"
	"github.com/nilm987521/fep/pipeline"
	"github.com/nilm987521/fep/processor"
	"github.com/nilm987521/fep/txn"
)

// Service issues reversals against a pipeline/repository pair.
type Service struct {
	Repo     txn.Repository
	Pipeline *pipeline.Pipeline
}

// New builds a Service.
func New(repo txn.Repository, p *pipeline.Pipeline) *Service {
	return &Service{Repo: repo, Pipeline: p}
}

// Reverse reverses originalTransactionID for reason. It returns
// txn.ErrNotReversible if the original is not in a reversible state.
func (s *Service) Reverse(ctx context.Context, originalTransactionID, reason string) (pipeline.Result, error) {
	original, err := s.Repo.FindOriginalForReversal(ctx, originalTransactionID)
	if err != nil {
		return pipeline.Result{}, err
	}

	reversalMsg := iso8583.NewMessage("0200", map[int][]byte{
		11: []byte(original.STAN),
		37: []byte(original.RRN),
		41: []byte(original.TerminalID),
		90: []byte(originalTransactionID), // original data elements: points at the original
	})
	reversalMsg.SetFieldString(25, reason)

	// The pipeline reads field 90 into the record's OriginalTransactionID
	// before the audit stage persists it, so declined and failed reversal
	// attempts reference the original too.
	result, err := s.Pipeline.Execute(ctx, reversalMsg, processor.TypeReversal)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("reversal: pipeline execute: %w", err)
	}

	if result.Transaction.CurrentStatus() != txn.StatusApproved && result.Transaction.CurrentStatus() != txn.StatusCompleted {
		return result, nil
	}

	if err := s.Repo.MarkAsReversed(ctx, originalTransactionID, result.Transaction.TransactionID); err != nil {
		return result, fmt.Errorf("reversal: mark original reversed: %w", err)
	}
	return result, nil
}
