// Package memory is the in-memory Repository implementation: one map
// guarded by a single sync.RWMutex, safe under concurrent read/write. It is the default
// backend for tests and for the batch driver's own exercises.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nilm987521/fep/dedup"
	"github.com/nilm987521/fep/txn"
)

// Repository is a concurrent map-backed txn.Repository.
type Repository struct {
	mu       sync.RWMutex
	byID     map[string]*txn.Transaction
	detector *dedup.Detector
}

// New builds an empty Repository.
func New() *Repository {
	return &Repository{
		byID:     make(map[string]*txn.Transaction),
		detector: dedup.New(),
	}
}

func (r *Repository) Save(ctx context.Context, t *txn.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.TransactionID] = t
	return nil
}

func (r *Repository) FindByTransactionID(ctx context.Context, transactionID string) (*txn.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[transactionID]
	if !ok {
		return nil, txn.ErrNotFound
	}
	return t, nil
}

func (r *Repository) FindByRRNAndSTAN(ctx context.Context, rrn, stan string) (*txn.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.byID {
		if t.RRN == rrn && t.STAN == stan {
			return t, nil
		}
	}
	return nil, txn.ErrNotFound
}

func (r *Repository) FindByRRNSTANTerminal(ctx context.Context, rrn, stan, terminalID string) (*txn.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.byID {
		if t.RRN == rrn && t.STAN == stan && t.TerminalID == terminalID {
			return t, nil
		}
	}
	return nil, txn.ErrNotFound
}

func (r *Repository) FindByMaskedPANAndDateRange(ctx context.Context, maskedPAN string, from, to time.Time) ([]*txn.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*txn.Transaction
	for _, t := range r.byID {
		if t.MaskedPAN == maskedPAN && withinRange(t.CreatedAt, from, to) {
			out = append(out, t)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

func (r *Repository) FindByTerminalIDAndDateRange(ctx context.Context, terminalID string, from, to time.Time) ([]*txn.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*txn.Transaction
	for _, t := range r.byID {
		if t.TerminalID == terminalID && withinRange(t.CreatedAt, from, to) {
			out = append(out, t)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

func (r *Repository) FindByStatus(ctx context.Context, status txn.Status) ([]*txn.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*txn.Transaction
	for _, t := range r.byID {
		if t.CurrentStatus() == status {
			out = append(out, t)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, transactionID string, status txn.Status) error {
	r.mu.RLock()
	t, ok := r.byID[transactionID]
	r.mu.RUnlock()
	if !ok {
		return txn.ErrNotFound
	}
	return t.Transition(status)
}

func (r *Repository) UpdateResponse(ctx context.Context, transactionID, responseCode, authorizationCode string) error {
	r.mu.RLock()
	t, ok := r.byID[transactionID]
	r.mu.RUnlock()
	if !ok {
		return txn.ErrNotFound
	}
	t.ResponseCode = responseCode
	t.AuthorizationCode = authorizationCode
	t.RespondedAt = time.Now()
	return nil
}

func (r *Repository) ExistsByTransactionID(ctx context.Context, transactionID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[transactionID]
	return ok, nil
}

// IsDuplicate adapts dedup.Detector's sliding-window probe to the
// repository contract. The probe itself is what gets recorded: saved
// records are not consulted, and a second call with the same
// rrn/stan/terminal within the window reports true even if nothing was
// saved in between.
func (r *Repository) IsDuplicate(ctx context.Context, rrn, stan, terminalID string, windowMinutes int) (bool, error) {
	key := dedup.Key(rrn, stan, terminalID)
	window := time.Duration(windowMinutes) * time.Minute
	return r.detector.Seen(key, time.Now(), window), nil
}

func (r *Repository) CountByStatusAndDate(ctx context.Context, status txn.Status, date string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, t := range r.byID {
		if t.CurrentStatus() == status && t.TransactionDate == date {
			n++
		}
	}
	return n, nil
}

func (r *Repository) FindOriginalForReversal(ctx context.Context, transactionID string) (*txn.Transaction, error) {
	r.mu.RLock()
	t, ok := r.byID[transactionID]
	r.mu.RUnlock()
	if !ok {
		return nil, txn.ErrNotFound
	}
	if !t.CurrentStatus().IsReversible() {
		return nil, txn.ErrNotReversible
	}
	return t, nil
}

func (r *Repository) MarkAsReversed(ctx context.Context, transactionID, reversalTransactionID string) error {
	r.mu.RLock()
	t, ok := r.byID[transactionID]
	r.mu.RUnlock()
	if !ok {
		return txn.ErrNotFound
	}
	if !t.CurrentStatus().IsReversible() {
		return txn.ErrNotReversible
	}
	if err := t.Transition(txn.StatusReversed); err != nil {
		return err
	}
	t.ReversalTransactionID = reversalTransactionID
	return nil
}

func withinRange(v, from, to time.Time) bool {
	return !v.Before(from) && !v.After(to)
}

func sortByCreatedAt(ts []*txn.Transaction) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].CreatedAt.Before(ts[j].CreatedAt) })
}
