// Package postgres is the RDBMS txn.Repository implementation:
// gorm.io/gorm over gorm.io/driver/postgres, AutoMigrate on open,
// gorm.ErrRecordNotFound translated to the domain sentinels.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/nilm987521/fep/txn"
)

// Repository is a gorm.io/gorm-backed txn.Repository.
type Repository struct {
	db *gorm.DB
}

// Open connects to dsn and runs AutoMigrate for the transaction table.
func Open(dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("txn/postgres: connect: %w", err)
	}
	if err := db.AutoMigrate(&model{}); err != nil {
		return nil, fmt.Errorf("txn/postgres: migrate: %w", err)
	}
	return &Repository{db: db}, nil
}

// New wraps an already-open *gorm.DB, e.g. one built by tests against a
// testcontainers-managed Postgres instance.
func New(db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(&model{}); err != nil {
		return nil, fmt.Errorf("txn/postgres: migrate: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Save(ctx context.Context, t *txn.Transaction) error {
	m := fromDomain(t)
	return r.db.WithContext(ctx).Save(m).Error
}

func (r *Repository) FindByTransactionID(ctx context.Context, transactionID string) (*txn.Transaction, error) {
	var m model
	err := r.db.WithContext(ctx).First(&m, "transaction_id = ?", transactionID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return m.toDomain(), nil
}

func (r *Repository) FindByRRNAndSTAN(ctx context.Context, rrn, stan string) (*txn.Transaction, error) {
	var m model
	err := r.db.WithContext(ctx).First(&m, "rrn = ? AND stan = ?", rrn, stan).Error
	if err != nil {
		return nil, notFound(err)
	}
	return m.toDomain(), nil
}

func (r *Repository) FindByRRNSTANTerminal(ctx context.Context, rrn, stan, terminalID string) (*txn.Transaction, error) {
	var m model
	err := r.db.WithContext(ctx).First(&m, "rrn = ? AND stan = ? AND terminal_id = ?", rrn, stan, terminalID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return m.toDomain(), nil
}

func (r *Repository) FindByMaskedPANAndDateRange(ctx context.Context, maskedPAN string, from, to time.Time) ([]*txn.Transaction, error) {
	var ms []model
	err := r.db.WithContext(ctx).
		Where("masked_pan = ? AND created_at BETWEEN ? AND ?", maskedPAN, from, to).
		Order("created_at").Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return toDomainSlice(ms), nil
}

func (r *Repository) FindByTerminalIDAndDateRange(ctx context.Context, terminalID string, from, to time.Time) ([]*txn.Transaction, error) {
	var ms []model
	err := r.db.WithContext(ctx).
		Where("terminal_id = ? AND created_at BETWEEN ? AND ?", terminalID, from, to).
		Order("created_at").Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return toDomainSlice(ms), nil
}

func (r *Repository) FindByStatus(ctx context.Context, status txn.Status) ([]*txn.Transaction, error) {
	var ms []model
	err := r.db.WithContext(ctx).Where("status = ?", string(status)).Order("created_at").Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return toDomainSlice(ms), nil
}

func (r *Repository) UpdateStatus(ctx context.Context, transactionID string, status txn.Status) error {
	res := r.db.WithContext(ctx).Model(&model{}).
		Where("transaction_id = ?", transactionID).
		Updates(map[string]any{"status": string(status), "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return txn.ErrNotFound
	}
	return nil
}

func (r *Repository) UpdateResponse(ctx context.Context, transactionID, responseCode, authorizationCode string) error {
	res := r.db.WithContext(ctx).Model(&model{}).
		Where("transaction_id = ?", transactionID).
		Updates(map[string]any{
			"response_code":      responseCode,
			"authorization_code": authorizationCode,
			"responded_at":       time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return txn.ErrNotFound
	}
	return nil
}

func (r *Repository) ExistsByTransactionID(ctx context.Context, transactionID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model{}).Where("transaction_id = ?", transactionID).Count(&count).Error
	return count > 0, err
}

func (r *Repository) IsDuplicate(ctx context.Context, rrn, stan, terminalID string, windowMinutes int) (bool, error) {
	cutoff := time.Now().Add(-time.Duration(windowMinutes) * time.Minute)
	var count int64
	err := r.db.WithContext(ctx).Model(&model{}).
		Where("rrn = ? AND stan = ? AND terminal_id = ? AND created_at >= ?", rrn, stan, terminalID, cutoff).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) CountByStatusAndDate(ctx context.Context, status txn.Status, date string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model{}).
		Where("status = ? AND transaction_date = ?", string(status), date).
		Count(&count).Error
	return count, err
}

func (r *Repository) FindOriginalForReversal(ctx context.Context, transactionID string) (*txn.Transaction, error) {
	t, err := r.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !t.CurrentStatus().IsReversible() {
		return nil, txn.ErrNotReversible
	}
	return t, nil
}

func (r *Repository) MarkAsReversed(ctx context.Context, transactionID, reversalTransactionID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, "transaction_id = ?", transactionID).Error; err != nil {
			return notFound(err)
		}
		if !txn.Status(m.Status).IsReversible() {
			return txn.ErrNotReversible
		}
		res := tx.Model(&model{}).Where("transaction_id = ?", transactionID).
			Updates(map[string]any{
				"status":                  string(txn.StatusReversed),
				"reversal_transaction_id": reversalTransactionID,
				"updated_at":              time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return txn.ErrNotFound
		}
		return nil
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return txn.ErrNotFound
	}
	return err
}

func toDomainSlice(ms []model) []*txn.Transaction {
	out := make([]*txn.Transaction, 0, len(ms))
	for i := range ms {
		out = append(out, ms[i].toDomain())
	}
	return out
}
