package postgres

import (
	"time"

	"github.com/nilm987521/fep/txn"
)

// model is the GORM row shape backing txn.Transaction. transaction_date
// is the partition key, pan_hash supports equality lookup, masked_pan
// backs display/last-4 matching.
type model struct {
	TransactionID         string `gorm:"primaryKey;column:transaction_id"`
	OriginalTransactionID string `gorm:"column:original_transaction_id;index"`
	ReversalTransactionID string `gorm:"column:reversal_transaction_id"`
	Type                  string `gorm:"column:type;index"`
	ProcessingCode        string `gorm:"column:processing_code"`

	EncryptedPAN string `gorm:"column:pan"`
	PANHash      string `gorm:"column:pan_hash;index"`
	MaskedPAN    string `gorm:"column:masked_pan;index"`

	Amount        int64  `gorm:"column:amount"`
	Currency      string `gorm:"column:currency"`
	SourceAcct    string `gorm:"column:source_account"`
	DestAcct      string `gorm:"column:dest_account"`
	TerminalID    string `gorm:"column:terminal_id;index"`
	MerchantID    string `gorm:"column:merchant_id"`
	AcquiringBank string `gorm:"column:acquiring_bank"`

	STAN    string `gorm:"column:stan;index"`
	RRN     string `gorm:"column:rrn;index"`
	Channel string `gorm:"column:channel"`

	Status            string `gorm:"column:status;index"`
	ResponseCode      string `gorm:"column:response_code"`
	AuthorizationCode string `gorm:"column:authorization_code"`
	ErrorDetails      string `gorm:"column:error_details"`

	RequestedAt      time.Time `gorm:"column:requested_at"`
	TransactionAt    time.Time `gorm:"column:transaction_at"`
	RespondedAt      time.Time `gorm:"column:responded_at"`
	ProcessingTimeMS int64     `gorm:"column:processing_time_ms"`

	TransactionDate string    `gorm:"column:transaction_date;index"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (model) TableName() string { return "transactions" }

func fromDomain(t *txn.Transaction) *model {
	return &model{
		TransactionID:         t.TransactionID,
		OriginalTransactionID: t.OriginalTransactionID,
		ReversalTransactionID: t.ReversalTransactionID,
		Type:                  t.Type,
		ProcessingCode:        t.ProcessingCode,
		EncryptedPAN:          t.EncryptedPAN,
		PANHash:               t.PANHash,
		MaskedPAN:             t.MaskedPAN,
		Amount:                t.Amount,
		Currency:              t.Currency,
		SourceAcct:            t.SourceAcct,
		DestAcct:              t.DestAcct,
		TerminalID:            t.TerminalID,
		MerchantID:            t.MerchantID,
		AcquiringBank:         t.AcquiringBank,
		STAN:                  t.STAN,
		RRN:                   t.RRN,
		Channel:               t.Channel,
		Status:                string(t.CurrentStatus()),
		ResponseCode:          t.ResponseCode,
		AuthorizationCode:     t.AuthorizationCode,
		ErrorDetails:          t.ErrorDetails,
		RequestedAt:           t.RequestedAt,
		TransactionAt:         t.TransactionAt,
		RespondedAt:           t.RespondedAt,
		ProcessingTimeMS:      t.ProcessingTimeMS,
		TransactionDate:       t.TransactionDate,
		CreatedAt:             t.CreatedAt,
		UpdatedAt:             t.UpdatedAt,
	}
}

func (m *model) toDomain() *txn.Transaction {
	return &txn.Transaction{
		TransactionID:         m.TransactionID,
		OriginalTransactionID: m.OriginalTransactionID,
		ReversalTransactionID: m.ReversalTransactionID,
		Type:                  m.Type,
		ProcessingCode:        m.ProcessingCode,
		EncryptedPAN:          m.EncryptedPAN,
		PANHash:               m.PANHash,
		MaskedPAN:             m.MaskedPAN,
		Amount:                m.Amount,
		Currency:              m.Currency,
		SourceAcct:            m.SourceAcct,
		DestAcct:              m.DestAcct,
		TerminalID:            m.TerminalID,
		MerchantID:            m.MerchantID,
		AcquiringBank:         m.AcquiringBank,
		STAN:                  m.STAN,
		RRN:                   m.RRN,
		Channel:               m.Channel,
		Status:                txn.Status(m.Status),
		ResponseCode:          m.ResponseCode,
		AuthorizationCode:     m.AuthorizationCode,
		ErrorDetails:          m.ErrorDetails,
		RequestedAt:           m.RequestedAt,
		TransactionAt:         m.TransactionAt,
		RespondedAt:           m.RespondedAt,
		ProcessingTimeMS:      m.ProcessingTimeMS,
		TransactionDate:       m.TransactionDate,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}
