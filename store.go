package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TxStatus is the lifecycle state of a recorded transaction.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

func parseTxStatus(s string) (TxStatus, error) {
	switch TxStatus(s) {
	case TxStatusPending, TxStatusConfirmed, TxStatusFailed:
		return TxStatus(s), nil
	default:
		return "", fmt.Errorf("unknown transaction status %q", s)
	}
}

// KeyRecord is an encrypted software wallet key blob at rest. The
// blob is opaque to the store; pkg/keycrypt seals and opens it.
type KeyRecord struct {
	ID        uint   `gorm:"primaryKey"`
	KeyID     string `gorm:"column:key_id;uniqueIndex;not null"`
	Blob      []byte `gorm:"column:blob;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (KeyRecord) TableName() string {
	return "key_records"
}

// TransactionRecord is one dispatched send and its outcome.
type TransactionRecord struct {
	ID        uint           `gorm:"primaryKey"`
	TxHash    string         `gorm:"column:tx_hash;index;not null"`
	Sender    string         `gorm:"column:sender;index;not null"`
	Recipient string         `gorm:"column:recipient;not null"`
	Amount    string         `gorm:"column:amount;not null"`
	Backend   string         `gorm:"column:backend;not null"`
	Status    TxStatus       `gorm:"column:status;index;not null"`
	Metadata  datatypes.JSON `gorm:"column:metadata"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TransactionRecord) TableName() string {
	return "transaction_records"
}

// Store is the node's persistence layer: encrypted key blobs for the
// software backend and the transaction history.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Store upserts an encrypted key blob under the given id.
func (s *Store) Store(ctx context.Context, id string, blob []byte) error {
	record := KeyRecord{KeyID: id, Blob: blob}
	return s.db.WithContext(ctx).
		Where(KeyRecord{KeyID: id}).
		Assign(map[string]any{"blob": blob}).
		FirstOrCreate(&record).Error
}

// Load returns the blob stored under id, or nil when absent.
func (s *Store) Load(ctx context.Context, id string) ([]byte, error) {
	var record KeyRecord
	err := s.db.WithContext(ctx).Where("key_id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record.Blob, nil
}

// Erase removes the blob stored under id. Erasing an absent id is a
// no-op.
func (s *Store) Erase(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("key_id = ?", id).Delete(&KeyRecord{}).Error
}

// RecordTransaction inserts a pending history entry for a dispatched
// send and returns it with its assigned ID.
func (s *Store) RecordTransaction(ctx context.Context, record *TransactionRecord) error {
	if record.Status == "" {
		record.Status = TxStatusPending
	}
	return s.db.WithContext(ctx).Create(record).Error
}

// UpdateTransactionStatus moves a recorded transaction to its final
// state once confirmation polling resolves it.
func (s *Store) UpdateTransactionStatus(ctx context.Context, txHash string, status TxStatus) error {
	return s.db.WithContext(ctx).
		Model(&TransactionRecord{}).
		Where("tx_hash = ?", txHash).
		Update("status", status).Error
}

// GetTransactions returns the send history, newest first, optionally
// filtered by sender and status. A non-positive limit means no limit.
func (s *Store) GetTransactions(ctx context.Context, sender string, status TxStatus, limit int) ([]TransactionRecord, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if sender != "" {
		query = query.Where("sender = ?", sender)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []TransactionRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
