package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/order_printer/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	OrderStatusUnprinted   = "unprinted"
	OrderStatusPrinted     = "printed"
	OrderStatusPrintFailed = "print_failed"

	// OrderStatusProcessingErrorPrefix is followed by a truncated reason.
	OrderStatusProcessingErrorPrefix = "processing_error:"
)

const (
	maxStatusReasonLen = 50
	maxUpsertAttempts  = 3
)

var ErrRecordNotFound = errors.New("record not found")

// Order is one upstream order, unique by BusinessId (the upstream order name).
type Order struct {
	ID         uint         `gorm:"primaryKey" json:"id"`
	BusinessId string       `gorm:"size:128;not null;uniqueIndex:uniq_orders_business_id" json:"business_id"`
	Payload    OrderPayload `gorm:"type:text;serializer:json" json:"payload"`
	Status     string       `gorm:"size:255;not null;default:unprinted" json:"status"`
	CreatedAt  time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// UpsertResult reports the row an upsert converged on.
type UpsertResult struct {
	ID      uint
	Created bool
	// PriorStatus is the status the row had before this upsert ("" when it was just created).
	PriorStatus string
}

// ProcessingErrorStatus builds a processing_error status with a short, quote-free reason.
func ProcessingErrorStatus(reason string) string {
	reason = strings.NewReplacer(`"`, "", "'", "", "\n", " ").Replace(reason)
	reason = strings.TrimSpace(reason)
	return OrderStatusProcessingErrorPrefix + utils.TruncateRunes(reason, maxStatusReasonLen)
}

func IsProcessingErrorStatus(status string) bool {
	return strings.HasPrefix(status, OrderStatusProcessingErrorPrefix)
}

type OrderStore struct {
	db *gorm.DB
}

func NewOrderStore(db *gorm.DB) *OrderStore {
	return &OrderStore{db: db}
}

// Upsert inserts the order or replaces the payload of the existing row with the same business id.
// The write is a single INSERT ... ON CONFLICT statement, so concurrent callers converge on one row.
// MySQL deadlocks and lock wait timeouts are retried.
// Status and created_at of an existing row are left untouched.
func (s *OrderStore) Upsert(ctx context.Context, businessId string, payload OrderPayload) (UpsertResult, error) {
	businessId = strings.TrimSpace(businessId)
	if businessId == "" {
		return UpsertResult{}, errors.New("order business id is empty")
	}

	var result UpsertResult
	upsert := func(tx *gorm.DB) error {
		var prior Order
		err := tx.Select("id", "status").Where("business_id = ?", businessId).Take(&prior).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		existed := err == nil

		row := Order{
			BusinessId: businessId,
			Payload:    payload,
			Status:     OrderStatusUnprinted,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "business_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return err
		}

		var stored Order
		if err := tx.Select("id").Where("business_id = ?", businessId).Take(&stored).Error; err != nil {
			return err
		}
		result = UpsertResult{ID: stored.ID, Created: !existed}
		if existed {
			result.PriorStatus = prior.Status
		}
		return nil
	}

	var err error
	for attempt := 1; attempt <= maxUpsertAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(upsert)
		if err == nil || !isLockConflict(err) {
			break
		}
	}
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upsert order %s: %w", businessId, err)
	}
	return result, nil
}

// isLockConflict reports a MySQL deadlock or lock wait timeout, which a racing upsert of the
// same key can hit; the transaction is safe to run again.
func isLockConflict(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1213 || mysqlErr.Number == 1205
	}
	return false
}

// UpdateStatus sets the status of the row with the given internal id.
func (s *OrderStore) UpdateStatus(ctx context.Context, id uint, status string) error {
	res := s.db.WithContext(ctx).Model(&Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("update order %d status: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update order %d status: %w", id, ErrRecordNotFound)
	}
	return nil
}

// MarkUnprinted sets the status to unprinted unless the row is already printed, and returns the
// status the row ends up with.
func (s *OrderStore) MarkUnprinted(ctx context.Context, id uint) (string, error) {
	res := s.db.WithContext(ctx).Model(&Order{}).
		Where("id = ? AND status <> ?", id, OrderStatusPrinted).
		Updates(map[string]interface{}{
			"status":     OrderStatusUnprinted,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return "", fmt.Errorf("update order %d status: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return OrderStatusUnprinted, nil
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if current == nil {
		return "", fmt.Errorf("update order %d status: %w", id, ErrRecordNotFound)
	}
	return current.Status, nil
}

// ListAll returns every order, newest first.
func (s *OrderStore) ListAll(ctx context.Context) ([]Order, error) {
	var orders []Order
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// Get returns the order with the given internal id, or nil when absent.
func (s *OrderStore) Get(ctx context.Context, id uint) (*Order, error) {
	var order Order
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}
