package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredStartup  = "startup"
	SyncTriggeredSchedule = "schedule"
	SyncTriggeredManual   = "manual"
)

const (
	SyncErrorCodeListPage = "list_page"
	SyncErrorCodeOrder    = "order"
)

// CheckpointOrderPoller is the checkpoint name used by the order poller.
const CheckpointOrderPoller = "order_poller"

// SyncCheckpoint stores the upper bound of the last completed polling window.
// The boundary is kept as unix milliseconds, which is also the unit of the upstream filter.
type SyncCheckpoint struct {
	Name       string    `gorm:"primaryKey;size:64" json:"name"`
	BoundaryMs int64     `gorm:"not null" json:"boundary_ms"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c SyncCheckpoint) Boundary() time.Time {
	return time.UnixMilli(c.BoundaryMs).UTC()
}

type SyncRun struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	TriggeredBy   string     `gorm:"size:20;index" json:"triggered_by"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	WindowStartMs int64      `json:"window_start_ms"`
	WindowEndMs   int64      `json:"window_end_ms"`
	OrdersSeen    int        `json:"orders_seen"`
	OrdersOk      int        `json:"orders_ok"`
	ErrorCount    int        `json:"error_count"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Errors []SyncError `gorm:"foreignKey:SyncRunId" json:"errors,omitempty"`
}

type SyncError struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SyncRunId uint      `gorm:"index;not null" json:"sync_run_id"`
	ErrorCode string    `gorm:"size:64" json:"error_code"`
	NodeId    string    `gorm:"size:128" json:"node_id"`
	Message   string    `gorm:"type:text" json:"message"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type CheckpointStore struct {
	db *gorm.DB
}

func NewCheckpointStore(db *gorm.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Load returns the stored boundary. ok is false when no checkpoint was ever written.
func (s *CheckpointStore) Load(ctx context.Context, name string) (boundary time.Time, ok bool, err error) {
	var cp SyncCheckpoint
	err = s.db.WithContext(ctx).Where("name = ?", name).Take(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load checkpoint %s: %w", name, err)
	}
	return cp.Boundary(), true, nil
}

func (s *CheckpointStore) Save(ctx context.Context, name string, boundary time.Time) error {
	cp := SyncCheckpoint{Name: name, BoundaryMs: boundary.UnixMilli()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"boundary_ms", "updated_at"}),
	}).Create(&cp).Error
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", name, err)
	}
	return nil
}

type SyncRunStore struct {
	db *gorm.DB
}

func NewSyncRunStore(db *gorm.DB) *SyncRunStore {
	return &SyncRunStore{db: db}
}

// Start inserts a running SyncRun and fills in its ID.
func (s *SyncRunStore) Start(ctx context.Context, run *SyncRun) error {
	now := time.Now().UTC()
	run.Status = SyncRunStatusRunning
	run.StartedAt = &now
	return s.db.WithContext(ctx).Create(run).Error
}

// Finish stores the final counters and status of run.
func (s *SyncRunStore) Finish(ctx context.Context, run *SyncRun) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	if run.StartedAt != nil {
		run.DurationMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	return s.db.WithContext(ctx).Model(&SyncRun{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
		"status":      run.Status,
		"orders_seen": run.OrdersSeen,
		"orders_ok":   run.OrdersOk,
		"error_count": run.ErrorCount,
		"finished_at": run.FinishedAt,
		"duration_ms": run.DurationMs,
	}).Error
}

func (s *SyncRunStore) RecordError(ctx context.Context, syncErr *SyncError) error {
	return s.db.WithContext(ctx).Create(syncErr).Error
}

// List returns the most recent runs first.
func (s *SyncRunStore) List(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var runs []SyncRun
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

// Get returns a run with its errors, or nil when absent.
func (s *SyncRunStore) Get(ctx context.Context, id uint) (*SyncRun, error) {
	var run SyncRun
	err := s.db.WithContext(ctx).Preload("Errors", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).Where("id = ?", id).Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
