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
	SettingDefaultPrinter   = "default_printer"
	SettingAutoPrintEnabled = "auto_print_enabled"
	SettingPollingEnabled   = "polling_enabled"
	SettingPrintMethod      = "print_method"
)

// DefaultSettings are written on first migration and never overwrite operator changes.
var DefaultSettings = map[string]string{
	SettingDefaultPrinter:   "",
	SettingAutoPrintEnabled: "false",
	SettingPollingEnabled:   "false",
	SettingPrintMethod:      "escpos",
}

// Setting is an operator-editable key/value pair, re-read on every use.
type Setting struct {
	Name      string    `gorm:"primaryKey;size:64" json:"name"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type SettingStore struct {
	db *gorm.DB
}

func NewSettingStore(db *gorm.DB) *SettingStore {
	return &SettingStore{db: db}
}

// Get returns the value for name. ok is false when the key does not exist.
func (s *SettingStore) Get(ctx context.Context, name string) (value string, ok bool, err error) {
	var setting Setting
	err = s.db.WithContext(ctx).Where("name = ?", name).Take(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", name, err)
	}
	return setting.Value, true, nil
}

// All returns every stored setting keyed by name.
func (s *SettingStore) All(ctx context.Context) (map[string]string, error) {
	var rows []Setting
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Name] = r.Value
	}
	return out, nil
}

func (s *SettingStore) Set(ctx context.Context, name, value string) error {
	row := Setting{Name: name, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("set setting %s: %w", name, err)
	}
	return nil
}

// SeedDefaults inserts DefaultSettings that are not present yet.
func (s *SettingStore) SeedDefaults(ctx context.Context) error {
	for name, value := range DefaultSettings {
		row := Setting{Name: name, Value: value}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("seed setting %s: %w", name, err)
		}
	}
	return nil
}
