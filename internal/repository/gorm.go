package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/klasslink/internal/redefine"
	"github.com/klasslink/pkg/compression"
	apperrors "github.com/klasslink/pkg/errors"
)

// GormFingerprintRepository implements FingerprintRepository using GORM.
type GormFingerprintRepository struct {
	db         *gorm.DB
	compressor compression.Compressor
}

// NewGormFingerprintRepository creates a new GormFingerprintRepository.
// Payloads are compressed with c, or zstd when c is nil.
func NewGormFingerprintRepository(db *gorm.DB, c compression.Compressor) *GormFingerprintRepository {
	if c == nil {
		c = compression.Default()
	}
	return &GormFingerprintRepository{db: db, compressor: c}
}

// SaveFingerprints replaces the fingerprints stored for loader and outer.
func (r *GormFingerprintRepository) SaveFingerprints(ctx context.Context, loader, outer string, infos []*redefine.ClassInfo) error {
	payload, err := encodeFingerprints(r.compressor, infos)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to encode fingerprints of "+outer, err)
	}
	record := &ClassFingerprint{
		Loader:  loader,
		Outer:   outer,
		Classes: len(redefine.Flatten(infos)),
		Payload: payload,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "loader"}, {Name: "outer_class"}},
			DoUpdates: clause.AssignmentColumns([]string{"classes", "payload", "updated_at"}),
		}).
		Create(record).Error
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to save fingerprints of "+outer, err)
	}
	return nil
}

// LoadFingerprints returns the fingerprints stored for loader and outer.
func (r *GormFingerprintRepository) LoadFingerprints(ctx context.Context, loader, outer string) ([]*redefine.ClassInfo, bool, error) {
	var record ClassFingerprint

	err := r.db.WithContext(ctx).
		Where("loader = ? AND outer_class = ?", loader, outer).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to load fingerprints of "+outer, err)
	}

	infos, err := decodeFingerprints(record.Payload)
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.CodeDatabaseError, "corrupt fingerprints of "+outer, err)
	}
	return infos, true, nil
}

// DeleteFingerprints removes every fingerprint stored for loader.
func (r *GormFingerprintRepository) DeleteFingerprints(ctx context.Context, loader string) error {
	err := r.db.WithContext(ctx).
		Where("loader = ?", loader).
		Delete(&ClassFingerprint{}).Error
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to delete fingerprints of loader "+loader, err)
	}
	return nil
}

// CountFingerprints returns the number of stored outer classes.
func (r *GormFingerprintRepository) CountFingerprints(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&ClassFingerprint{}).Count(&n).Error; err != nil {
		return 0, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to count fingerprints", err)
	}
	return n, nil
}

// GormEventRepository implements EventRepository using GORM.
type GormEventRepository struct {
	db *gorm.DB
}

// NewGormEventRepository creates a new GormEventRepository.
func NewGormEventRepository(db *gorm.DB) *GormEventRepository {
	return &GormEventRepository{db: db}
}

// RecordRedefinition appends an event.
func (r *GormEventRepository) RecordRedefinition(ctx context.Context, e redefine.Event) error {
	if err := r.db.WithContext(ctx).Create(newRedefinitionEvent(e)).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, fmt.Sprintf("failed to record redefinition of %s", e.Class), err)
	}
	return nil
}

// ListRedefinitions returns matching events, newest first.
func (r *GormEventRepository) ListRedefinitions(ctx context.Context, q EventQuery) ([]redefine.Event, error) {
	var records []RedefinitionEvent

	tx := r.db.WithContext(ctx).Order("id DESC")
	if q.Class != "" {
		tx = tx.Where("class_name = ?", q.Class)
	}
	if q.Loader != "" {
		tx = tx.Where("loader = ?", q.Loader)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if err := tx.Find(&records).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to query redefinition events", err)
	}

	events := make([]redefine.Event, len(records))
	for i := range records {
		events[i] = records[i].ToModel()
	}
	return events, nil
}
