package repository

import (
	"time"

	"github.com/klasslink/internal/redefine"
)

// ClassFingerprint represents the class_fingerprints table. Payload holds
// the fingerprint trees of one outer class, encoded by encodeFingerprints.
type ClassFingerprint struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Loader    string    `gorm:"column:loader;type:varchar(256);uniqueIndex:idx_fingerprint_owner"`
	Outer     string    `gorm:"column:outer_class;type:varchar(512);uniqueIndex:idx_fingerprint_owner"`
	Classes   int       `gorm:"column:classes"`
	Payload   []byte    `gorm:"column:payload"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the table name for ClassFingerprint.
func (ClassFingerprint) TableName() string {
	return "class_fingerprints"
}

// RedefinitionEvent represents the redefinition_events table.
type RedefinitionEvent struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Class     string    `gorm:"column:class_name;type:varchar(512);index"`
	Loader    string    `gorm:"column:loader;type:varchar(256);index"`
	Change    string    `gorm:"column:change_kind;type:varchar(64)"`
	Status    int       `gorm:"column:status"`
	Version   int       `gorm:"column:version"`
	Reason    string    `gorm:"column:reason;type:text"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName returns the table name for RedefinitionEvent.
func (RedefinitionEvent) TableName() string {
	return "redefinition_events"
}

func newRedefinitionEvent(e redefine.Event) *RedefinitionEvent {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	return &RedefinitionEvent{
		Class:     e.Class,
		Loader:    e.Loader,
		Change:    e.Change.String(),
		Status:    int(e.Status),
		Version:   e.Version,
		Reason:    e.Reason,
		CreatedAt: at,
	}
}

// ToModel converts RedefinitionEvent to redefine.Event.
func (r *RedefinitionEvent) ToModel() redefine.Event {
	return redefine.Event{
		Class:   r.Class,
		Loader:  r.Loader,
		Change:  parseChange(r.Change),
		Status:  redefine.Status(r.Status),
		Version: r.Version,
		Reason:  r.Reason,
		At:      r.CreatedAt,
	}
}

// parseChange maps a stored change name back to its value. Unknown names
// read as InvalidClassFormat.
func parseChange(name string) redefine.ClassChange {
	for c := redefine.NoChange; c <= redefine.InvalidClassFormat; c++ {
		if c.String() == name {
			return c
		}
	}
	return redefine.InvalidClassFormat
}
