// Package repository persists redefinition state: the fingerprint cache of
// anonymous classes and the history of redefinition attempts.
package repository

import (
	"context"

	"github.com/klasslink/internal/redefine"
)

// FingerprintRepository stores fingerprint trees keyed by loader name and
// outer class.
type FingerprintRepository interface {
	redefine.Store

	// CountFingerprints returns the number of stored outer classes.
	CountFingerprints(ctx context.Context) (int64, error)
}

// EventRepository keeps the history of redefinition attempts.
type EventRepository interface {
	redefine.EventRecorder

	// ListRedefinitions returns matching events, newest first.
	ListRedefinitions(ctx context.Context, q EventQuery) ([]redefine.Event, error)
}

// EventQuery filters ListRedefinitions. Zero fields match everything.
type EventQuery struct {
	Class  string
	Loader string
	Limit  int
}
