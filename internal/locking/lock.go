// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package locking

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrConflict is the sentinel for all lock contention failures. Wrap
// checks against it catch both single-record and batch acquisition
// conflicts.
var ErrConflict = errors.New("concurrency conflict")

// RecordLock represents an advisory lock on a memory record
type RecordLock struct {
	RecordID  string    `gorm:"primaryKey" json:"record_id"`
	Version   int64     `gorm:"not null;default:1" json:"version"`
	LockedBy  string    `gorm:"not null" json:"locked_by"`
	LockedAt  time.Time `gorm:"not null" json:"locked_at"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
}

// TableName specifies the table name for RecordLock
func (RecordLock) TableName() string {
	return "mnemo_record_locks"
}

// MigrateLocks runs migrations for the record locks table
func MigrateLocks(db *gorm.DB) error {
	return db.AutoMigrate(&RecordLock{})
}

// IsExpired returns true if the lock has expired
func (l *RecordLock) IsExpired() bool {
	return time.Now().After(l.ExpiresAt)
}

// LockError reports a failed acquisition, including who holds the lock
// when that is known
type LockError struct {
	RecordID string
	LockedBy string
}

func (e *LockError) Error() string {
	if e.LockedBy != "" {
		return fmt.Sprintf("record %s is locked by %s", e.RecordID, e.LockedBy)
	}
	return fmt.Sprintf("failed to lock record %s", e.RecordID)
}

// Unwrap lets callers match LockError with errors.Is(err, ErrConflict)
func (e *LockError) Unwrap() error {
	return ErrConflict
}
