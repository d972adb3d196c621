// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package locking provides advisory record locks backed by the
// database, so concurrent consolidation runs and writers never operate
// on the same records at once.
package locking

import (
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"
)

// DefaultLockTTL is the default time-to-live for locks
const DefaultLockTTL = 5 * time.Minute

// Locker manages advisory locks on memory records
type Locker struct {
	db      *gorm.DB
	lockTTL time.Duration
}

// NewLocker creates a new locker instance
func NewLocker(db *gorm.DB) *Locker {
	return &Locker{
		db:      db,
		lockTTL: DefaultLockTTL,
	}
}

// WithTTL sets a custom TTL for locks
func (l *Locker) WithTTL(ttl time.Duration) *Locker {
	l.lockTTL = ttl
	return l
}

// Acquire attempts to acquire a lock on a record for the given holder.
// Returns a LockError (matching ErrConflict) when another holder owns a
// live lock. Re-acquiring one's own lock refreshes its TTL.
func (l *Locker) Acquire(recordID, holder string) error {
	now := time.Now()
	expiresAt := now.Add(l.lockTTL)

	var existing RecordLock
	err := l.db.Where("record_id = ?", recordID).First(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		lock := RecordLock{
			RecordID:  recordID,
			Version:   1,
			LockedBy:  holder,
			LockedAt:  now,
			ExpiresAt: expiresAt,
		}
		if err := l.db.Create(&lock).Error; err != nil {
			// Lost the insert race to another holder
			return &LockError{RecordID: recordID}
		}
		return nil
	}

	if !existing.IsExpired() && existing.LockedBy != holder {
		return &LockError{RecordID: recordID, LockedBy: existing.LockedBy}
	}

	// Expired or our own: take over, guarded by the version column so a
	// concurrent takeover loses cleanly.
	result := l.db.Model(&RecordLock{}).
		Where("record_id = ? AND version = ?", recordID, existing.Version).
		Updates(map[string]interface{}{
			"locked_by":  holder,
			"locked_at":  now,
			"expires_at": expiresAt,
			"version":    existing.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return &LockError{RecordID: recordID}
	}
	return nil
}

// AcquireAll locks a set of records atomically for one holder. Ids are
// sorted ascending before acquisition; since record ids are ULIDs this
// is oldest-first, and every caller locking in the same order cannot
// deadlock. On any conflict all locks taken so far are released and the
// conflict is returned.
func (l *Locker) AcquireAll(recordIDs []string, holder string) error {
	ids := make([]string, len(recordIDs))
	copy(ids, recordIDs)
	sort.Strings(ids)

	for i, id := range ids {
		if err := l.Acquire(id, holder); err != nil {
			for j := 0; j < i; j++ {
				l.Release(ids[j], holder) //nolint:errcheck
			}
			return err
		}
	}
	return nil
}

// Release releases a lock held by the specified holder
func (l *Locker) Release(recordID, holder string) error {
	return l.db.Where("record_id = ? AND locked_by = ?", recordID, holder).
		Delete(&RecordLock{}).Error
}

// ReleaseAll releases all locks held by a holder
func (l *Locker) ReleaseAll(holder string) error {
	return l.db.Where("locked_by = ?", holder).Delete(&RecordLock{}).Error
}

// IsLocked checks if a record is currently locked and by whom
func (l *Locker) IsLocked(recordID string) (bool, string, error) {
	var lock RecordLock
	err := l.db.Where("record_id = ?", recordID).First(&lock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, "", nil
		}
		return false, "", err
	}
	if lock.IsExpired() {
		return false, "", nil
	}
	return true, lock.LockedBy, nil
}

// Extend extends the TTL of an existing lock
func (l *Locker) Extend(recordID, holder string) error {
	result := l.db.Model(&RecordLock{}).
		Where("record_id = ? AND locked_by = ?", recordID, holder).
		Update("expires_at", time.Now().Add(l.lockTTL))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return &LockError{RecordID: recordID}
	}
	return nil
}

// CleanupExpired removes all expired locks
func (l *Locker) CleanupExpired() (int64, error) {
	result := l.db.Where("expires_at < ?", time.Now()).Delete(&RecordLock{})
	return result.RowsAffected, result.Error
}

// WithLockAll runs fn while holding locks on all given records and
// releases them afterward regardless of the outcome
func (l *Locker) WithLockAll(recordIDs []string, holder string, fn func() error) error {
	if err := l.AcquireAll(recordIDs, holder); err != nil {
		return err
	}
	defer func() {
		for _, id := range recordIDs {
			l.Release(id, holder) //nolint:errcheck
		}
	}()
	return fn()
}
