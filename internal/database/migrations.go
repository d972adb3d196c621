// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate runs all schema migrations for the memory store
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&MemoryRecord{},
		&ArchiveEntry{},
	); err != nil {
		return fmt.Errorf("failed to migrate memory tables: %w", err)
	}
	return nil
}
