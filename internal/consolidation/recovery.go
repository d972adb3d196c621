// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package consolidation

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"

	"github.com/tejzpr/mnemo-mcp/internal/database"
	"github.com/tejzpr/mnemo-mcp/internal/store"
)

// RecoverOrphans discards archive entries left behind by a run that
// crashed between archiving and commit. An entry is orphaned when its
// replacement record was never committed and its source record is still
// live; the source stays live and will be re-clustered on the next run.
// Returns the number of entries discarded.
func RecoverOrphans(ctx context.Context, records *store.RecordStore, archive *store.ArchiveStore, logger *log.Logger) (int, error) {
	if logger == nil {
		logger = log.Default()
	}

	var entries []database.ArchiveEntry
	err := records.DB().WithContext(ctx).
		Where("archived_reason = ?", database.ArchiveReasonConsolidated).
		Where("replacement_id != ''").
		Find(&entries).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load consolidation archive entries: %w", err)
	}

	discarded := 0
	for i := range entries {
		entry := &entries[i]

		// A committed replacement means the run finished
		if _, err := records.Get(ctx, entry.ReplacementID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return discarded, err
		}

		// Source archived without a replacement is not an orphan of an
		// interrupted run; leave it alone.
		source, err := records.Get(ctx, entry.OriginalID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return discarded, err
		}
		if source.Archived {
			continue
		}

		err = records.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return archive.DiscardOrphan(tx, entry.OriginalID)
		})
		if err != nil {
			return discarded, fmt.Errorf("failed to discard orphaned archive entry %s: %w", entry.OriginalID, err)
		}
		discarded++
		logger.Info("discarded orphaned archive entry", "original_id", entry.OriginalID, "replacement_id", entry.ReplacementID)
	}
	return discarded, nil
}
