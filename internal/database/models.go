// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Archive reasons recorded on ArchiveEntry rows
const (
	ArchiveReasonConsolidated = "consolidated"
	ArchiveReasonExpired      = "expired"
	ArchiveReasonManual       = "manual"
)

// ValidArchiveReasons returns all valid archive reasons
func ValidArchiveReasons() []string {
	return []string{
		ArchiveReasonConsolidated,
		ArchiveReasonExpired,
		ArchiveReasonManual,
	}
}

// IsValidArchiveReason checks if an archive reason is valid
func IsValidArchiveReason(reason string) bool {
	for _, valid := range ValidArchiveReasons() {
		if reason == valid {
			return true
		}
	}
	return false
}

// JSONMap is an open key-value payload stored as a JSON text column.
// The store never interprets its contents.
type JSONMap map[string]interface{}

// Value implements driver.Valuer for JSONMap
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for JSONMap
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata column type %T", value)
	}

	if len(data) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// StringList is an ordered list of strings stored as a JSON text column
type StringList []string

// Value implements driver.Valuer for StringList
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for StringList
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported list column type %T", value)
	}

	if len(data) == 0 {
		*l = StringList{}
		return nil
	}
	return json.Unmarshal(data, l)
}

// MemoryRecord is a single stored memory with its embedding and scoring
// fields. Records are created live, mutated only by access statistics and
// scoring recomputation, replaced (never edited) by consolidation, and
// soft-deleted via the Archived flag.
type MemoryRecord struct {
	ID       string `gorm:"primaryKey" json:"id"`
	Owner    string `gorm:"index:idx_memories_owner;not null" json:"owner"`
	Kind     string `gorm:"index" json:"kind"`
	Category string `gorm:"index" json:"category"`
	Content  string `gorm:"type:text;not null" json:"content"`

	// Embedding is nil until the provider has processed Content.
	// Records without an embedding are excluded from the vector index.
	Embedding  []byte `gorm:"type:blob" json:"-"`
	Dimensions int    `json:"dimensions,omitempty"`

	Metadata   JSONMap `gorm:"type:text" json:"metadata"`
	Importance int     `gorm:"not null;default:5" json:"importance"`

	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int       `gorm:"not null;default:0" json:"access_count"`

	PriorityScore float64 `gorm:"not null;default:1.0" json:"priority_score"`
	DecayFactor   float64 `gorm:"not null;default:1.0" json:"decay_factor"`

	// DecayComputedAt marks when DecayFactor was last recomputed, so
	// repeated sweeps never re-apply an already-decayed window. Zero
	// means never recomputed since the last access.
	DecayComputedAt time.Time `json:"decay_computed_at,omitempty"`

	Archived bool `gorm:"index:idx_memories_archived;not null;default:false" json:"archived"`

	ConsolidatedFrom    StringList `gorm:"type:text" json:"consolidated_from,omitempty"`
	ConsolidationReason string     `gorm:"type:text" json:"consolidation_reason,omitempty"`
	LastConsolidatedAt  *time.Time `json:"last_consolidated_at,omitempty"`

	// Opaque enrichment payloads populated by an external extraction step
	Entities      JSONMap `gorm:"type:text" json:"entities,omitempty"`
	Relationships JSONMap `gorm:"type:text" json:"relationships,omitempty"`
}

// TableName specifies the table name for MemoryRecord
func (MemoryRecord) TableName() string {
	return "mnemo_memories"
}

// HasEmbedding returns true if the record has a stored embedding vector
func (r *MemoryRecord) HasEmbedding() bool {
	return len(r.Embedding) > 0
}

// ArchiveEntry is a frozen copy of a MemoryRecord taken at the moment it
// was removed from live retrieval. Entries are append-only; the core
// exposes no update or delete operations on them.
type ArchiveEntry struct {
	OriginalID     string    `gorm:"primaryKey" json:"original_id"`
	Owner          string    `gorm:"index:idx_archive_owner;not null" json:"owner"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	Snapshot       string    `gorm:"type:text;not null" json:"snapshot"`
	ArchivedAt     time.Time `gorm:"index:idx_archive_at;not null" json:"archived_at"`
	ArchivedReason string    `gorm:"not null" json:"archived_reason"`

	// ReplacementID links consolidation sources to the record that
	// replaced them. Empty for expired and manual archives.
	ReplacementID string `gorm:"index" json:"replacement_id,omitempty"`
}

// TableName specifies the table name for ArchiveEntry
func (ArchiveEntry) TableName() string {
	return "mnemo_archive_entries"
}
