// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package snapshot freezes memory records as markdown documents with
// YAML frontmatter. Archive entries store these documents so any record
// ever removed from the live store can be recovered content-equal.
package snapshot

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tejzpr/mnemo-mcp/internal/database"
)

// Snapshot is the frontmatter image of a memory record at archive time.
// The embedding is intentionally omitted; it can be regenerated from
// the content.
type Snapshot struct {
	ID                  string                 `yaml:"id"`
	Owner               string                 `yaml:"owner"`
	Kind                string                 `yaml:"kind,omitempty"`
	Category            string                 `yaml:"category,omitempty"`
	Importance          int                    `yaml:"importance"`
	Metadata            map[string]interface{} `yaml:"metadata,omitempty"`
	CreatedAt           time.Time              `yaml:"created"`
	UpdatedAt           time.Time              `yaml:"updated"`
	LastAccessedAt      time.Time              `yaml:"last_accessed"`
	AccessCount         int                    `yaml:"access_count"`
	PriorityScore       float64                `yaml:"priority_score"`
	DecayFactor         float64                `yaml:"decay_factor"`
	ConsolidatedFrom    []string               `yaml:"consolidated_from,omitempty"`
	ConsolidationReason string                 `yaml:"consolidation_reason,omitempty"`
	Entities            map[string]interface{} `yaml:"entities,omitempty"`
	Relationships       map[string]interface{} `yaml:"relationships,omitempty"`

	Content string `yaml:"-"`
}

// FromRecord builds a Snapshot from a live record
func FromRecord(rec *database.MemoryRecord) *Snapshot {
	return &Snapshot{
		ID:                  rec.ID,
		Owner:               rec.Owner,
		Kind:                rec.Kind,
		Category:            rec.Category,
		Importance:          rec.Importance,
		Metadata:            rec.Metadata,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
		LastAccessedAt:      rec.LastAccessedAt,
		AccessCount:         rec.AccessCount,
		PriorityScore:       rec.PriorityScore,
		DecayFactor:         rec.DecayFactor,
		ConsolidatedFrom:    rec.ConsolidatedFrom,
		ConsolidationReason: rec.ConsolidationReason,
		Entities:            rec.Entities,
		Relationships:       rec.Relationships,
		Content:             rec.Content,
	}
}

// ToRecord reconstructs a memory record from the snapshot. The embedding
// is left empty.
func (s *Snapshot) ToRecord() *database.MemoryRecord {
	return &database.MemoryRecord{
		ID:                  s.ID,
		Owner:               s.Owner,
		Kind:                s.Kind,
		Category:            s.Category,
		Content:             s.Content,
		Metadata:            s.Metadata,
		Importance:          s.Importance,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
		LastAccessedAt:      s.LastAccessedAt,
		AccessCount:         s.AccessCount,
		PriorityScore:       s.PriorityScore,
		DecayFactor:         s.DecayFactor,
		ConsolidatedFrom:    s.ConsolidatedFrom,
		ConsolidationReason: s.ConsolidationReason,
		Entities:            s.Entities,
		Relationships:       s.Relationships,
	}
}

// Render converts a snapshot to markdown with YAML frontmatter
func (s *Snapshot) Render() (string, error) {
	var buf bytes.Buffer

	buf.WriteString("---\n")

	frontmatter, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal frontmatter: %w", err)
	}
	buf.Write(frontmatter)
	buf.WriteString("---\n\n")

	buf.WriteString(s.Content)
	buf.WriteString("\n")

	return buf.String(), nil
}

// Parse reads a rendered snapshot document back
func Parse(doc string) (*Snapshot, error) {
	frontmatter, body, err := splitFrontmatter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to split frontmatter: %w", err)
	}

	var snap Snapshot
	if frontmatter != "" {
		if err := yaml.Unmarshal([]byte(frontmatter), &snap); err != nil {
			return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
		}
	}

	snap.Content = strings.TrimSpace(body)
	return &snap, nil
}

// splitFrontmatter splits a document into frontmatter and body
func splitFrontmatter(content string) (string, string, error) {
	content = strings.TrimSpace(content)

	if !strings.HasPrefix(content, "---") {
		return "", content, nil
	}

	lines := strings.Split(content, "\n")
	if len(lines) < 3 {
		return "", content, nil
	}

	closingIndex := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closingIndex = i
			break
		}
	}

	if closingIndex == -1 {
		return "", content, fmt.Errorf("frontmatter not properly closed")
	}

	frontmatter := strings.Join(lines[1:closingIndex], "\n")

	body := ""
	if closingIndex+1 < len(lines) {
		body = strings.Join(lines[closingIndex+1:], "\n")
	}

	return frontmatter, body, nil
}
