// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package consolidation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tejzpr/mnemo-mcp/internal/database"
)

// Strategy picks the content for a merged record from a cluster of
// near-duplicates. Strategies must be deterministic: the same cluster
// always yields the same content.
type Strategy interface {
	Name() string
	Merge(cluster []database.MemoryRecord) string
}

// StrategyFor returns the strategy registered under the given name
func StrategyFor(name string) (Strategy, error) {
	switch name {
	case "longest", "":
		return longestStrategy{}, nil
	case "most_recent":
		return mostRecentStrategy{}, nil
	case "concatenate":
		return concatenateStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown merge strategy: %s", name)
	}
}

// longestStrategy keeps the longest content in the cluster, on the
// assumption that near-duplicates differ mostly by truncation. Ties go
// to the most recently created record.
type longestStrategy struct{}

func (longestStrategy) Name() string { return "longest" }

func (longestStrategy) Merge(cluster []database.MemoryRecord) string {
	best := -1
	for i := range cluster {
		if best < 0 {
			best = i
			continue
		}
		li, lb := len(cluster[i].Content), len(cluster[best].Content)
		if li > lb || (li == lb && cluster[i].CreatedAt.After(cluster[best].CreatedAt)) {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return cluster[best].Content
}

// mostRecentStrategy keeps the newest content in the cluster
type mostRecentStrategy struct{}

func (mostRecentStrategy) Name() string { return "most_recent" }

func (mostRecentStrategy) Merge(cluster []database.MemoryRecord) string {
	best := -1
	for i := range cluster {
		if best < 0 {
			best = i
			continue
		}
		if cluster[i].CreatedAt.After(cluster[best].CreatedAt) ||
			(cluster[i].CreatedAt.Equal(cluster[best].CreatedAt) && cluster[i].ID > cluster[best].ID) {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return cluster[best].Content
}

// concatenateStrategy joins every distinct content oldest-first. Useful
// when duplicates each carry a unique fragment worth keeping.
type concatenateStrategy struct{}

func (concatenateStrategy) Name() string { return "concatenate" }

func (concatenateStrategy) Merge(cluster []database.MemoryRecord) string {
	ordered := make([]database.MemoryRecord, len(cluster))
	copy(ordered, cluster)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	seen := make(map[string]bool, len(ordered))
	parts := make([]string, 0, len(ordered))
	for i := range ordered {
		content := strings.TrimSpace(ordered[i].Content)
		if content == "" || seen[content] {
			continue
		}
		seen[content] = true
		parts = append(parts, content)
	}
	return strings.Join(parts, "\n\n---\n\n")
}
