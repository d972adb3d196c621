// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package scoring computes composite relevance scores for memory records
// and recomputes their decay factors. All functions are pure.
package scoring

import (
	"math"
	"time"
)

const (
	// importanceAnchor is the importance value that maps to a neutral
	// 1.0 multiplier.
	importanceAnchor = 5

	// importanceStep is the multiplier change per importance point.
	importanceStep = 0.1

	// minSimilarityTerm floors the similarity term so a record with a
	// stale embedding and zero cosine similarity can still surface.
	// Callers enforce their similarity floor on the raw similarity.
	minSimilarityTerm = 0.05

	// accessWeight scales the diminishing-returns access bonus.
	accessWeight = 0.2

	// recencyTauHours is the time constant for the recency component of
	// the access factor. Accesses older than a few days contribute
	// little.
	recencyTauHours = 72.0

	// DefaultDecayRatePerDay is the base λ applied during decay
	// recomputation for importance-5 records.
	DefaultDecayRatePerDay = 0.01

	// DefaultAccessBoost is the decay-factor nudge applied on each
	// retrieval hit.
	DefaultAccessBoost = 0.1
)

// Params holds tunable scoring parameters
type Params struct {
	DecayRatePerDay       float64
	AccessBoost           float64
	UsePriorityMultiplier bool
}

// DefaultParams returns the default scoring parameters
func DefaultParams() Params {
	return Params{
		DecayRatePerDay:       DefaultDecayRatePerDay,
		AccessBoost:           DefaultAccessBoost,
		UsePriorityMultiplier: true,
	}
}

// ClampImportance clamps an importance value to the valid 1-10 range
func ClampImportance(importance int) int {
	if importance < 1 {
		return 1
	}
	if importance > 10 {
		return 10
	}
	return importance
}

// ImportanceMultiplier maps the 1-10 importance scale to a score
// multiplier, linear and anchored so that importance 5 is neutral.
// Importance 1 yields 0.6, importance 10 yields 1.5.
func ImportanceMultiplier(importance int) float64 {
	importance = ClampImportance(importance)
	return 1.0 + importanceStep*float64(importance-importanceAnchor)
}

// AccessFactor rewards frequent and recent access with diminishing
// returns: logarithmic in access count, exponentially decaying in time
// since last access. The factor is always >= 1 so disuse never pushes a
// record below its similarity-and-decay baseline here; disuse is
// penalized through the decay factor instead.
func AccessFactor(accessCount int, lastAccessedAt, now time.Time) float64 {
	if accessCount <= 0 {
		return 1.0
	}

	elapsed := now.Sub(lastAccessedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	recency := math.Exp(-elapsed.Hours() / recencyTauHours)

	return 1.0 + accessWeight*math.Log1p(float64(accessCount))*recency
}

// Score computes the composite relevance score for a candidate:
//
//	score = max(similarity, floor) * decayFactor * f(importance) * g(access)
//
// A similarity of exactly 0 still yields a non-zero score; the engine
// never short-circuits on zero similarity.
func Score(similarity float64, importance, accessCount int, lastAccessedAt time.Time, decayFactor float64, now time.Time) float64 {
	sim := similarity
	if sim < minSimilarityTerm {
		sim = minSimilarityTerm
	}

	return sim * decayFactor * ImportanceMultiplier(importance) * AccessFactor(accessCount, lastAccessedAt, now)
}

// FinalScore applies the cached priority-score multiplier on top of the
// composite score when enabled.
func (p Params) FinalScore(composite, priorityScore float64) float64 {
	if !p.UsePriorityMultiplier || priorityScore <= 0 {
		return composite
	}
	return composite * priorityScore
}

// DecayRate returns the effective decay rate λ for a record, tiered by
// importance: high-importance records decay slower. Importance 5 uses
// the base rate; importance 10 decays at half of it.
func (p Params) DecayRate(importance int) float64 {
	importance = ClampImportance(importance)
	scale := 1.5 - importanceStep*float64(importance)
	return p.DecayRatePerDay * scale
}

// Decayed recomputes the decay factor after elapsed time without access:
//
//	decay' = decay * exp(-λ_eff * elapsedDays)
//
// The result is clamped to [0, 1].
func (p Params) Decayed(decayFactor float64, importance int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return clamp01(decayFactor)
	}

	days := elapsed.Hours() / 24.0
	return clamp01(decayFactor * math.Exp(-p.DecayRate(importance)*days))
}

// AfterAccess nudges the decay factor toward 1.0 following a retrieval
// hit. Access resets freshness.
func (p Params) AfterAccess(decayFactor float64) float64 {
	boost := p.AccessBoost
	if boost <= 0 {
		boost = DefaultAccessBoost
	}
	return clamp01(decayFactor + boost)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
