// Package health classifies storage node availability and drives liveness probing.
package health

import (
	"time"

	"nodebroker/pkg/models"
)

const (
	// DefaultLatencyThreshold is the round trip above which a responding node is degraded.
	DefaultLatencyThreshold = 200 * time.Millisecond
	// DefaultOfflineAfter is how long a node may stay unavailable before it is marked offline.
	DefaultOfflineAfter = time.Hour
	// DefaultResourceLimit is the CPU or memory percentage treated as high usage.
	DefaultResourceLimit = 80.0
	// DefaultFailedAuthLimit is the failed authentication count that takes a node offline.
	DefaultFailedAuthLimit = 3
)

// Classifier is the availability state machine. It only mutates the node
// passed to it and never performs I/O.
type Classifier struct {
	LatencyThreshold time.Duration
	OfflineAfter     time.Duration
	ResourceLimit    float64
	FailedAuthLimit  int
}

// NewClassifier returns a classifier with default thresholds.
func NewClassifier() Classifier {
	return Classifier{
		LatencyThreshold: DefaultLatencyThreshold,
		OfflineAfter:     DefaultOfflineAfter,
		ResourceLimit:    DefaultResourceLimit,
		FailedAuthLimit:  DefaultFailedAuthLimit,
	}
}

// Transition describes the effect of one classifier event.
type Transition struct {
	Changed  bool
	Appended bool
	Record   models.AvailabilityRecord
}

// Escalated reports whether the event moved the node to High.
func (t Transition) Escalated() bool {
	return t.Changed && t.Record.Level == models.CriticalHigh
}

// RecordAvailable handles a successful probe. A degraded snapshot is reset
// without touching the downtime log, and a node that was offline is brought
// back online with a new uptime entry.
func (c Classifier) RecordAvailable(node *models.Node, now time.Time) Transition {
	var transition Transition

	if node.Availability.Level >= models.CriticalMedium {
		node.Availability = models.AvailabilityRecord{
			Level:     models.CriticalNone,
			Reason:    models.ReasonAvailable,
			Timestamp: now,
		}
		transition.Changed = true
	}

	if !node.IsOnline {
		node.IsOnline = true
		node.Uptime = append(node.Uptime, now)
		transition.Changed = true
	}

	transition.Record = node.Availability
	return transition
}

// RecordUnavailable handles a node that stopped answering. A node already
// known to be unreachable keeps its snapshot so the time it became
// unreachable is preserved, and a node at High stays at High.
func (c Classifier) RecordUnavailable(node *models.Node, now time.Time) Transition {
	current := node.Availability
	if current.Reason == models.ReasonUnavailable || current.Reason == models.ReasonOffline ||
		current.Level == models.CriticalHigh {
		return Transition{Record: current}
	}
	return degrade(node, models.CriticalMedium, models.ReasonUnavailable, now, false)
}

// RecordOffline marks the node offline.
func (c Classifier) RecordOffline(node *models.Node, now time.Time) Transition {
	return degrade(node, models.CriticalHigh, models.ReasonOffline, now, true)
}

// RecordExcessiveLatency marks a responding node as degraded by latency.
func (c Classifier) RecordExcessiveLatency(node *models.Node, now time.Time) Transition {
	return degrade(node, models.CriticalMedium, models.ReasonExcessiveLatency, now, false)
}

// RecordHighResourceUsage marks the node as degraded by CPU or memory pressure.
func (c Classifier) RecordHighResourceUsage(node *models.Node, now time.Time) Transition {
	return degrade(node, models.CriticalMedium, models.ReasonHighResourceUsage, now, false)
}

// RecordFailedAuth takes the node offline after repeated failed authentication.
func (c Classifier) RecordFailedAuth(node *models.Node, now time.Time) Transition {
	return degrade(node, models.CriticalHigh, models.ReasonFailedAuth, now, true)
}

// ExceedsLatency reports whether a round trip is over the threshold.
func (c Classifier) ExceedsLatency(latency time.Duration) bool {
	return latency > c.LatencyThreshold
}

// CheckResourceUsage records high resource usage when either CPU or memory
// is over the limit. It returns false when the node was degraded.
func (c Classifier) CheckResourceUsage(node *models.Node, usage models.ResourceUsage, now time.Time) (bool, Transition) {
	if usage.CPUPercent > c.ResourceLimit || usage.MemoryPercent() > c.ResourceLimit {
		return false, c.RecordHighResourceUsage(node, now)
	}
	return true, Transition{Record: node.Availability}
}

// CheckFailedAuth records failed authentication attempts at or above the
// limit. It returns false when the node was taken offline.
func (c Classifier) CheckFailedAuth(node *models.Node, attempts int, now time.Time) (bool, Transition) {
	if attempts >= c.FailedAuthLimit {
		return false, c.RecordFailedAuth(node, now)
	}
	return true, Transition{Record: node.Availability}
}

// ShouldGoOffline decides offline promotion from the snapshot taken before
// the current probe cycle. Only a node that was already unavailable, and has
// been for at least OfflineAfter, is promoted.
func (c Classifier) ShouldGoOffline(previous models.AvailabilityRecord, now time.Time) bool {
	if previous.Reason != models.ReasonUnavailable || previous.Timestamp.IsZero() {
		return false
	}
	return now.Sub(previous.Timestamp) >= c.OfflineAfter
}

func degrade(node *models.Node, level models.CriticalLevel, reason models.AvailabilityReason, now time.Time, goOffline bool) Transition {
	record := models.AvailabilityRecord{
		Level:     level,
		Reason:    reason,
		Timestamp: now,
	}

	node.Availability = record
	node.Downtime = append(node.Downtime, record)
	if goOffline {
		node.IsOnline = false
	}

	return Transition{Changed: true, Appended: true, Record: record}
}
