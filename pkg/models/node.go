package models

import (
	"fmt"
	"strings"
	"time"
)

// CriticalLevel is the ordered severity of a node's current health state.
type CriticalLevel int

const (
	CriticalNone CriticalLevel = iota
	CriticalLow
	CriticalMedium
	CriticalHigh
)

var criticalLevelNames = [...]string{"None", "Low", "Medium", "High"}

func (l CriticalLevel) String() string {
	if l < CriticalNone || l > CriticalHigh {
		return fmt.Sprintf("CriticalLevel(%d)", int(l))
	}
	return criticalLevelNames[l]
}

// MarshalText encodes the level by name so stored records stay readable.
func (l CriticalLevel) MarshalText() ([]byte, error) {
	if l < CriticalNone || l > CriticalHigh {
		return nil, fmt.Errorf("invalid critical level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name, case-insensitively.
func (l *CriticalLevel) UnmarshalText(text []byte) error {
	level, err := ParseCriticalLevel(string(text))
	if err != nil {
		return err
	}
	*l = level
	return nil
}

// ParseCriticalLevel parses "None", "Low", "Medium" or "High".
func ParseCriticalLevel(name string) (CriticalLevel, error) {
	for i, candidate := range criticalLevelNames {
		if strings.EqualFold(candidate, name) {
			return CriticalLevel(i), nil
		}
	}
	return CriticalNone, fmt.Errorf("unknown critical level %q", name)
}

// AvailabilityReason explains why a node reached its current level.
type AvailabilityReason string

const (
	ReasonAvailable         AvailabilityReason = "node available"
	ReasonUnavailable       AvailabilityReason = "node unavailable"
	ReasonExcessiveLatency  AvailabilityReason = "excessive latency"
	ReasonHighResourceUsage AvailabilityReason = "high resource usage"
	ReasonOffline           AvailabilityReason = "node offline"
	ReasonFailedAuth        AvailabilityReason = "failed authentication attempts"
)

// AvailabilityRecord is a health snapshot. The same shape is used for the
// current snapshot and for every downtime log entry.
type AvailabilityRecord struct {
	Level     CriticalLevel      `json:"critical_level"`
	Reason    AvailabilityReason `json:"reason,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// StorageAllocation is a used/available byte pair. Used+Available is the
// slice of node capacity assigned at registration.
type StorageAllocation struct {
	Used      int64 `json:"used"`
	Available int64 `json:"available"`
}

// Quota returns the total size of the allocation.
func (a StorageAllocation) Quota() int64 {
	return a.Used + a.Available
}

// Consume moves size bytes from available to used.
func (a *StorageAllocation) Consume(size int64) {
	a.Used += size
	a.Available -= size
}

// Release moves size bytes from used back to available.
func (a *StorageAllocation) Release(size int64) {
	a.Used -= size
	a.Available += size
}

// StorageStats is the aggregate over all sub-allocations of a node. It is
// derived on read and never persisted.
type StorageStats struct {
	Used      int64 `json:"used"`
	Available int64 `json:"available"`
}

// Node is an operator-owned storage endpoint registered with the broker.
type Node struct {
	ID                         string               `json:"id"`
	UserID                     string               `json:"user_id"`
	Name                       string               `json:"name"`
	PasswordHash               string               `json:"password_hash,omitempty"`
	Capacity                   int64                `json:"capacity"`
	AllocatedFileStorage       StorageAllocation    `json:"allocated_file_storage"`
	AllocatedDeploymentStorage StorageAllocation    `json:"allocated_deployment_storage"`
	Endpoint                   string               `json:"endpoint,omitempty"`
	Token                      string               `json:"token,omitempty"`
	IsOnline                   bool                 `json:"is_online"`
	Uptime                     []time.Time          `json:"uptime"`
	Downtime                   []AvailabilityRecord `json:"downtime"`
	Availability               AvailabilityRecord   `json:"availability"`
	Country                    string               `json:"country,omitempty"`
	City                       string               `json:"city,omitempty"`
	Region                     string               `json:"region"`
	Version                    uint64               `json:"version"`
	CreatedAt                  time.Time            `json:"created_at"`
}

// StorageStats sums both sub-allocations.
func (n *Node) StorageStats() StorageStats {
	return StorageStats{
		Used:      n.AllocatedFileStorage.Used + n.AllocatedDeploymentStorage.Used,
		Available: n.AllocatedFileStorage.Available + n.AllocatedDeploymentStorage.Available,
	}
}

// Reachable reports whether the node can be addressed for placement or reads.
func (n *Node) Reachable() bool {
	return n.IsOnline && n.Endpoint != ""
}

// Clone returns a deep copy so callers can mutate without aliasing history slices.
func (n *Node) Clone() *Node {
	clone := *n
	clone.Uptime = append([]time.Time(nil), n.Uptime...)
	clone.Downtime = append([]AvailabilityRecord(nil), n.Downtime...)
	return &clone
}

// NodeView is the public representation of a node. Credentials are omitted
// and storage stats are computed.
type NodeView struct {
	ID                         string             `json:"id"`
	UserID                     string             `json:"user_id"`
	Name                       string             `json:"name"`
	Capacity                   int64              `json:"capacity"`
	AllocatedFileStorage       StorageAllocation  `json:"allocated_file_storage"`
	AllocatedDeploymentStorage StorageAllocation  `json:"allocated_deployment_storage"`
	StorageStats               StorageStats       `json:"storage_stats"`
	Endpoint                   string             `json:"endpoint,omitempty"`
	IsOnline                   bool               `json:"is_online"`
	Availability               AvailabilityRecord `json:"availability"`
	UptimeEvents               int                `json:"uptime_events"`
	DowntimeEvents             int                `json:"downtime_events"`
	Country                    string             `json:"country,omitempty"`
	City                       string             `json:"city,omitempty"`
	Region                     string             `json:"region"`
}

// View builds the public representation of the node.
func (n *Node) View() NodeView {
	return NodeView{
		ID:                         n.ID,
		UserID:                     n.UserID,
		Name:                       n.Name,
		Capacity:                   n.Capacity,
		AllocatedFileStorage:       n.AllocatedFileStorage,
		AllocatedDeploymentStorage: n.AllocatedDeploymentStorage,
		StorageStats:               n.StorageStats(),
		Endpoint:                   n.Endpoint,
		IsOnline:                   n.IsOnline,
		Availability:               n.Availability,
		UptimeEvents:               len(n.Uptime),
		DowntimeEvents:             len(n.Downtime),
		Country:                    n.Country,
		City:                       n.City,
		Region:                     n.Region,
	}
}

// ResourceUsage is the resource report returned by a storage node.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryUsed  uint64  `json:"memory_used"`
	MemoryTotal uint64  `json:"memory_total"`
}

// MemoryPercent returns memory usage as a percentage of total.
func (r ResourceUsage) MemoryPercent() float64 {
	if r.MemoryTotal == 0 {
		return 0
	}
	return float64(r.MemoryUsed) / float64(r.MemoryTotal) * 100 //nolint:mnd
}

// AuthAttempts is the failed-authentication counter reported by a storage node.
type AuthAttempts struct {
	FailedAttempts int `json:"failed_attempts"`
}
