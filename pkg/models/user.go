package models

import "time"

// DefaultUserAllocation is the storage granted to a new account (1 GiB).
const DefaultUserAllocation int64 = 1 << 30

// User is the quota account of a broker user.
type User struct {
	ID               string    `json:"id"`
	AllocatedStorage int64     `json:"allocated_storage"`
	UsedStorage      int64     `json:"used_storage"`
	CreatedAt        time.Time `json:"created_at"`
}

// Remaining returns the unused part of the user's allocation.
func (u *User) Remaining() int64 {
	return u.AllocatedStorage - u.UsedStorage
}

// Notification is an administrative alert raised by the health pipeline.
type Notification struct {
	ID            int64         `json:"id"`
	Message       string        `json:"message"`
	NodeID        string        `json:"node_id"`
	CriticalLevel CriticalLevel `json:"critical_level"`
	CreatedAt     time.Time     `json:"created_at"`
	Resolved      bool          `json:"resolved"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty"`
}
