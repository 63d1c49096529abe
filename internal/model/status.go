package model

import (
	"fmt"
)

// RecordStatus is the soft lifecycle marker carried by user-owned entities.
type RecordStatus int

const (
	StatusActive   RecordStatus = 1
	StatusInactive RecordStatus = 2
	StatusTrashed  RecordStatus = 3
	StatusDeleted  RecordStatus = 4 // permanently deleted, reserved for trash actions
)

func (s RecordStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	case StatusTrashed:
		return "trashed"
	case StatusDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Valid reports whether s is a known record status.
func (s RecordStatus) Valid() bool {
	return s >= StatusActive && s <= StatusDeleted
}

// TrashStatus is the state of a Trash audit row.
type TrashStatus int

const (
	TrashPending  TrashStatus = 1
	TrashDeleted  TrashStatus = 2
	TrashRestored TrashStatus = 3
)

func (s TrashStatus) String() string {
	switch s {
	case TrashPending:
		return "pending"
	case TrashDeleted:
		return "deleted"
	case TrashRestored:
		return "restored"
	default:
		return fmt.Sprintf("trash(%d)", int(s))
	}
}

// CanTransition reports whether a trash row may move from s to next.
// Rows only leave pending, and never return to it.
func (s TrashStatus) CanTransition(next TrashStatus) bool {
	return s == TrashPending && (next == TrashDeleted || next == TrashRestored)
}

// PendingStatus is the durable state of a queued scan.
type PendingStatus int

const (
	PendingQueued PendingStatus = 1
	PendingDone   PendingStatus = 2
	PendingFailed PendingStatus = 3
)

func (s PendingStatus) String() string {
	switch s {
	case PendingQueued:
		return "queued"
	case PendingDone:
		return "done"
	case PendingFailed:
		return "failed"
	default:
		return fmt.Sprintf("pending(%d)", int(s))
	}
}

// CanTransition reports whether a pending item may move from s to next.
func (s PendingStatus) CanTransition(next PendingStatus) bool {
	return s == PendingQueued && (next == PendingDone || next == PendingFailed)
}

// Terminal reports whether no further transition is allowed.
func (s PendingStatus) Terminal() bool {
	return s == PendingDone || s == PendingFailed
}
