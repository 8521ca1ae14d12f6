package model

import (
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusCancelled   Status = "cancelled"
	StatusMissed      Status = "missed"
	StatusCompleted   Status = "completed"
	StatusRescheduled Status = "rescheduled"
)

var allStatuses = []Status{
	StatusPending, StatusApproved, StatusRejected, StatusCancelled,
	StatusMissed, StatusCompleted, StatusRescheduled,
}

func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Occupies reports whether an appointment in this status holds its slot.
func (s Status) Occupies() bool {
	return s == StatusPending || s == StatusApproved
}

// BlocksReschedule is the stricter occupancy rule applied to reschedule targets.
func (s Status) BlocksReschedule() bool {
	switch s {
	case StatusPending, StatusApproved, StatusCompleted, StatusRescheduled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled || s == StatusCompleted
}

type Action string

const (
	ActionApprove    Action = "approve"
	ActionReject     Action = "reject"
	ActionComplete   Action = "complete"
	ActionMiss       Action = "miss"
	ActionCancel     Action = "cancel"
	ActionReschedule Action = "reschedule"

	// ActionBook only appears in history; creation is not a table transition.
	ActionBook Action = "book"
)

// ProviderActions are the transitions a provider (or admin) may apply directly.
var ProviderActions = []Action{ActionApprove, ActionReject, ActionComplete, ActionMiss}

func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionApprove, ActionReject, ActionComplete, ActionMiss, ActionCancel, ActionReschedule:
		return a, nil
	}
	// Accept the resulting status as well ("approved" -> approve).
	switch Status(a) {
	case StatusApproved:
		return ActionApprove, nil
	case StatusRejected:
		return ActionReject, nil
	case StatusCompleted:
		return ActionComplete, nil
	case StatusMissed:
		return ActionMiss, nil
	case StatusCancelled:
		return ActionCancel, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

var ErrTransition = errors.New("invalid status transition")

var transitions = map[Status]map[Action]Status{
	StatusPending: {
		ActionApprove:    StatusApproved,
		ActionReject:     StatusRejected,
		ActionCancel:     StatusCancelled,
		ActionReschedule: StatusPending,
	},
	StatusApproved: {
		ActionComplete: StatusCompleted,
		ActionMiss:     StatusMissed,
	},
	StatusMissed: {
		ActionCancel:     StatusCancelled,
		ActionReschedule: StatusPending,
	},
	StatusRescheduled: {
		ActionApprove: StatusApproved,
		ActionReject:  StatusRejected,
	},
}

// Transition returns the status reached by applying action to from.
func Transition(from Status, action Action) (Status, error) {
	if to, ok := transitions[from][action]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%w: cannot %s a %s appointment", ErrTransition, action, from)
}
