// Package lifecycle is the single source of truth for the order status
// sequence and the legal transitions between statuses.
package lifecycle

import "fmt"

// Status is the canonical order lifecycle state.
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusReady          Status = "ready"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusRefunded       Status = "refunded"
)

// Role identifies who is requesting a transition.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleChef     Role = "chef"
	RoleCourier  Role = "courier"
	// RoleSystem may perform any legal transition and is the only actor
	// allowed to move cancelled orders to refunded.
	RoleSystem Role = "system"
)

// forwardSequence is the happy path, one step at a time, no skipping.
var forwardSequence = []Status{
	StatusPending,
	StatusConfirmed,
	StatusPreparing,
	StatusReady,
	StatusOutForDelivery,
	StatusDelivered,
}

// transitions maps each status to the statuses reachable from it and the
// roles allowed to request each move.
var transitions = map[Status]map[Status][]Role{
	StatusPending: {
		StatusConfirmed: {RoleChef, RoleSystem},
		StatusCancelled: {RoleCustomer, RoleSystem},
	},
	StatusConfirmed: {
		StatusPreparing: {RoleChef, RoleSystem},
		StatusCancelled: {RoleCustomer, RoleSystem},
	},
	StatusPreparing: {
		StatusReady: {RoleChef, RoleSystem},
	},
	StatusReady: {
		StatusOutForDelivery: {RoleCourier, RoleSystem},
	},
	StatusOutForDelivery: {
		StatusDelivered: {RoleCourier, RoleSystem},
	},
	StatusCancelled: {
		StatusRefunded: {RoleSystem},
	},
	StatusDelivered: {},
	StatusRefunded:  {},
}

// IllegalTransitionError identifies a rejected (from, to) pair. The caller
// must not mutate any local state when it is returned.
type IllegalTransitionError struct {
	From Status
	To   Status
	Role Role
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s (as %s)", e.From, e.To, e.Role)
}

// Valid reports whether s is a member of the status enum.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transition by a non-system actor is
// possible.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}

// Cancellable reports whether a customer may still cancel from s.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Transition validates a proposed move and returns the new status. It
// performs no I/O: callers persist the result through the order service
// and apply it locally only after that service confirms.
func Transition(from, to Status, role Role) (Status, error) {
	allowed, ok := transitions[from]
	if !ok {
		return from, &IllegalTransitionError{From: from, To: to, Role: role}
	}
	roles, ok := allowed[to]
	if !ok {
		return from, &IllegalTransitionError{From: from, To: to, Role: role}
	}
	for _, r := range roles {
		if r == role {
			return to, nil
		}
	}
	return from, &IllegalTransitionError{From: from, To: to, Role: role}
}

// CanTransition reports whether some role could legally move from -> to.
func CanTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Next returns the next status on the forward sequence, or false from the
// last one and from the cancel branch.
func Next(s Status) (Status, bool) {
	for i, st := range forwardSequence {
		if st == s && i+1 < len(forwardSequence) {
			return forwardSequence[i+1], true
		}
	}
	return s, false
}

// Progress returns the percentage of the forward sequence completed at s.
// Cancelled and refunded are not part of the progress bar; they render as
// a distinct terminal state and report -1 here.
func Progress(s Status) int {
	for i, st := range forwardSequence {
		if st == s {
			return (i + 1) * 100 / len(forwardSequence)
		}
	}
	return -1
}
